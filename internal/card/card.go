// Package card renders preview-card markup as golang.org/x/net/html nodes so
// the result can be spliced into a parsed document. Text and attribute values
// are escaped by the HTML renderer when the document is serialized.
package card

import (
	"strconv"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/og-card/og-card/internal/opengraph"
)

// Options 控制图片加载属性与链接打开方式。
type Options struct {
	Loading      string
	Decoding     string
	OpenInNewTab bool
}

// DefaultOptions 与 HTML 默认推荐保持一致：懒加载 + 异步解码。
func DefaultOptions() Options {
	return Options{Loading: "lazy", Decoding: "async"}
}

// Build 生成 div.og-card-container 卡片节点。
func Build(data opengraph.Data, opts Options) *html.Node {
	if opts.Loading == "" {
		opts.Loading = "lazy"
	}
	if opts.Decoding == "" {
		opts.Decoding = "async"
	}

	linkAttrs := []html.Attribute{{Key: "href", Val: data.URL}}
	if opts.OpenInNewTab {
		linkAttrs = append(linkAttrs,
			html.Attribute{Key: "rel", Val: "noopener noreferrer"},
			html.Attribute{Key: "target", Val: "_blank"},
		)
	}

	info := element(atom.Div, "og-card-info", nil,
		textElement(atom.Div, "og-card-title", data.Title),
	)
	if data.Description != "" {
		info.AppendChild(textElement(atom.Div, "og-card-description", data.Description))
	}

	faviconAttrs := []html.Attribute{
		{Key: "alt", Val: "favicon"},
		{Key: "decoding", Val: opts.Decoding},
		{Key: "height", Val: "16"},
		{Key: "loading", Val: opts.Loading},
	}
	if data.FaviconURL != "" {
		faviconAttrs = append(faviconAttrs, html.Attribute{Key: "src", Val: data.FaviconURL})
	}
	faviconAttrs = append(faviconAttrs, html.Attribute{Key: "width", Val: "16"})

	info.AppendChild(element(atom.Div, "og-card-url-container", nil,
		element(atom.Img, "og-card-favicon", faviconAttrs),
		textElement(atom.Span, "og-card-url", data.DisplayURL),
	))

	link := element(atom.A, "", linkAttrs, info)
	if data.ImageURL != "" {
		link.AppendChild(element(atom.Div, "og-card-image-container", nil,
			element(atom.Img, "og-card-image", imageAttrs(data, opts)),
		))
	}

	return element(atom.Div, "og-card-container", nil, link)
}

func imageAttrs(data opengraph.Data, opts Options) []html.Attribute {
	alt := data.ImageAlt
	if alt == "" {
		alt = data.ImageURL
	}
	attrs := []html.Attribute{
		{Key: "alt", Val: alt},
		{Key: "decoding", Val: opts.Decoding},
	}
	if data.ImageHeight > 0 {
		attrs = append(attrs, html.Attribute{Key: "height", Val: strconv.Itoa(data.ImageHeight)})
	}
	attrs = append(attrs,
		html.Attribute{Key: "loading", Val: opts.Loading},
		html.Attribute{Key: "src", Val: data.ImageURL},
	)
	if data.ImageWidth > 0 {
		attrs = append(attrs, html.Attribute{Key: "width", Val: strconv.Itoa(data.ImageWidth)})
	}
	return attrs
}

func element(tag atom.Atom, class string, attrs []html.Attribute, children ...*html.Node) *html.Node {
	if class != "" {
		attrs = append([]html.Attribute{{Key: "class", Val: class}}, attrs...)
	}
	n := &html.Node{
		Type:     html.ElementNode,
		DataAtom: tag,
		Data:     tag.String(),
		Attr:     attrs,
	}
	for _, child := range children {
		n.AppendChild(child)
	}
	return n
}

func textElement(tag atom.Atom, class, text string) *html.Node {
	return element(tag, class, nil, &html.Node{Type: html.TextNode, Data: text})
}
