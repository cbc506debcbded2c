package opengraph

import (
	"io"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// pageMeta 保存从 HTML 中提取的原始字段，尚未做 URL 解析与回退。
type pageMeta struct {
	Title       string
	Description string
	Image       string
	ImageAlt    string
	ImageWidth  int
	ImageHeight int
	HasIcon     bool
}

func parsePage(r io.Reader) (*pageMeta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	meta := &pageMeta{}
	var imageFallback string

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				property := strings.ToLower(getAttr(n, "property"))
				content := strings.TrimSpace(getAttr(n, "content"))
				switch property {
				case "og:title":
					setOnce(&meta.Title, content)
				case "og:description":
					setOnce(&meta.Description, content)
				case "og:image":
					setOnce(&meta.Image, content)
				case "og:image:url", "og:image:secure_url":
					setOnce(&imageFallback, content)
				case "og:image:alt":
					setOnce(&meta.ImageAlt, content)
				case "og:image:width":
					setDimension(&meta.ImageWidth, content)
				case "og:image:height":
					setDimension(&meta.ImageHeight, content)
				}
			case "link":
				if isIconRel(getAttr(n, "rel")) && strings.TrimSpace(getAttr(n, "href")) != "" {
					meta.HasIcon = true
				}
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	if meta.Image == "" {
		meta.Image = imageFallback
	}
	return meta, nil
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func setOnce(dst *string, value string) {
	if *dst == "" {
		*dst = value
	}
}

func setDimension(dst *int, value string) {
	if *dst != 0 {
		return
	}
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		*dst = parsed
	}
}

// isIconRel 识别 icon、shortcut icon、apple-touch-icon 等写法。
func isIconRel(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if strings.Contains(token, "icon") {
			return true
		}
	}
	return false
}
