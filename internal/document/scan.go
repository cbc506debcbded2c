package document

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/og-card/og-card/internal/opengraph"
)

// Link 是一个可转换为卡片的裸链接。
type Link struct {
	URL       string
	Node      *html.Node
	Paragraph *html.Node
}

// ScanOptions 控制链接筛选规则。
type ScanOptions struct {
	EnableSameTextURLConversion bool
	ExcludeDomains              []string
}

// Scan 按文档顺序返回所有符合条件的链接：链接必须是 <p> 的唯一子节点，
// 不能位于列表内，且主机名不在排除列表中。
func Scan(root *html.Node, opts ScanOptions) []Link {
	excluded := make(map[string]struct{}, len(opts.ExcludeDomains))
	for _, domain := range opts.ExcludeDomains {
		excluded[strings.ToLower(strings.TrimSpace(domain))] = struct{}{}
	}

	var links []Link
	var walk func(n *html.Node, inList bool)
	walk = func(n *html.Node, inList bool) {
		if rawURL, ok := candidateURL(n, opts.EnableSameTextURLConversion); ok {
			if link, ok := eligible(n, rawURL, inList, excluded); ok {
				links = append(links, link)
				return
			}
		}

		if n.Type == html.ElementNode && (n.DataAtom == atom.Ul || n.DataAtom == atom.Ol) {
			inList = true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, inList)
		}
	}
	walk(root, false)
	return links
}

func candidateURL(n *html.Node, sameText bool) (string, bool) {
	switch n.Type {
	case html.TextNode:
		trimmed := strings.TrimSpace(n.Data)
		if opengraph.IsValidURL(trimmed) {
			return trimmed, true
		}
	case html.ElementNode:
		if !sameText || n.DataAtom != atom.A {
			return "", false
		}
		href, ok := attr(n, "href")
		if !ok || !opengraph.IsValidURL(href) {
			return "", false
		}
		child := n.FirstChild
		if child != nil && child.NextSibling == nil && child.Type == html.TextNode && child.Data == href {
			return href, true
		}
	}
	return "", false
}

func eligible(n *html.Node, rawURL string, inList bool, excluded map[string]struct{}) (Link, bool) {
	parent := n.Parent
	if parent == nil || parent.Type != html.ElementNode || parent.DataAtom != atom.P {
		return Link{}, false
	}
	if inList {
		return Link{}, false
	}
	if parent.FirstChild != n || n.NextSibling != nil {
		return Link{}, false
	}
	if _, skip := excluded[strings.ToLower(opengraph.Hostname(rawURL))]; skip {
		return Link{}, false
	}
	return Link{URL: rawURL, Node: n, Paragraph: parent}, true
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
