// Package document parses HTML input, finds bare links that qualify for a
// preview card and swaps them for rendered card nodes.
package document

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document 包装解析后的节点树；片段模式下 Root 是承载片段节点的虚拟根。
type Document struct {
	Root     *html.Node
	fragment bool
}

// Parse 以完整 HTML 文档解析输入。
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return &Document{Root: root}, nil
}

// ParseFragment 以 <body> 为上下文解析 HTML 片段，渲染时不会补全 html/head/body。
func ParseFragment(r io.Reader) (*Document, error) {
	body := &html.Node{Type: html.ElementNode, DataAtom: atom.Body, Data: "body"}
	nodes, err := html.ParseFragment(r, body)
	if err != nil {
		return nil, err
	}
	root := &html.Node{Type: html.DocumentNode}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return &Document{Root: root, fragment: true}, nil
}

// Render 将节点树序列化为 HTML。
func (d *Document) Render(w io.Writer) error {
	if !d.fragment {
		return html.Render(w, d.Root)
	}
	for c := d.Root.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(w, c); err != nil {
			return err
		}
	}
	return nil
}

// String 返回渲染结果，渲染失败时返回空串。
func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// ErrDetached 表示链接节点已不在原父节点下，无法替换。
var ErrDetached = errors.New("link node is no longer attached to its paragraph")

// Replace 用卡片节点替换链接节点；失败时原节点保持不变。
func Replace(link Link, card *html.Node) error {
	if card == nil || card.Parent != nil {
		return errors.New("card node must be detached")
	}
	if link.Node == nil || link.Node.Parent == nil || link.Node.Parent != link.Paragraph {
		return ErrDetached
	}
	link.Paragraph.InsertBefore(card, link.Node)
	link.Paragraph.RemoveChild(link.Node)
	return nil
}
