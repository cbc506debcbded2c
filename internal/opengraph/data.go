// Package opengraph fetches link-preview metadata and preview images over
// HTTP. Pages are parsed with golang.org/x/net/html; og:* meta tags provide
// the title, description and image, and a declared icon link enables the
// favicon lookup through a favicon service keyed by hostname.
package opengraph

import (
	"net/url"
	"strings"
)

// Data 是渲染预览卡片所需的全部字段，JSON 字段名与缓存中的元数据条目一致。
type Data struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DisplayURL  string `json:"displayURL"`
	FaviconURL  string `json:"faviconURL,omitempty"`
	ImageURL    string `json:"OGImageURL,omitempty"`
	ImageAlt    string `json:"OGImageAlt,omitempty"`
	ImageWidth  int    `json:"OGImageWidth,omitempty"`
	ImageHeight int    `json:"OGImageHeight,omitempty"`
}

// IsValidURL 仅接受带 Host 的 http/https 地址。
func IsValidURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// Hostname 返回 URL 的主机名（不含端口），解析失败时返回空串。
func Hostname(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
