package opengraph

import "errors"

var (
	// ErrInvalidURL 表示 URL 不是可抓取的 http/https 地址。
	ErrInvalidURL = errors.New("invalid URL")
	// ErrUnexpectedStatus 表示上游返回了非 2xx 状态码。
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// ErrNotHTML 表示页面响应不是 HTML 文档。
	ErrNotHTML = errors.New("response is not an HTML document")
	// ErrNotImage 表示图片地址返回了文本内容。
	ErrNotImage = errors.New("response is not an image")
	// ErrResponseTooLarge 表示响应体超过配置的上限。
	ErrResponseTooLarge = errors.New("response body too large")
	// ErrTimeout 表示请求超时或 context 被取消。
	ErrTimeout = errors.New("request timed out")
)
