package opengraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultUserAgent 在未配置 CrawlerUserAgent 时使用。
	DefaultUserAgent = "Mozilla/5.0 (compatible; og-card/1.0; purpose=link-preview; twitterbot-compatible)"
	// DefaultFaviconService 根据 domain 查询参数返回站点图标。
	DefaultFaviconService = "https://www.google.com/s2/favicons"
	// DefaultMaxResponseSize 限制单个页面或图片的响应体大小。
	DefaultMaxResponseSize int64 = 10 * 1024 * 1024
)

// FetcherOptions 控制抓取器的 HTTP 客户端与限制。
type FetcherOptions struct {
	Client          *http.Client
	MaxResponseSize int64
	FaviconService  string
}

// Fetcher 负责抓取页面元数据与图片，可被多个 goroutine 并发使用。
type Fetcher struct {
	client         *http.Client
	maxBytes       int64
	faviconService string
}

// NewFetcher 构造抓取器，零值选项回退到默认值。
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	maxBytes := opts.MaxResponseSize
	if maxBytes <= 0 {
		maxBytes = DefaultMaxResponseSize
	}
	service := strings.TrimSpace(opts.FaviconService)
	if service == "" {
		service = DefaultFaviconService
	}
	return &Fetcher{
		client:         client,
		maxBytes:       maxBytes,
		faviconService: service,
	}
}

// FetchMetadata 抓取页面并提取卡片数据。缺失的字段保持为空，标题回退为页面 URL。
func (f *Fetcher) FetchMetadata(ctx context.Context, rawURL, userAgent string) (*Data, error) {
	if !IsValidURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	body, header, err := f.get(ctx, rawURL, userAgent, "text/html,application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	if mediaType := contentType(header); mediaType != "" && !strings.Contains(mediaType, "html") {
		return nil, fmt.Errorf("%w: %s", ErrNotHTML, mediaType)
	}

	page, err := parsePage(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	data := &Data{
		URL:         rawURL,
		Title:       page.Title,
		Description: page.Description,
		DisplayURL:  rawURL,
		ImageAlt:    page.ImageAlt,
		ImageWidth:  page.ImageWidth,
		ImageHeight: page.ImageHeight,
	}
	if data.Title == "" {
		data.Title = rawURL
	}
	if page.Image != "" {
		data.ImageURL = resolveReference(rawURL, page.Image)
	}
	if page.HasIcon {
		data.FaviconURL = f.FaviconURL(rawURL)
	}
	return data, nil
}

// FetchImage 下载图片并完整缓冲到内存，写盘前调用方即可得知是否成功。
func (f *Fetcher) FetchImage(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	if !IsValidURL(rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	body, header, err := f.get(ctx, rawURL, userAgent, "image/*")
	if err != nil {
		return nil, err
	}
	if mediaType := contentType(header); strings.HasPrefix(mediaType, "text/") {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, mediaType)
	}
	return body, nil
}

// FaviconURL 返回站点图标服务地址，例如 https://www.google.com/s2/favicons?domain=example.com。
func (f *Fetcher) FaviconURL(pageURL string) string {
	host := Hostname(pageURL)
	if host == "" {
		return ""
	}
	return f.faviconService + "?domain=" + url.QueryEscape(host)
}

func (f *Fetcher) get(ctx context.Context, rawURL, userAgent, accept string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		if isTimeoutError(err) {
			return nil, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	if resp.ContentLength > f.maxBytes {
		return nil, nil, fmt.Errorf("%w: content length %d exceeds %d bytes", ErrResponseTooLarge, resp.ContentLength, f.maxBytes)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		if isTimeoutError(err) || ctx.Err() != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, nil, fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, f.maxBytes)
	}
	return body, resp.Header, nil
}

func contentType(header http.Header) string {
	raw := header.Get("Content-Type")
	if raw == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	return mediaType
}

func resolveReference(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
