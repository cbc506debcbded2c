package server

import (
	"net"
	"net/http"
	"time"

	"github.com/og-card/og-card/internal/config"
	"github.com/og-card/og-card/internal/opengraph"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewFetchClient 返回抓取页面与图片共用的 http.Client，超时取自 FetchTimeout。
func NewFetchClient(cfg *config.Config) *http.Client {
	timeout := 10 * time.Second
	if cfg != nil && cfg.Global.FetchTimeout.DurationValue() > 0 {
		timeout = cfg.Global.FetchTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// NewFetcher 基于配置构造 OG 元数据与图片抓取器。
func NewFetcher(cfg *config.Config) *opengraph.Fetcher {
	opts := opengraph.FetcherOptions{Client: NewFetchClient(cfg)}
	if cfg != nil {
		opts.MaxResponseSize = cfg.Global.MaxResponseSize
		opts.FaviconService = cfg.Global.FaviconService
	}
	return opengraph.NewFetcher(opts)
}
