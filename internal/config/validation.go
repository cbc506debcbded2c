package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	supportedLoading  = map[string]struct{}{"lazy": {}, "eager": {}}
	supportedDecoding = map[string]struct{}{"async": {}, "sync": {}, "auto": {}}
)

// Validate 针对语义级别做进一步校验，防止非法配置进入处理流程。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.FetchTimeout.DurationValue() <= 0 {
		return newFieldError("Global.FetchTimeout", "必须大于 0")
	}
	if g.MaxResponseSize <= 0 {
		return newFieldError("Global.MaxResponseSize", "必须大于 0")
	}
	if g.Concurrency <= 0 {
		return newFieldError("Global.Concurrency", "必须大于 0")
	}
	if err := validateServiceURL(g.FaviconService); err != nil {
		return fmt.Errorf("Global.FaviconService: %w", err)
	}

	if err := c.validateCard(); err != nil {
		return err
	}
	return c.validateCache()
}

func (c *Config) validateCard() error {
	card := &c.Card
	loading := strings.ToLower(strings.TrimSpace(card.Loading))
	if _, ok := supportedLoading[loading]; !ok {
		return newFieldError(sectionField("Card", "Loading"), "仅支持 lazy|eager")
	}
	card.Loading = loading

	decoding := strings.ToLower(strings.TrimSpace(card.Decoding))
	if _, ok := supportedDecoding[decoding]; !ok {
		return newFieldError(sectionField("Card", "Decoding"), "仅支持 async|sync|auto")
	}
	card.Decoding = decoding

	for i, domain := range card.ExcludeDomains {
		if err := validateDomain(domain); err != nil {
			return fmt.Errorf("%s[%d]: %w", sectionField("Card", "ExcludeDomains"), i, err)
		}
		card.ExcludeDomains[i] = strings.ToLower(domain)
	}
	return nil
}

func (c *Config) validateCache() error {
	cc := c.Cache
	if cc.BuildCache && !cc.ServerCache {
		return newFieldError(sectionField("Cache", "BuildCache"), "需要同时启用 ServerCache")
	}
	if cc.ServerCache && strings.TrimSpace(cc.ServerCachePath) == "" {
		return newFieldError(sectionField("Cache", "ServerCachePath"), "不能为空")
	}
	if cc.BuildCache && strings.TrimSpace(cc.BuildCachePath) == "" {
		return newFieldError(sectionField("Cache", "BuildCachePath"), "不能为空")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("域名不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("域名不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("域名不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") && strings.Contains(domain, ":") {
		return errors.New("域名不应包含协议头")
	}
	return nil
}

func validateServiceURL(raw string) error {
	if raw == "" {
		return errors.New("缺少服务地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
