package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/og-card/og-card/internal/cache"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：日志、抓取与预览服务。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	CrawlerUserAgent string   `mapstructure:"CrawlerUserAgent"`
	FetchTimeout     Duration `mapstructure:"FetchTimeout"`
	MaxResponseSize  int64    `mapstructure:"MaxResponseSize"`
	Concurrency      int      `mapstructure:"Concurrency"`
	FaviconService   string   `mapstructure:"FaviconService"`
}

// CardConfig 控制哪些链接会被转换以及卡片的渲染属性。
type CardConfig struct {
	ExcludeDomains              []string `mapstructure:"ExcludeDomains"`
	Decoding                    string   `mapstructure:"Decoding"`
	Loading                     string   `mapstructure:"Loading"`
	ShortenURL                  bool     `mapstructure:"ShortenURL"`
	OpenInNewTab                bool     `mapstructure:"OpenInNewTab"`
	EnableSameTextURLConversion bool     `mapstructure:"EnableSameTextURLConversion"`
}

// CacheConfig 描述服务端缓存与构建缓存的位置与过期策略。
type CacheConfig struct {
	ServerCache       bool         `mapstructure:"ServerCache"`
	ServerCachePath   string       `mapstructure:"ServerCachePath"`
	ServerCacheMaxAge cache.MaxAge `mapstructure:"ServerCacheMaxAge"`
	BuildCache        bool         `mapstructure:"BuildCache"`
	BuildCachePath    string       `mapstructure:"BuildCachePath"`
	BuildCacheMaxAge  cache.MaxAge `mapstructure:"BuildCacheMaxAge"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Card   CardConfig   `mapstructure:"Card"`
	Cache  CacheConfig  `mapstructure:"Cache"`
}

// ServerCacheDir 返回服务端缓存实际使用的目录 <ServerCachePath>/rehype-og-card。
func (c CacheConfig) ServerCacheDir() string {
	return filepath.Join(c.ServerCachePath, cache.DirName)
}

// BuildCacheDir 返回构建缓存实际使用的目录 <BuildCachePath>/rehype-og-card。
func (c CacheConfig) BuildCacheDir() string {
	return filepath.Join(c.BuildCachePath, cache.DirName)
}

// CacheModes 输出缓存层开关摘要，例如 server:on build:off，供启动日志使用。
func (c CacheConfig) CacheModes() []string {
	return []string{
		"server:" + onOff(c.ServerCache) + ":" + c.ServerCacheMaxAge.String(),
		"build:" + onOff(c.BuildCache) + ":" + c.BuildCacheMaxAge.String(),
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
