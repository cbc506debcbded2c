package config

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/og-card/og-card/internal/cache"
	"github.com/og-card/og-card/internal/opengraph"
)

// defaultMaxAgeMillis 为 30 天，与 cache.DefaultMaxAge 一致。
const defaultMaxAgeMillis = 2592000000

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		maxAgeDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyCardDefaults(&cfg.Card)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absolutize(&cfg.Cache.ServerCachePath); err != nil {
		return nil, fmt.Errorf("无法解析服务端缓存目录: %w", err)
	}
	if err := absolutize(&cfg.Cache.BuildCachePath); err != nil {
		return nil, fmt.Errorf("无法解析构建缓存目录: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 4321)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CrawlerUserAgent", opengraph.DefaultUserAgent)
	v.SetDefault("FetchTimeout", "10s")
	v.SetDefault("MaxResponseSize", opengraph.DefaultMaxResponseSize)
	v.SetDefault("Concurrency", 8)
	v.SetDefault("FaviconService", opengraph.DefaultFaviconService)

	v.SetDefault("Card.ExcludeDomains", []string{})
	v.SetDefault("Card.Decoding", "async")
	v.SetDefault("Card.Loading", "lazy")
	v.SetDefault("Card.ShortenURL", true)
	v.SetDefault("Card.OpenInNewTab", false)
	v.SetDefault("Card.EnableSameTextURLConversion", false)

	v.SetDefault("Cache.ServerCache", true)
	v.SetDefault("Cache.ServerCachePath", "./public")
	v.SetDefault("Cache.ServerCacheMaxAge", defaultMaxAgeMillis)
	v.SetDefault("Cache.BuildCache", false)
	v.SetDefault("Cache.BuildCachePath", "./.cache")
	v.SetDefault("Cache.BuildCacheMaxAge", defaultMaxAgeMillis)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 4321
	}
	if g.FetchTimeout.DurationValue() == 0 {
		g.FetchTimeout = Duration(10 * time.Second)
	}
	if strings.TrimSpace(g.CrawlerUserAgent) == "" {
		g.CrawlerUserAgent = opengraph.DefaultUserAgent
	}
}

func applyCardDefaults(c *CardConfig) {
	if strings.TrimSpace(c.Loading) == "" {
		c.Loading = "lazy"
	}
	if strings.TrimSpace(c.Decoding) == "" {
		c.Decoding = "async"
	}
}

func absolutize(path *string) error {
	if *path == "" {
		return nil
	}
	abs, err := filepath.Abs(*path)
	if err != nil {
		return err
	}
	*path = abs
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// maxAgeDecodeHook 支持 false / "off" 关闭过期、Go Duration 字符串（额外支持 d 天）、
// 以及纯数字毫秒值。
func maxAgeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(cache.MaxAge(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case bool:
			if v {
				return nil, errors.New("MaxAge 仅接受 false 表示关闭过期")
			}
			return cache.Disabled, nil
		case string:
			return parseMaxAge(v)
		case int:
			return maxAgeFromMillis(float64(v))
		case int64:
			return maxAgeFromMillis(float64(v))
		case float64:
			return maxAgeFromMillis(v)
		case time.Duration:
			if v < 0 {
				return nil, fmt.Errorf("MaxAge 不能为负数: %s", v)
			}
			return cache.MaxAge(v), nil
		case cache.MaxAge:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 MaxAge 类型: %T", v)
		}
	}
}

func parseMaxAge(raw string) (cache.MaxAge, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch value {
	case "":
		return 0, errors.New("MaxAge 不能为空")
	case "false", "off", "disabled", "never":
		return cache.Disabled, nil
	}

	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.ParseFloat(days, 64)
		if err != nil {
			return 0, fmt.Errorf("无法解析 MaxAge 字段: %s", raw)
		}
		return maxAgeFromMillis(n * float64(24*time.Hour/time.Millisecond))
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		if parsed < 0 {
			return 0, fmt.Errorf("MaxAge 不能为负数: %s", raw)
		}
		return cache.MaxAge(parsed), nil
	}
	if millis, err := strconv.ParseFloat(value, 64); err == nil {
		return maxAgeFromMillis(millis)
	}
	return 0, fmt.Errorf("无法解析 MaxAge 字段: %s", raw)
}

func maxAgeFromMillis(ms float64) (cache.MaxAge, error) {
	if ms < 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0, fmt.Errorf("MaxAge 必须为非负毫秒数: %v", ms)
	}
	if ms > float64(math.MaxInt64/int64(time.Millisecond)) {
		return 0, fmt.Errorf("MaxAge 超出范围: %v", ms)
	}
	return cache.MaxAge(time.Duration(ms * float64(time.Millisecond))), nil
}
