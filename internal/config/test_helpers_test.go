package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/og-card/og-card/internal/cache"
)

func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      4321,
			LogLevel:        "info",
			FetchTimeout:    Duration(10 * time.Second),
			MaxResponseSize: 1024,
			Concurrency:     2,
			FaviconService:  "https://www.google.com/s2/favicons",
		},
		Card: CardConfig{
			Loading:  "lazy",
			Decoding: "async",
		},
		Cache: CacheConfig{
			ServerCache:       true,
			ServerCachePath:   "./public",
			ServerCacheMaxAge: cache.DefaultMaxAge,
			BuildCachePath:    "./.cache",
			BuildCacheMaxAge:  cache.DefaultMaxAge,
		},
	}
}
