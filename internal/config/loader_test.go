package config

import (
	"testing"
	"time"

	"github.com/og-card/og-card/internal/cache"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
FetchTimeout = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsInvalidMaxAge(t *testing.T) {
	for _, value := range []string{`true`, `-5`, `"soon"`, `"-1h"`} {
		path := writeTempConfig(t, "[Cache]\nServerCacheMaxAge = "+value+"\n")
		if _, err := Load(path); err == nil {
			t.Fatalf("无效 MaxAge %s 应失败", value)
		}
	}
}

func TestLoadMaxAgeForms(t *testing.T) {
	testCases := []struct {
		raw  string
		want cache.MaxAge
	}{
		{`false`, cache.Disabled},
		{`"off"`, cache.Disabled},
		{`60000`, cache.MaxAge(time.Minute)},
		{`"90m"`, cache.MaxAge(90 * time.Minute)},
		{`"2d"`, cache.MaxAge(48 * time.Hour)},
		{`"1500"`, cache.MaxAge(1500 * time.Millisecond)},
		{`0`, cache.MaxAge(0)},
	}
	for _, tc := range testCases {
		path := writeTempConfig(t, "[Cache]\nBuildCacheMaxAge = "+tc.raw+"\n")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("%s 解析失败: %v", tc.raw, err)
		}
		if cfg.Cache.BuildCacheMaxAge != tc.want {
			t.Fatalf("%s 解析为 %s, want %s", tc.raw, cfg.Cache.BuildCacheMaxAge, tc.want)
		}
	}
}
