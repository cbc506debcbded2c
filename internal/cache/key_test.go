package cache

import (
	"regexp"
	"strings"
	"testing"
)

var hexKey = regexp.MustCompile(`^[0-9a-f]{64}$`)

func TestKeyIsDeterministicAndDistinct(t *testing.T) {
	a := Key("https://example.com/a.png", true)
	if a != Key("https://example.com/a.png", true) {
		t.Fatalf("相同 URL 应得到相同 key")
	}
	if a == Key("https://example.com/b.png", true) {
		t.Fatalf("不同 URL 不应得到相同 key")
	}
	if !hexKey.MatchString(Key("https://example.com/a.png", false)) {
		t.Fatalf("key 应为 64 位小写十六进制: %s", Key("https://example.com/a.png", false))
	}
}

func TestKeyExtension(t *testing.T) {
	cases := map[string]string{
		"https://example.com/a.png":           ".png",
		"https://example.com/a.tar.gz":        ".gz",
		"https://example.com/img.jpg?w=100":   ".jpg",
		"https://example.com/path/":           "",
		"https://example.com/.hidden":         "",
		"https://example.com/s2/favicons?x=1": "",
		"https://example.com/data.json":       "",
		"https://example.com/DATA.JSON":       "",
	}
	for raw, want := range cases {
		key := Key(raw, true)
		base := Key(raw, false)
		if !strings.HasPrefix(key, base) {
			t.Fatalf("%s: 带扩展名的 key 应以哈希开头", raw)
		}
		if got := strings.TrimPrefix(key, base); got != want {
			t.Fatalf("%s: 扩展名 = %q, want %q", raw, got, want)
		}
	}
}

func TestMetadataKey(t *testing.T) {
	raw := "https://example.com/post"
	if MetadataKey(raw) != Key(raw, false)+".json" {
		t.Fatalf("元数据文件名应为 <key>.json")
	}
}
