package cache

import (
	"encoding/hex"
	"net/url"
	"path"
	"strings"

	"github.com/minio/sha256-simd"
)

// Key 以 URL 的 SHA-256 十六进制摘要作为缓存文件名，可选附带 URL 路径的扩展名。
func Key(rawURL string, includeExt bool) string {
	sum := sha256.Sum256([]byte(rawURL))
	key := hex.EncodeToString(sum[:])
	if !includeExt {
		return key
	}
	return key + urlExtension(rawURL)
}

// MetadataKey 返回元数据条目的文件名 <key>.json。
func MetadataKey(rawURL string) string {
	return Key(rawURL, false) + MetadataSuffix
}

// urlExtension 取 URL 路径最后一段的扩展名；.json 会被丢弃以免与元数据条目混淆。
func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := extname(parsed.EscapedPath())
	if strings.EqualFold(ext, MetadataSuffix) {
		return ""
	}
	return ext
}

// extname 与 path.Ext 不同：仅以点开头的文件名（如 .env）没有扩展名。
func extname(p string) string {
	base := path.Base(p)
	if base == ".." {
		return ""
	}
	idx := strings.LastIndexByte(base, '.')
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}
