package routes

import (
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/og-card/og-card/internal/cache"
	"github.com/og-card/og-card/internal/config"
	"github.com/og-card/og-card/internal/server"
)

// CacheSource 描述一个可被诊断接口列出的缓存目录。
type CacheSource struct {
	Name   string
	Dir    string
	MaxAge cache.MaxAge
}

// CacheSources 根据配置返回已开启的缓存目录。
func CacheSources(cfg config.CacheConfig) []CacheSource {
	var sources []CacheSource
	if cfg.ServerCache {
		sources = append(sources, CacheSource{Name: "server", Dir: cfg.ServerCacheDir(), MaxAge: cfg.ServerCacheMaxAge})
	}
	if cfg.BuildCache {
		sources = append(sources, CacheSource{Name: "build", Dir: cfg.BuildCacheDir(), MaxAge: cfg.BuildCacheMaxAge})
	}
	return sources
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，列出各缓存目录索引中的条目与过期状态。
func RegisterCacheRoutes(app *fiber.App, index *cache.IndexStore, sources []CacheSource, now func() time.Time) {
	if app == nil || index == nil {
		return
	}
	if now == nil {
		now = time.Now
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		at := now()
		payload := make([]cachePayload, 0, len(sources))
		for _, source := range sources {
			payload = append(payload, encodeCache(source, index.Read(source.Dir), at))
		}
		return c.JSON(fiber.Map{
			"request_id": server.RequestID(c),
			"caches":     payload,
		})
	})

	app.Get("/-/cache/:name", func(c fiber.Ctx) error {
		name := strings.ToLower(strings.TrimSpace(c.Params("name")))
		for _, source := range sources {
			if source.Name == name {
				return c.JSON(encodeCache(source, index.Read(source.Dir), now()))
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_not_found"})
	})
}

type cachePayload struct {
	Name    string         `json:"name"`
	Dir     string         `json:"dir"`
	MaxAge  string         `json:"max_age"`
	Entries []entryPayload `json:"entries"`
}

type entryPayload struct {
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	AgeSeconds int64  `json:"age_seconds"`
	Expired    bool   `json:"expired"`
}

func encodeCache(source CacheSource, idx cache.Index, now time.Time) cachePayload {
	entries := make([]entryPayload, 0, len(idx))
	for name, record := range idx {
		created := time.UnixMilli(record.CreatedAt)
		entries = append(entries, entryPayload{
			Name:       name,
			CreatedAt:  created.UTC().Format(time.RFC3339),
			AgeSeconds: int64(now.Sub(created) / time.Second),
			Expired:    cache.IsExpiredAt(now, record.CreatedAt, source.MaxAge),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return cachePayload{
		Name:    source.Name,
		Dir:     source.Dir,
		MaxAge:  source.MaxAge.String(),
		Entries: entries,
	}
}
