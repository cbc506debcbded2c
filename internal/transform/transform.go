// Package transform wires the link scanner, the metadata fetcher, both cache
// tiers and the card renderer into a single pass over an HTML tree. Links are
// resolved concurrently; the tree itself is only mutated after every
// resolution has finished.
package transform

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
	"golang.org/x/net/html"

	"github.com/og-card/og-card/internal/cache"
	"github.com/og-card/og-card/internal/card"
	"github.com/og-card/og-card/internal/config"
	"github.com/og-card/og-card/internal/document"
	"github.com/og-card/og-card/internal/logging"
	"github.com/og-card/og-card/internal/opengraph"
)

// PublicPrefix 是缓存图片在发布站点中的 URL 前缀。
const PublicPrefix = "/" + cache.DirName

// ErrBuildCacheRequiresServerCache 表示开启了构建缓存却关闭了服务端缓存。
var ErrBuildCacheRequiresServerCache = errors.New("build cache requires server cache to be enabled")

// Fetcher 抓取页面元数据与图片。
type Fetcher interface {
	FetchMetadata(ctx context.Context, rawURL, userAgent string) (*opengraph.Data, error)
	cache.ImageFetcher
}

// Dependencies 汇总 Transformer 的外部依赖，零值字段使用默认实现。
type Dependencies struct {
	Fs      afero.Fs
	Logger  *logrus.Logger
	Now     func() time.Time
	Fetcher Fetcher
}

// Transformer 把文档中的裸链接替换为 OG 卡片。
type Transformer struct {
	logger      *logrus.Logger
	fetcher     Fetcher
	server      *cache.ServerCache
	build       *cache.BuildCache
	userAgent   string
	concurrency int
	shortenURL  bool
	scanOpts    document.ScanOptions
	cardOpts    card.Options
	runID       string

	saves conc.WaitGroup
}

// New 根据配置构造 Transformer；配置组合非法时返回错误。
func New(cfg *config.Config, deps Dependencies) (*Transformer, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	if cfg.Cache.BuildCache && !cfg.Cache.ServerCache {
		return nil, ErrBuildCacheRequiresServerCache
	}
	if deps.Fetcher == nil {
		return nil, errors.New("fetcher required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	concurrency := cfg.Global.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	base := cache.Options{Fs: deps.Fs, Logger: logger, Now: deps.Now}
	index := cache.NewIndexStore(base)

	t := &Transformer{
		logger:      logger,
		fetcher:     deps.Fetcher,
		userAgent:   cfg.Global.CrawlerUserAgent,
		concurrency: concurrency,
		shortenURL:  cfg.Card.ShortenURL,
		scanOpts: document.ScanOptions{
			EnableSameTextURLConversion: cfg.Card.EnableSameTextURLConversion,
			ExcludeDomains:              cfg.Card.ExcludeDomains,
		},
		cardOpts: card.Options{
			Loading:      cfg.Card.Loading,
			Decoding:     cfg.Card.Decoding,
			OpenInNewTab: cfg.Card.OpenInNewTab,
		},
		runID: uuid.NewString(),
	}

	if cfg.Cache.ServerCache {
		server, err := cache.NewServerCache(cache.ServerCacheOptions{
			Options:      base,
			Dir:          cfg.Cache.ServerCacheDir(),
			MaxAge:       cfg.Cache.ServerCacheMaxAge,
			UserAgent:    cfg.Global.CrawlerUserAgent,
			FetchTimeout: cfg.Global.FetchTimeout.DurationValue(),
			Fetcher:      deps.Fetcher,
			Index:        index,
		})
		if err != nil {
			return nil, fmt.Errorf("init server cache: %w", err)
		}
		t.server = server
	}
	if cfg.Cache.BuildCache {
		build, err := cache.NewBuildCache(cache.BuildCacheOptions{
			Options: base,
			Dir:     cfg.Cache.BuildCacheDir(),
			MaxAge:  cfg.Cache.BuildCacheMaxAge,
			Index:   index,
		})
		if err != nil {
			return nil, fmt.Errorf("init build cache: %w", err)
		}
		t.build = build
	}
	return t, nil
}

// RunID 返回本次运行的标识，写入每条日志的 run_id 字段。
func (t *Transformer) RunID() string { return t.runID }

// Setup 在首次转换前把构建缓存恢复到服务端缓存目录。
func (t *Transformer) Setup(ctx context.Context) error {
	if t.build == nil {
		return nil
	}
	if err := t.build.Restore(ctx, t.server.Dir()); err != nil {
		return fmt.Errorf("restore build cache: %w", err)
	}
	return nil
}

// Transform 扫描 root 中的裸链接并原地替换为卡片，返回成功替换的数量。
func (t *Transformer) Transform(ctx context.Context, root *html.Node) (int, error) {
	links := document.Scan(root, t.scanOpts)
	if len(links) == 0 {
		return 0, nil
	}

	cards := make([]*html.Node, len(links))
	p := pool.New().WithMaxGoroutines(t.concurrency)
	for i, link := range links {
		p.Go(func() {
			cards[i] = t.resolveLink(ctx, link)
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	replaced := 0
	for i, link := range links {
		if cards[i] == nil {
			continue
		}
		if err := document.Replace(link, cards[i]); err != nil {
			t.logger.WithFields(logrus.Fields{
				"action": "link_replace_failed",
				"run_id": t.runID,
				"url":    link.URL,
			}).WithError(err).Warn("link_replace_failed")
			continue
		}
		replaced++
	}
	return replaced, nil
}

// Wait 等待所有后台构建缓存写入完成，进程退出前必须调用。
func (t *Transformer) Wait() {
	t.saves.Wait()
}

func (t *Transformer) resolveLink(ctx context.Context, link document.Link) *html.Node {
	if ctx.Err() != nil {
		return nil
	}
	data, fromBuild := t.metadata(ctx, link.URL)
	if data == nil {
		return nil
	}

	view := *data
	if t.server != nil {
		view.ImageURL = t.localize(ctx, view.ImageURL)
		view.FaviconURL = t.localize(ctx, view.FaviconURL)
	}
	if t.shortenURL {
		if host := opengraph.Hostname(link.URL); host != "" {
			view.DisplayURL = host
		}
	}

	t.logger.WithFields(logging.LinkFields(t.runID, link.URL, fromBuild)).
		WithField("action", "link_resolved").Debug("link_resolved")
	return card.Build(view, t.cardOpts)
}

// metadata 优先读取构建缓存，未命中时抓取并回写。
func (t *Transformer) metadata(ctx context.Context, rawURL string) (*opengraph.Data, bool) {
	if t.build != nil {
		if data, ok := t.build.RestoreMetadata(ctx, rawURL); ok {
			return data, true
		}
	}

	data, err := t.fetcher.FetchMetadata(ctx, rawURL, t.userAgent)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"action": "link_metadata_failed",
			"run_id": t.runID,
			"url":    rawURL,
		}).WithError(err).Warn("link_metadata_failed")
		return nil, false
	}

	if t.build != nil {
		if err := t.build.SaveMetadata(ctx, rawURL, *data); err != nil {
			t.logger.WithFields(logrus.Fields{
				"action": "build_cache_metadata_save_failed",
				"run_id": t.runID,
				"url":    rawURL,
			}).WithError(err).Warn("build_cache_metadata_save_failed")
		}
	}
	return data, false
}

// localize 把远程图片替换为发布目录中的本地路径；失败时返回空串以省略该图片。
func (t *Transformer) localize(ctx context.Context, remote string) string {
	if remote == "" {
		return ""
	}
	filename, ok := t.server.ResolveImage(ctx, remote)
	if !ok {
		return ""
	}
	if t.build != nil {
		t.saveArtifact(ctx, filename)
	}
	return path.Join(PublicPrefix, filename)
}

func (t *Transformer) saveArtifact(ctx context.Context, filename string) {
	bg := context.WithoutCancel(ctx)
	serverFile := t.server.Path(filename)
	buildFile := t.build.Path(filename)
	t.saves.Go(func() {
		if err := t.build.SaveArtifact(bg, serverFile, buildFile); err != nil {
			t.logger.WithFields(logrus.Fields{
				"action":   "build_cache_artifact_save_failed",
				"run_id":   t.runID,
				"filename": filename,
			}).WithError(err).Warn("build_cache_artifact_save_failed")
		}
	})
}
