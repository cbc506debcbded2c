package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/og-card/og-card/internal/fsutil"
	"github.com/og-card/og-card/internal/opengraph"
)

// DefaultFetchTimeout 限制单次图片下载的耗时。
const DefaultFetchTimeout = 10 * time.Second

// ImageFetcher 下载图片并返回完整响应体。
type ImageFetcher interface {
	FetchImage(ctx context.Context, rawURL, userAgent string) ([]byte, error)
}

// ServerCacheOptions 描述发布目录内图片缓存的位置、策略与依赖。
type ServerCacheOptions struct {
	Options
	Dir          string
	MaxAge       MaxAge
	UserAgent    string
	FetchTimeout time.Duration
	Fetcher      ImageFetcher
	Index        *IndexStore
}

// ServerCache 将远程图片落盘到发布目录，命中时直接复用本地文件。
type ServerCache struct {
	fs        afero.Fs
	logger    *logrus.Logger
	now       func() time.Time
	index     *IndexStore
	fetcher   ImageFetcher
	dir       string
	maxAge    MaxAge
	userAgent string
	timeout   time.Duration

	group singleflight.Group
}

// NewServerCache 校验必需依赖并构造图片缓存。
func NewServerCache(opts ServerCacheOptions) (*ServerCache, error) {
	if opts.Dir == "" {
		return nil, errors.New("server cache directory required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("image fetcher required")
	}
	base := opts.Options.normalize()
	index := opts.Index
	if index == nil {
		index = NewIndexStore(base)
	}
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &ServerCache{
		fs:        base.Fs,
		logger:    base.Logger,
		now:       base.Now,
		index:     index,
		fetcher:   opts.Fetcher,
		dir:       opts.Dir,
		maxAge:    opts.MaxAge,
		userAgent: opts.UserAgent,
		timeout:   timeout,
	}, nil
}

// Dir 返回缓存目录。
func (c *ServerCache) Dir() string { return c.dir }

// Path 返回缓存文件的完整路径。
func (c *ServerCache) Path(filename string) string {
	return filepath.Join(c.dir, filename)
}

// ResolveImage 返回图片在缓存目录中的文件名。任何失败都会记录日志并返回 ok=false，
// 调用方应省略对应的图片而不是中断处理。
func (c *ServerCache) ResolveImage(ctx context.Context, rawURL string) (string, bool) {
	fields := logrus.Fields{
		"action": "resolve_image",
		"url":    rawURL,
		"dir":    c.dir,
	}
	if !opengraph.IsValidURL(rawURL) {
		c.logger.WithFields(fields).Warn("image_url_rejected")
		return "", false
	}

	key := Key(rawURL, true)
	// 共享的下载不随任何一个调用方取消，只受 c.timeout 约束；各调用方只等待自己的 ctx。
	shared := context.WithoutCancel(ctx)
	results := c.group.DoChan(key, func() (interface{}, error) {
		return c.resolve(shared, rawURL, key, fields)
	})
	select {
	case <-ctx.Done():
		c.logger.WithFields(fields).WithError(ctx.Err()).Warn("image_resolve_canceled")
		return "", false
	case res := <-results:
		if res.Err != nil {
			c.logger.WithFields(fields).WithError(res.Err).Warn("image_resolve_failed")
			return "", false
		}
		return res.Val.(string), true
	}
}

func (c *ServerCache) resolve(ctx context.Context, rawURL, key string, fields logrus.Fields) (string, error) {
	target := c.Path(key)
	if fsutil.FileExists(c.fs, target) {
		if !c.maxAge.Enabled() {
			c.logger.WithFields(fields).Debug("image_cache_hit")
			return key, nil
		}
		record, ok := c.index.Read(c.dir)[key]
		if ok && !IsExpiredAt(c.now(), record.CreatedAt, c.maxAge) {
			c.logger.WithFields(fields).Debug("image_cache_hit")
			return key, nil
		}
		c.evict(ctx, key, fields)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	body, err := c.fetcher.FetchImage(fetchCtx, rawURL, c.userAgent)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}

	if err := fsutil.EnsureDir(c.fs, c.dir); err != nil {
		return "", err
	}
	if err := fsutil.WriteFileAtomic(c.fs, target, body); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}

	createdAt := c.now().UnixMilli()
	err = c.index.Update(ctx, c.dir, func(idx Index) bool {
		idx[key] = IndexRecord{CreatedAt: createdAt}
		return true
	})
	if err != nil {
		return "", fmt.Errorf("record image: %w", err)
	}

	c.logger.WithFields(fields).WithField("bytes", len(body)).Debug("image_cache_stored")
	return key, nil
}

// evict 删除过期文件及其索引记录，失败只记录日志，后续下载会覆盖该文件。
func (c *ServerCache) evict(ctx context.Context, key string, fields logrus.Fields) {
	if err := c.fs.Remove(c.Path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.WithFields(fields).WithError(err).Warn("image_evict_failed")
	}
	err := c.index.Update(ctx, c.dir, func(idx Index) bool {
		if _, ok := idx[key]; !ok {
			return false
		}
		delete(idx, key)
		return true
	})
	if err != nil {
		c.logger.WithFields(fields).WithError(err).Warn("image_evict_failed")
	}
	c.logger.WithFields(fields).Debug("image_cache_expired")
}
