package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/og-card/og-card/internal/fsutil"
	"github.com/og-card/og-card/internal/opengraph"
)

// BuildCacheOptions 描述跨进程持久缓存的位置与过期策略。
type BuildCacheOptions struct {
	Options
	Dir     string
	MaxAge  MaxAge
	Index   *IndexStore
	Janitor *Janitor
}

// BuildCache 在发布目录之外保存图片与元数据，供下一次运行恢复。
type BuildCache struct {
	fs      afero.Fs
	logger  *logrus.Logger
	now     func() time.Time
	index   *IndexStore
	janitor *Janitor
	dir     string
	maxAge  MaxAge
}

// metadataRecord 是落盘的元数据条目，cachedAt 仅在缓存内部使用。
type metadataRecord struct {
	opengraph.Data
	CachedAt int64 `json:"cachedAt"`
}

// NewBuildCache 构造构建缓存；未提供的索引存储与清理器会基于 Options 新建。
func NewBuildCache(opts BuildCacheOptions) (*BuildCache, error) {
	if opts.Dir == "" {
		return nil, errors.New("build cache directory required")
	}
	base := opts.Options.normalize()
	index := opts.Index
	if index == nil {
		index = NewIndexStore(base)
	}
	janitor := opts.Janitor
	if janitor == nil {
		janitor = NewJanitor(index, base)
	}
	return &BuildCache{
		fs:      base.Fs,
		logger:  base.Logger,
		now:     base.Now,
		index:   index,
		janitor: janitor,
		dir:     opts.Dir,
		maxAge:  opts.MaxAge,
	}, nil
}

// Dir 返回构建缓存目录。
func (b *BuildCache) Dir() string { return b.dir }

// Path 返回构建缓存中文件的完整路径。
func (b *BuildCache) Path(filename string) string {
	return filepath.Join(b.dir, filename)
}

// Restore 先按构建缓存的过期策略清理，再把剩余条目复制到 serverDir。
// 构建缓存的索引记录会合并进 serverDir 对应目录的索引，服务端独有的记录保持不变。
func (b *BuildCache) Restore(ctx context.Context, serverDir string) error {
	if !fsutil.DirExists(b.fs, b.dir) {
		return nil
	}

	removed, err := b.janitor.Prune(ctx, b.dir, b.maxAge)
	if err != nil {
		return fmt.Errorf("prune build cache: %w", err)
	}

	skipReserved := func(_ string, info os.FileInfo) bool {
		return !info.IsDir() && isReservedName(info.Name())
	}
	if err := fsutil.CopyDir(ctx, b.fs, b.dir, serverDir, skipReserved); err != nil {
		return fmt.Errorf("copy build cache: %w", err)
	}
	if err := b.mergeIndexes(ctx, serverDir); err != nil {
		return fmt.Errorf("merge build cache index: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"action":     "build_cache_restore",
		"build_dir":  b.dir,
		"server_dir": serverDir,
		"pruned":     removed,
	}).Info("build_cache_restored")
	return nil
}

func (b *BuildCache) mergeIndexes(ctx context.Context, serverDir string) error {
	return afero.Walk(b.fs, b.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		records := b.index.Read(path)
		if len(records) == 0 {
			return nil
		}
		rel, err := filepath.Rel(b.dir, path)
		if err != nil {
			return err
		}
		return b.index.Update(ctx, filepath.Join(serverDir, rel), func(idx Index) bool {
			changed := false
			for name, record := range records {
				if current, ok := idx[name]; ok && current == record {
					continue
				}
				idx[name] = record
				changed = true
			}
			return changed
		})
	})
}

// SaveArtifact 在构建缓存中尚无副本时复制服务端文件（先写者胜出，已有副本不会被覆盖），
// 并以服务端索引中的创建时间（缺失时为当前时间）登记到构建缓存索引。
func (b *BuildCache) SaveArtifact(ctx context.Context, serverFile, buildFile string) error {
	if fsutil.FileExists(b.fs, serverFile) && !fsutil.FileExists(b.fs, buildFile) {
		if err := fsutil.CopyFile(ctx, b.fs, serverFile, buildFile); err != nil {
			return fmt.Errorf("copy artifact: %w", err)
		}
	}
	if !fsutil.FileExists(b.fs, buildFile) {
		return nil
	}

	name := filepath.Base(buildFile)
	createdAt := b.now().UnixMilli()
	if record, ok := b.index.Read(filepath.Dir(serverFile))[name]; ok {
		createdAt = record.CreatedAt
	}

	return b.index.Update(ctx, filepath.Dir(buildFile), func(idx Index) bool {
		if current, ok := idx[name]; ok && current.CreatedAt == createdAt {
			return false
		}
		idx[name] = IndexRecord{CreatedAt: createdAt}
		return true
	})
}

// SaveMetadata 将元数据连同 cachedAt 写入 <key>.json，总是覆盖旧记录。
func (b *BuildCache) SaveMetadata(ctx context.Context, rawURL string, data opengraph.Data) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(metadataRecord{Data: data, CachedAt: b.now().UnixMilli()})
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := fsutil.WriteFileAtomic(b.fs, b.metadataPath(rawURL), payload); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// RestoreMetadata 读取 URL 对应的元数据。无法解析视为未命中；缺少 cachedAt 时仅在
// 关闭过期判断的情况下返回，否则与过期条目一样被删除。返回值不包含 cachedAt。
func (b *BuildCache) RestoreMetadata(ctx context.Context, rawURL string) (*opengraph.Data, bool) {
	path := b.metadataPath(rawURL)
	fields := logrus.Fields{
		"action": "restore_metadata",
		"url":    rawURL,
		"path":   path,
	}

	raw, err := afero.ReadFile(b.fs, path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			b.logger.WithFields(fields).WithError(err).Warn("metadata_unreadable")
		}
		return nil, false
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		b.logger.WithFields(fields).Warn("metadata_invalid")
		return nil, false
	}

	var data opengraph.Data
	if err := json.Unmarshal(raw, &data); err != nil {
		b.logger.WithFields(fields).WithError(err).Warn("metadata_invalid")
		return nil, false
	}

	cachedAt := gjson.GetBytes(raw, "cachedAt")
	if cachedAt.Type != gjson.Number {
		if !b.maxAge.Enabled() {
			return &data, true
		}
		b.discard(path, fields, "metadata_malformed")
		return nil, false
	}
	if IsExpiredAt(b.now(), cachedAt.Int(), b.maxAge) {
		b.discard(path, fields, "metadata_expired")
		return nil, false
	}
	if err := ctx.Err(); err != nil {
		return nil, false
	}
	return &data, true
}

func (b *BuildCache) metadataPath(rawURL string) string {
	return filepath.Join(b.dir, MetadataKey(rawURL))
}

func (b *BuildCache) discard(path string, fields logrus.Fields, reason string) {
	if err := b.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		b.logger.WithFields(fields).WithError(err).Warn("metadata_remove_failed")
		return
	}
	b.logger.WithFields(fields).Debug(reason)
}
