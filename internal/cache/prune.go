package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/tidwall/gjson"

	"github.com/og-card/og-card/internal/fsutil"
)

// Janitor 按最大存活时长清理缓存目录树。
type Janitor struct {
	fs     afero.Fs
	logger *logrus.Logger
	now    func() time.Time
	index  *IndexStore
}

// NewJanitor 构造清理器；index 为空时使用同一 Options 新建索引存储。
func NewJanitor(index *IndexStore, opts Options) *Janitor {
	opts = opts.normalize()
	if index == nil {
		index = NewIndexStore(opts)
	}
	return &Janitor{
		fs:     opts.Fs,
		logger: opts.Logger,
		now:    opts.Now,
		index:  index,
	}
}

// Prune 递归删除 dir 下过期或无法判断新鲜度的条目，返回删除的文件数。
// 过期判断关闭或目录不存在时不做任何事；每个目录的索引最多重写一次。
func (j *Janitor) Prune(ctx context.Context, dir string, maxAge MaxAge) (int, error) {
	if !maxAge.Enabled() || !fsutil.DirExists(j.fs, dir) {
		return 0, nil
	}
	return j.pruneDir(ctx, dir, maxAge, j.now())
}

func (j *Janitor) pruneDir(ctx context.Context, dir string, maxAge MaxAge, now time.Time) (int, error) {
	entries, err := afero.ReadDir(j.fs, dir)
	if err != nil {
		return 0, fmt.Errorf("read cache directory %s: %w", dir, err)
	}

	index := j.index.Read(dir)
	var dropped []string
	var sweepErr error
	removed := 0

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			sweepErr = err
			break
		}

		name := entry.Name()
		entryPath := filepath.Join(dir, name)
		if entry.IsDir() {
			n, err := j.pruneDir(ctx, entryPath, maxAge, now)
			removed += n
			if err != nil {
				sweepErr = err
				break
			}
			continue
		}
		// 中断写入残留的临时文件按修改时间过期。
		if fsutil.IsTempName(name) {
			if IsExpiredAt(now, entry.ModTime().UnixMilli(), maxAge) && j.remove(entryPath) {
				removed++
			}
			continue
		}
		if isReservedName(name) {
			continue
		}

		if strings.HasSuffix(name, MetadataSuffix) {
			if j.metadataStale(entryPath, maxAge, now) && j.remove(entryPath) {
				removed++
			}
			continue
		}

		record, ok := index[name]
		if ok && !IsExpiredAt(now, record.CreatedAt, maxAge) {
			continue
		}
		if j.remove(entryPath) {
			removed++
			dropped = append(dropped, name)
		}
	}

	if len(dropped) == 0 {
		return removed, sweepErr
	}

	// 已删除的文件必须从索引中移除，即使清理被取消。
	err = j.index.Update(context.WithoutCancel(ctx), dir, func(idx Index) bool {
		for _, name := range dropped {
			delete(idx, name)
		}
		return true
	})
	if err != nil {
		return removed, fmt.Errorf("rewrite cache index %s: %w", dir, err)
	}

	j.logger.WithFields(logrus.Fields{
		"action":  "cache_prune",
		"dir":     dir,
		"removed": len(dropped),
		"max_age": maxAge.String(),
	}).Debug("cache_index_pruned")
	return removed, sweepErr
}

// metadataStale 对无法解析、缺少数值 cachedAt 或已过期的元数据条目返回 true。
func (j *Janitor) metadataStale(path string, maxAge MaxAge, now time.Time) bool {
	raw, err := afero.ReadFile(j.fs, path)
	if err != nil || !gjson.ValidBytes(raw) {
		return true
	}
	cachedAt := gjson.GetBytes(raw, "cachedAt")
	if cachedAt.Type != gjson.Number {
		return true
	}
	return IsExpiredAt(now, cachedAt.Int(), maxAge)
}

func (j *Janitor) remove(path string) bool {
	if err := j.fs.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		j.logger.WithFields(logrus.Fields{
			"action": "cache_prune",
			"path":   path,
		}).WithError(err).Warn("cache_entry_remove_failed")
		return false
	}
	return true
}
