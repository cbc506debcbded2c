package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// lock 通过 O_EXCL 创建锁标记获取索引写锁。重试耗尽或出现其他错误时不加锁继续，
// 返回的 release 只会删除本次创建的标记。
func (s *IndexStore) lock(ctx context.Context, dir string) func() {
	lockPath := filepath.Join(dir, LockFilename)
	backoff := retry.WithMaxRetries(s.retries, retry.NewConstant(s.delay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		f, err := s.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return retry.RetryableError(err)
			}
			return err
		}
		_ = f.Close()
		return nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "cache_index_lock",
			"path":   lockPath,
		}).WithError(err).Warn("cache_index_lock_unavailable")
		return func() {}
	}

	return func() {
		if err := s.fs.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithFields(logrus.Fields{
				"action": "cache_index_unlock",
				"path":   lockPath,
			}).WithError(err).Warn("cache_index_unlock_failed")
		}
	}
}
