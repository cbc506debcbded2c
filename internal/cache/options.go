package cache

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// DefaultLockRetries 与 DefaultLockDelay 共同决定等待索引锁的最长时间（约 1 秒）。
	DefaultLockRetries uint64 = 50
	DefaultLockDelay          = 20 * time.Millisecond
)

// Options 汇总各缓存组件共享的依赖，零值字段会回退到默认实现。
type Options struct {
	Fs          afero.Fs
	Logger      *logrus.Logger
	Now         func() time.Time
	LockRetries uint64
	LockDelay   time.Duration
}

func (o Options) normalize() Options {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
		o.Logger.SetOutput(io.Discard)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.LockRetries == 0 {
		o.LockRetries = DefaultLockRetries
	}
	if o.LockDelay <= 0 {
		o.LockDelay = DefaultLockDelay
	}
	return o
}
