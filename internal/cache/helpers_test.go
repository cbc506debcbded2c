package cache

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// fakeClock 提供可手动推进的时钟。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubFetcher 记录每个 URL 的下载次数，返回固定内容或错误。
type stubFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	body  []byte
	err   error
}

func newStubFetcher(body string) *stubFetcher {
	return &stubFetcher{calls: make(map[string]int), body: []byte(body)}
}

func (f *stubFetcher) FetchImage(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[rawURL]++
	if f.err != nil {
		return nil, f.err
	}
	return append([]byte(nil), f.body...), nil
}

func (f *stubFetcher) Calls(rawURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[rawURL]
}

var errStubFetch = errors.New("stub fetch failed")

func testOptions(fsys afero.Fs, clock *fakeClock) Options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return Options{
		Fs:          fsys,
		Logger:      logger,
		Now:         clock.Now,
		LockRetries: 3,
		LockDelay:   time.Millisecond,
	}
}
