package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/og-card/og-card/internal/opengraph"
)

func newTestServerCache(t *testing.T, dir string, maxAge MaxAge, fetcher ImageFetcher, clock *fakeClock) (*ServerCache, *IndexStore) {
	t.Helper()
	opts := testOptions(afero.NewOsFs(), clock)
	index := NewIndexStore(opts)
	cache, err := NewServerCache(ServerCacheOptions{
		Options: opts,
		Dir:     dir,
		MaxAge:  maxAge,
		Fetcher: fetcher,
		Index:   index,
	})
	if err != nil {
		t.Fatalf("构造 ServerCache 失败: %v", err)
	}
	return cache, index
}

func TestResolveImageHitsCacheWhenExpiryDisabled(t *testing.T) {
	const url = "https://img.example/cover.png"
	dir := filepath.Join(t.TempDir(), "rehype-og-card")
	fetcher := newStubFetcher("png-bytes")
	cache, _ := newTestServerCache(t, dir, Disabled, fetcher, newFakeClock())

	first, ok := cache.ResolveImage(context.Background(), url)
	if !ok {
		t.Fatalf("首次解析应成功")
	}
	if first != Key(url, true) {
		t.Fatalf("文件名应为 key: %s", first)
	}
	info, err := os.Stat(filepath.Join(dir, first))
	if err != nil {
		t.Fatalf("文件应已写入: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	second, ok := cache.ResolveImage(context.Background(), url)
	if !ok || second != first {
		t.Fatalf("第二次解析应命中: %s %v", second, ok)
	}
	if fetcher.Calls(url) != 1 {
		t.Fatalf("命中时不应再次下载, calls=%d", fetcher.Calls(url))
	}
	infoAfter, _ := os.Stat(filepath.Join(dir, first))
	if !infoAfter.ModTime().Equal(info.ModTime()) {
		t.Fatalf("命中时文件不应被重写")
	}
}

func TestResolveImageRefetchesStaleEntry(t *testing.T) {
	const url = "https://img.example/cover.png"
	dir := t.TempDir()
	clock := newFakeClock()
	fetcher := newStubFetcher("png-bytes")
	cache, index := newTestServerCache(t, dir, MaxAge(time.Hour), fetcher, clock)

	key, ok := cache.ResolveImage(context.Background(), url)
	if !ok {
		t.Fatalf("首次解析应成功")
	}
	firstInfo, _ := os.Stat(filepath.Join(dir, key))
	firstRecord := index.Read(dir)[key]

	if _, ok := cache.ResolveImage(context.Background(), url); !ok || fetcher.Calls(url) != 1 {
		t.Fatalf("未过期时应命中缓存, calls=%d", fetcher.Calls(url))
	}

	stale := Index{key: {CreatedAt: clock.Now().Add(-2 * time.Hour).UnixMilli()}}
	if err := index.Write(context.Background(), dir, stale); err != nil {
		t.Fatalf("改写索引失败: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	clock.Advance(time.Minute)

	if _, ok := cache.ResolveImage(context.Background(), url); !ok {
		t.Fatalf("重新下载应成功")
	}
	if fetcher.Calls(url) != 2 {
		t.Fatalf("过期后应重新下载, calls=%d", fetcher.Calls(url))
	}
	secondInfo, _ := os.Stat(filepath.Join(dir, key))
	if !secondInfo.ModTime().After(firstInfo.ModTime()) {
		t.Fatalf("文件修改时间应增加")
	}
	if got := index.Read(dir)[key].CreatedAt; got <= firstRecord.CreatedAt {
		t.Fatalf("索引时间戳应增加: %d <= %d", got, firstRecord.CreatedAt)
	}
}

func TestResolveImageRefetchesUnindexedFile(t *testing.T) {
	const url = "https://img.example/orphan.jpg"
	dir := t.TempDir()
	fetcher := newStubFetcher("fresh")
	cache, index := newTestServerCache(t, dir, MaxAge(time.Hour), fetcher, newFakeClock())

	key := Key(url, true)
	if err := os.WriteFile(filepath.Join(dir, key), []byte("old"), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	if _, ok := cache.ResolveImage(context.Background(), url); !ok {
		t.Fatalf("解析应成功")
	}
	if fetcher.Calls(url) != 1 {
		t.Fatalf("无索引记录的文件应重新下载")
	}
	data, _ := os.ReadFile(filepath.Join(dir, key))
	if string(data) != "fresh" {
		t.Fatalf("文件内容应被替换: %s", data)
	}
	if _, ok := index.Read(dir)[key]; !ok {
		t.Fatalf("应写入索引记录")
	}
}

func TestResolveImageFailures(t *testing.T) {
	dir := t.TempDir()
	fetcher := newStubFetcher("")
	fetcher.err = errStubFetch
	cache, index := newTestServerCache(t, dir, MaxAge(time.Hour), fetcher, newFakeClock())

	if _, ok := cache.ResolveImage(context.Background(), "ftp://img.example/a.png"); ok {
		t.Fatalf("非 http/https 地址应被拒绝")
	}
	if fetcher.Calls("ftp://img.example/a.png") != 0 {
		t.Fatalf("被拒绝的地址不应发起下载")
	}
	if _, ok := cache.ResolveImage(context.Background(), "https://img.example/a.png"); ok {
		t.Fatalf("下载失败应返回 ok=false")
	}
	if len(index.Read(dir)) != 0 {
		t.Fatalf("失败时不应写入索引")
	}
}

func TestResolveImageWithHTTPFetcher(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/forbidden.png" {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	cache, _ := newTestServerCache(t, dir, Disabled, opengraph.NewFetcher(opengraph.FetcherOptions{}), newFakeClock())

	key, ok := cache.ResolveImage(context.Background(), server.URL+"/ok.png")
	if !ok || filepath.Ext(key) != ".png" {
		t.Fatalf("解析应成功并保留扩展名: %s %v", key, ok)
	}
	if _, ok := cache.ResolveImage(context.Background(), server.URL+"/forbidden.png"); ok {
		t.Fatalf("非 2xx 响应应返回 ok=false")
	}
	if ok, _ := afero.Exists(afero.NewOsFs(), filepath.Join(dir, Key(server.URL+"/forbidden.png", true))); ok {
		t.Fatalf("失败时不应落盘")
	}
	if hits.Load() != 2 {
		t.Fatalf("上游请求次数不符: %d", hits.Load())
	}
}

// blockingFetcher 在 release 关闭前阻塞下载，用于构造并发等待同一 key 的场景。
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *blockingFetcher) FetchImage(ctx context.Context, rawURL, userAgent string) ([]byte, error) {
	if f.calls.Add(1) == 1 {
		close(f.started)
	}
	select {
	case <-f.release:
		return []byte("png-bytes"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestResolveImageCancelDoesNotFailOtherWaiters(t *testing.T) {
	const url = "https://img.example/shared.png"
	dir := filepath.Join(t.TempDir(), "rehype-og-card")
	fetcher := &blockingFetcher{started: make(chan struct{}), release: make(chan struct{})}
	cache, index := newTestServerCache(t, dir, DefaultMaxAge, fetcher, newFakeClock())

	ctxA, cancelA := context.WithCancel(context.Background())
	resultA := make(chan bool, 1)
	go func() {
		_, ok := cache.ResolveImage(ctxA, url)
		resultA <- ok
	}()
	<-fetcher.started

	resultB := make(chan bool, 1)
	go func() {
		_, ok := cache.ResolveImage(context.Background(), url)
		resultB <- ok
	}()
	// 给第二个调用方加入同一次下载的时间
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if ok := <-resultA; ok {
		t.Fatalf("已取消的调用方应返回 ok=false")
	}
	close(fetcher.release)

	select {
	case ok := <-resultB:
		if !ok {
			t.Fatalf("未取消的调用方不应受其他调用方取消的影响")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("等待第二个调用方超时")
	}

	if _, err := os.Stat(filepath.Join(dir, Key(url, true))); err != nil {
		t.Fatalf("共享下载应完成并落盘: %v", err)
	}
	if _, ok := index.Read(dir)[Key(url, true)]; !ok {
		t.Fatalf("共享下载完成后应写入索引")
	}
}
