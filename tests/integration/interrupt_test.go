package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/og-card/og-card/internal/cache"
	"github.com/og-card/og-card/internal/fsutil"
	"github.com/og-card/og-card/internal/opengraph"
)

func TestTruncatedImageLeavesNoFiles(t *testing.T) {
	stub := newUpstreamStub(t)
	defer stub.Close()

	dir := t.TempDir()
	serverCache, err := cache.NewServerCache(cache.ServerCacheOptions{
		Dir:          dir,
		MaxAge:       cache.DefaultMaxAge,
		UserAgent:    stubUserAgent,
		FetchTimeout: 5 * time.Second,
		Fetcher:      opengraph.NewFetcher(opengraph.FetcherOptions{}),
	})
	if err != nil {
		t.Fatalf("server cache init error: %v", err)
	}

	if _, ok := serverCache.ResolveImage(context.Background(), stub.URL+"/images/truncated.png"); ok {
		t.Fatalf("expected truncated download to fail")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if fsutil.IsTempName(entry.Name()) || entry.Name() == cache.Key(stub.URL+"/images/truncated.png", true) {
			t.Fatalf("no partial files should remain, found %s", entry.Name())
		}
	}
	if len(cache.NewIndexStore(cache.Options{}).Read(dir)) != 0 {
		t.Fatalf("failed downloads must not be indexed")
	}
}
