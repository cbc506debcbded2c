package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

func TestIndexReadFailsOpen(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewIndexStore(testOptions(fsys, newFakeClock()))

	if idx := store.Read("/cache"); len(idx) != 0 {
		t.Fatalf("缺失的索引应读为空: %v", idx)
	}

	payloads := []string{
		"{not json",
		`["a"]`,
		`{"a.png": {"createdAt": "yesterday"}}`,
		`{"a.png": {}}`,
		`null`,
	}
	for _, payload := range payloads {
		if err := afero.WriteFile(fsys, "/cache/cache.json", []byte(payload), 0o644); err != nil {
			t.Fatalf("写入索引失败: %v", err)
		}
		if idx := store.Read("/cache"); len(idx) != 0 {
			t.Fatalf("损坏的索引 %q 应读为空: %v", payload, idx)
		}
	}
}

func TestIndexWriteRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rehype-og-card")
	store := NewIndexStore(testOptions(afero.NewOsFs(), newFakeClock()))

	want := Index{
		"a.png": {CreatedAt: 1000},
		"b.jpg": {CreatedAt: 2000},
	}
	if err := store.Write(context.Background(), dir, want); err != nil {
		t.Fatalf("写入索引失败: %v", err)
	}

	got := store.Read(dir)
	if len(got) != len(want) {
		t.Fatalf("索引条目数不符: %v", got)
	}
	for name, record := range want {
		if got[name] != record {
			t.Fatalf("%s 记录不符: %+v", name, got[name])
		}
	}
	if _, err := os.Stat(filepath.Join(dir, LockFilename)); !os.IsNotExist(err) {
		t.Fatalf("写入完成后锁文件应被删除: %v", err)
	}
}

func TestIndexReadAcceptsFractionalTimestamps(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewIndexStore(testOptions(fsys, newFakeClock()))
	if err := afero.WriteFile(fsys, "/cache/cache.json", []byte(`{"a.png":{"createdAt":1700000000000.5}}`), 0o644); err != nil {
		t.Fatalf("写入索引失败: %v", err)
	}
	if got := store.Read("/cache")["a.png"].CreatedAt; got != 1700000000000 {
		t.Fatalf("createdAt 解析不符: %d", got)
	}
}

func TestIndexWriteProceedsWhenLockIsHeld(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewIndexStore(testOptions(fsys, newFakeClock()))
	if err := afero.WriteFile(fsys, "/cache/cache.json.lock", nil, 0o644); err != nil {
		t.Fatalf("创建锁文件失败: %v", err)
	}

	if err := store.Write(context.Background(), "/cache", Index{"a.png": {CreatedAt: 1}}); err != nil {
		t.Fatalf("锁不可用时写入应继续: %v", err)
	}
	if store.Read("/cache")["a.png"].CreatedAt != 1 {
		t.Fatalf("索引应已写入")
	}
	if ok, _ := afero.Exists(fsys, "/cache/cache.json.lock"); !ok {
		t.Fatalf("不应删除其他进程持有的锁文件")
	}
}

func TestIndexConcurrentUpdatesKeepAllRecords(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(afero.NewOsFs(), newFakeClock())
	opts.LockRetries = 1000
	store := NewIndexStore(opts)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("entry-%d.png", i)
			err := store.Update(context.Background(), dir, func(idx Index) bool {
				idx[name] = IndexRecord{CreatedAt: int64(i)}
				return true
			})
			if err != nil {
				t.Errorf("更新失败: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(store.Read(dir)); got != writers {
		t.Fatalf("并发写入后应保留全部 %d 条记录, got %d", writers, got)
	}
}

func TestIndexUpdateSkipsUnchanged(t *testing.T) {
	fsys := afero.NewMemMapFs()
	store := NewIndexStore(testOptions(fsys, newFakeClock()))

	err := store.Update(context.Background(), "/cache", func(Index) bool { return false })
	if err != nil {
		t.Fatalf("更新失败: %v", err)
	}
	if ok, _ := afero.Exists(fsys, "/cache/cache.json"); ok {
		t.Fatalf("未修改时不应写入索引")
	}
}

// failingRenameFs 让 rename 总是失败，模拟索引落盘失败。
type failingRenameFs struct {
	afero.Fs
}

func (f failingRenameFs) Rename(oldname, newname string) error {
	return errors.New("rename boom")
}

func TestIndexWriteReleasesLockOnFailure(t *testing.T) {
	fsys := failingRenameFs{Fs: afero.NewMemMapFs()}
	store := NewIndexStore(testOptions(fsys, newFakeClock()))

	err := store.Write(context.Background(), "/cache", Index{"a.png": {CreatedAt: 1000}})
	if err == nil {
		t.Fatalf("rename 失败时写入应返回错误")
	}
	if ok, _ := afero.Exists(fsys, "/cache/"+LockFilename); ok {
		t.Fatalf("写入失败后锁文件也应被删除")
	}
	if ok, _ := afero.Exists(fsys, "/cache/"+IndexFilename); ok {
		t.Fatalf("写入失败时不应出现索引文件")
	}
}
