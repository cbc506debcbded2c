package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/xeipuuv/gojsonschema"

	"github.com/og-card/og-card/internal/fsutil"
)

const (
	// DirName 是缓存根目录下存放本工具文件的子目录，也是发布后的 URL 前缀。
	DirName = "rehype-og-card"
	// IndexFilename 是每个缓存目录下的索引文件名。
	IndexFilename = "cache.json"
	// LockFilename 是索引写入期间存在的锁标记文件。
	LockFilename = "cache.json.lock"
	// MetadataSuffix 标记自带 cachedAt 字段的元数据条目。
	MetadataSuffix = ".json"
)

const indexSchemaJSON = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["createdAt"],
		"properties": {
			"createdAt": {"type": "number"}
		}
	}
}`

var indexSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(indexSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("compile cache index schema: %v", err))
	}
	return schema
}()

// IndexRecord 记录单个缓存文件的创建时间（毫秒时间戳）。
type IndexRecord struct {
	CreatedAt int64 `json:"createdAt"`
}

// Index 将目录内的文件名映射到其创建记录。
type Index map[string]IndexRecord

// IndexStore 负责读写缓存目录中的 cache.json，写入时持有协作锁。
type IndexStore struct {
	fs      afero.Fs
	logger  *logrus.Logger
	retries uint64
	delay   time.Duration
}

// NewIndexStore 构造索引存储，所有缓存层共享同一实例即可。
func NewIndexStore(opts Options) *IndexStore {
	opts = opts.normalize()
	return &IndexStore{
		fs:      opts.Fs,
		logger:  opts.Logger,
		retries: opts.LockRetries,
		delay:   opts.LockDelay,
	}
}

// Read 读取目录索引；文件缺失、损坏或不符合结构时返回空索引，从不报错。
func (s *IndexStore) Read(dir string) Index {
	path := filepath.Join(dir, IndexFilename)
	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithFields(logrus.Fields{
				"action": "cache_index_read",
				"path":   path,
			}).WithError(err).Warn("cache_index_unreadable")
		}
		return Index{}
	}

	idx, err := decodeIndex(raw)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"action": "cache_index_read",
			"path":   path,
		}).WithError(err).Warn("cache_index_invalid")
		return Index{}
	}
	return idx
}

// Write 以完整映射覆盖目录索引，写入经临时文件 + rename 完成。
func (s *IndexStore) Write(ctx context.Context, dir string, idx Index) error {
	return s.Update(ctx, dir, func(current Index) bool {
		for name := range current {
			delete(current, name)
		}
		for name, record := range idx {
			current[name] = record
		}
		return true
	})
}

// Update 在一次加锁内完成读取、修改与写回；fn 返回 false 时跳过写入。
func (s *IndexStore) Update(ctx context.Context, dir string, fn func(Index) bool) error {
	if err := fsutil.EnsureDir(s.fs, dir); err != nil {
		return err
	}

	release := s.lock(ctx, dir)
	defer release()

	if err := ctx.Err(); err != nil {
		return err
	}

	idx := s.Read(dir)
	if !fn(idx) {
		return nil
	}

	payload, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.fs, filepath.Join(dir, IndexFilename), payload); err != nil {
		return fmt.Errorf("write cache index: %w", err)
	}
	return nil
}

func decodeIndex(raw []byte) (Index, error) {
	result, err := indexSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, err
	}
	if !result.Valid() {
		return nil, fmt.Errorf("schema mismatch: %v", result.Errors())
	}

	var records map[string]struct {
		CreatedAt float64 `json:"createdAt"`
	}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}

	idx := make(Index, len(records))
	for name, record := range records {
		idx[name] = IndexRecord{CreatedAt: int64(record.CreatedAt)}
	}
	return idx, nil
}

// isReservedName 判断文件名是否为索引、锁或临时文件，这些文件不是缓存条目。
func isReservedName(name string) bool {
	return name == IndexFilename || name == LockFilename || fsutil.IsTempName(name)
}
