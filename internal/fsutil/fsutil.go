// Package fsutil collects the small filesystem helpers shared by the cache
// tiers: existence probes, idempotent directory creation, atomic writes
// (temp file + rename) and recursive copies. Every helper takes an afero.Fs so
// callers can run against the real disk in production and an in-memory
// filesystem in tests.
package fsutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// TempPrefix 标记原子写入过程中产生的临时文件，扫描目录时应忽略。
const TempPrefix = ".tmp-"

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// IsTempName 判断文件名是否为原子写入残留的临时文件。
func IsTempName(name string) bool {
	return strings.HasPrefix(name, TempPrefix)
}

// Exists 判断路径是否存在，任何 Stat 错误都视为不存在。
func Exists(fsys afero.Fs, path string) bool {
	_, err := fsys.Stat(path)
	return err == nil
}

// FileExists 仅在路径存在且为普通文件时返回 true。
func FileExists(fsys afero.Fs, path string) bool {
	info, err := fsys.Stat(path)
	return err == nil && !info.IsDir()
}

// DirExists 仅在路径存在且为目录时返回 true。
func DirExists(fsys afero.Fs, path string) bool {
	ok, err := afero.DirExists(fsys, path)
	return err == nil && ok
}

// EnsureDir 递归创建目录，目录已存在视为成功。
func EnsureDir(fsys afero.Fs, dir string) error {
	if err := fsys.MkdirAll(dir, dirPerm); err != nil {
		if errors.Is(err, fs.ErrExist) && DirExists(fsys, dir) {
			return nil
		}
		return fmt.Errorf("create directory %s: %w", dir, err)
	}
	return nil
}

// WriteFileAtomic 先写入同目录临时文件再 rename，读者不会看到半截内容。
func WriteFileAtomic(fsys afero.Fs, path string, data []byte) error {
	return writeAtomic(fsys, path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyFile 以原子方式将 src 复制到 dst，dst 已存在时会被覆盖。
func CopyFile(ctx context.Context, fsys afero.Fs, src, dst string) error {
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	return writeAtomic(fsys, dst, func(w io.Writer) error {
		_, err := copyWithContext(ctx, w, in)
		return err
	})
}

// SkipFunc 决定 CopyDir 是否跳过某个相对路径；对目录返回 true 会跳过整棵子树。
type SkipFunc func(rel string, info os.FileInfo) bool

// CopyDir 递归复制 src 下的全部内容到 dst，dst 不存在时自动创建。
func CopyDir(ctx context.Context, fsys afero.Fs, src, dst string, skip SkipFunc) error {
	if !DirExists(fsys, src) {
		return nil
	}
	if err := EnsureDir(fsys, dst); err != nil {
		return err
	}

	return afero.Walk(fsys, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip != nil && skip(rel, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return EnsureDir(fsys, target)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return CopyFile(ctx, fsys, path, target)
	})
}

func writeAtomic(fsys afero.Fs, path string, fill func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(fsys, dir); err != nil {
		return err
	}

	tempFile, err := afero.TempFile(fsys, dir, TempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	err = fill(tempFile)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = fsys.Chmod(tempName, filePerm)
	}
	if err != nil {
		_ = fsys.Remove(tempName)
		return err
	}

	if err := fsys.Rename(tempName, path); err != nil {
		_ = fsys.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
