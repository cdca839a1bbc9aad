package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"dropmail/backend/internal/objectstore"
)

// Store 本地目录对象存储
type Store struct {
	basePath string
	logger   *zap.Logger
}

var _ objectstore.Store = (*Store)(nil)

// NewStore 创建本地目录对象存储，目录不存在时自动创建
func NewStore(basePath string, logger *zap.Logger) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{basePath: absPath, logger: logger}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Fetch 读取对象内容，不存在时返回 objectstore.ErrObjectNotFound
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := resolveKey(s.basePath, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", objectstore.ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Put 写入对象，先写临时文件再重命名，读者不会看到半写入的内容
func (s *Store) Put(ctx context.Context, key string, raw []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := resolveKey(s.basePath, key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit object: %w", err)
	}

	s.logger.Debug("stored object", zap.String("key", key), zap.Int("size", len(raw)))
	return nil
}

// CleanupOlderThan 删除修改时间早于 before 的对象，并移除清空的目录
func (s *Store) CleanupOlderThan(ctx context.Context, before time.Time) (int, error) {
	count := 0
	var dirs []string

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != s.basePath {
				dirs = append(dirs, path)
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(before) {
			if err := os.Remove(path); err == nil {
				count++
			}
		}
		return nil
	})
	if err != nil {
		return count, err
	}

	// 从深到浅删除空目录
	for i := len(dirs) - 1; i >= 0; i-- {
		if entries, _ := os.ReadDir(dirs[i]); len(entries) == 0 {
			os.Remove(dirs[i])
		}
	}

	return count, nil
}
