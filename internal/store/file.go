package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore 基于本地文件的存储，每个 key 对应一个 JSON 文件
// 写入采用临时文件加重命名，保证单写者下的原子性；
// 同一 key 的并发写入没有加锁设计，使用方保证每个账号同一时刻只有一个写者
type FileStore struct {
	dir string
}

// NewFileStore 创建文件存储，目录不存在时自动创建
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	// key 中的冒号等分隔符不适合做文件名
	name := strings.NewReplacer(":", "_", "/", "_").Replace(key)
	return filepath.Join(s.dir, name+".json")
}

// Read 读取文件内容
func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("读取 %s 失败: %w", key, err)
	}
	return data, nil
}

// Write 全量覆盖写入，先写临时文件再重命名
func (s *FileStore) Write(_ context.Context, key string, data []byte) error {
	target := s.path(key)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", key, err)
	}
	return nil
}

// Delete 删除文件
func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除 %s 失败: %w", key, err)
	}
	return nil
}
