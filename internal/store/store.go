// Package store 本地状态持久化
// 会话凭证与实习计划都通过 Store 以命名空间 key 全量读写，
// 文件不存在视为冷启动而不是错误
package store

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("存储记录不存在")

// Store 键值存储接口
type Store interface {
	// Read 读取指定 key 的完整内容，记录不存在返回 ErrNotFound
	Read(ctx context.Context, key string) ([]byte, error)
	// Write 全量覆盖写入
	Write(ctx context.Context, key string, data []byte) error
	// Delete 删除记录，记录不存在不视为错误
	Delete(ctx context.Context, key string) error
}
