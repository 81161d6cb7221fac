// Package session 会话凭证管理
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/store"
)

var ErrIncompleteCredential = errors.New("会话凭证不完整")

// UserInfo 登录后服务端返回的用户身份信息
// 字段名与服务端 JSON 保持一致，nikeName 是服务端的原始拼写
type UserInfo struct {
	Token    string `json:"token"`
	UserID   string `json:"userId"`
	RoleKey  string `json:"roleKey"` // student 或 teacher
	NikeName string `json:"nikeName"`
	Phone    string `json:"phone"`
	UserType string `json:"userType"`
}

// document userInfo.json 的外层结构
type document struct {
	UserInfo *UserInfo `json:"userInfo"`
}

// Manager 会话状态管理器
// 缓存优先读取，冷启动时回落到存储；每个账号一个实例，互不共享
type Manager struct {
	store  store.Store
	key    string
	log    *zap.Logger
	cached *UserInfo
}

// NewManager 创建会话管理器，profile 通常为账号手机号
func NewManager(st store.Store, profile string, log *zap.Logger) *Manager {
	return &Manager{
		store: st,
		key:   "userInfo:" + profile,
		log:   log,
	}
}

// Get 获取会话凭证，缓存优先；冷启动且无持久化记录时返回 (nil, nil)
func (m *Manager) Get(ctx context.Context) (*UserInfo, error) {
	if m.cached != nil {
		return m.cached, nil
	}

	data, err := m.store.Read(ctx, m.key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析会话记录失败: %w", err)
	}
	m.cached = doc.UserInfo
	return m.cached, nil
}

// Token 获取当前缓存的 token，不存在返回空串
func (m *Manager) Token(ctx context.Context) string {
	info, err := m.Get(ctx)
	if err != nil || info == nil {
		return ""
	}
	return info.Token
}

// Set 覆盖缓存并原子持久化
// 约束：token 非空时 userId 与 roleKey 必须同时存在
func (m *Manager) Set(ctx context.Context, info *UserInfo) error {
	if info.Token != "" && (info.UserID == "" || info.RoleKey == "") {
		return ErrIncompleteCredential
	}

	data, err := json.MarshalIndent(document{UserInfo: info}, "", "    ")
	if err != nil {
		return fmt.Errorf("序列化会话记录失败: %w", err)
	}
	if err := m.store.Write(ctx, m.key, data); err != nil {
		return err
	}
	m.cached = info
	m.log.Info("会话凭证已更新", zap.String("userId", info.UserID), zap.String("roleKey", info.RoleKey))
	return nil
}

// Invalidate 清空缓存并删除持久化记录
// 凭证过期或切换账号时调用，保证后续运行不被残留身份污染
func (m *Manager) Invalidate(ctx context.Context) error {
	m.cached = nil
	return m.store.Delete(ctx, m.key)
}
