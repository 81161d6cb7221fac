// Package plan 实习计划缓存
package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/store"
)

// DefaultTTL 计划的默认有效期，超过后读取触发重新拉取
const DefaultTTL = 24 * time.Hour

// Plan 实习计划
// 服务端在不同接口版本间字段大小写不一致，写入时统一转为小写 key，
// 之后所有读取都以小写 key 访问
type Plan struct {
	PlanID    string         `json:"planId"`
	Fields    map[string]any `json:"fields"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

// document planInfo.json 的外层结构
type document struct {
	PlanInfo *Plan `json:"planInfo"`
}

// Manager 计划缓存管理器，缓存优先，基于拉取时间判断是否过期
type Manager struct {
	store  store.Store
	key    string
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger
	cached *Plan
}

// Option 管理器可选参数
type Option func(*Manager)

// WithTTL 覆盖默认有效期
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager 创建计划缓存管理器，profile 通常为账号手机号
func NewManager(st store.Store, profile string, log *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store: st,
		key:   "planInfo:" + profile,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get 获取当前计划；不存在或已过期返回 (nil, nil)，由调用方触发重新拉取
func (m *Manager) Get(ctx context.Context) (*Plan, error) {
	p := m.cached
	if p == nil {
		data, err := m.store.Read(ctx, m.key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("解析计划记录失败: %w", err)
		}
		p = doc.PlanInfo
		m.cached = p
	}
	if p == nil {
		return nil, nil
	}
	if m.stale(p) {
		m.log.Info("实习计划已过期", zap.Time("fetchedAt", p.FetchedAt))
		return nil, nil
	}
	return p, nil
}

// PlanID 获取当前有效计划的 planId，无有效计划返回空串
func (m *Manager) PlanID(ctx context.Context) string {
	p, err := m.Get(ctx)
	if err != nil || p == nil {
		return ""
	}
	return p.PlanID
}

// Set 以服务端原始字段写入计划，key 统一转为小写后缓存并持久化
func (m *Manager) Set(ctx context.Context, raw map[string]any) (*Plan, error) {
	fields := lowerKeys(raw)
	planID, _ := fields["planid"].(string)
	if planID == "" {
		return nil, errors.New("计划数据缺少 planId")
	}

	p := &Plan{
		PlanID:    planID,
		Fields:    fields,
		FetchedAt: m.now(),
	}
	data, err := json.MarshalIndent(document{PlanInfo: p}, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("序列化计划记录失败: %w", err)
	}
	if err := m.store.Write(ctx, m.key, data); err != nil {
		return nil, err
	}
	m.cached = p
	m.log.Info("实习计划已更新", zap.String("planId", planID))
	return p, nil
}

// Invalidate 清空缓存并删除持久化记录
func (m *Manager) Invalidate(ctx context.Context) error {
	m.cached = nil
	return m.store.Delete(ctx, m.key)
}

func (m *Manager) stale(p *Plan) bool {
	return m.now().Sub(p.FetchedAt) > m.ttl
}

// lowerKeys 递归地将 map 的 key 转为小写
func lowerKeys(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if nested, ok := v.(map[string]any); ok {
			v = lowerKeys(nested)
		}
		out[strings.ToLower(k)] = v
	}
	return out
}
