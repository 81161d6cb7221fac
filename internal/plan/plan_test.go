package plan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/store"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return NewManager(st, "13800138000", zap.NewNop(), opts...)
}

// TestManagerColdStart 冷启动时没有计划
func TestManagerColdStart(t *testing.T) {
	m := newTestManager(t)

	p, err := m.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, m.PlanID(context.Background()))
}

// TestManagerSetCanonicalizesKeys 写入时字段 key 统一转为小写
func TestManagerSetCanonicalizesKeys(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	raw := map[string]any{
		"PlanId":   "plan-9",
		"planName": "2026 春季实习",
		"PlanPaper": map[string]any{
			"DayPaperNum": float64(5),
		},
	}
	p, err := m.Set(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, "plan-9", p.PlanID)
	assert.Equal(t, "2026 春季实习", p.Fields["planname"])

	nested, ok := p.Fields["planpaper"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(5), nested["daypapernum"])

	assert.Equal(t, "plan-9", m.PlanID(ctx))
}

// TestManagerSetMissingPlanID 缺少 planId 的数据被拒绝
func TestManagerSetMissingPlanID(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Set(context.Background(), map[string]any{"planName": "x"})
	assert.Error(t, err)
}

// TestManagerStaleness 超过 TTL 后 Get 返回 nil 触发重新拉取
func TestManagerStaleness(t *testing.T) {
	current := time.Date(2026, 8, 30, 9, 0, 0, 0, time.Local)
	m := newTestManager(t, WithTTL(24*time.Hour), WithClock(func() time.Time { return current }))
	ctx := context.Background()

	_, err := m.Set(ctx, map[string]any{"planId": "plan-9"})
	require.NoError(t, err)

	// TTL 内有效
	current = current.Add(23 * time.Hour)
	p, err := m.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)

	// 超过 TTL 视为过期
	current = current.Add(2 * time.Hour)
	p, err = m.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Empty(t, m.PlanID(ctx))
}

// TestManagerPersistence 新实例从存储恢复计划
func TestManagerPersistence(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	m1 := NewManager(st, "13800138000", zap.NewNop())
	_, err = m1.Set(ctx, map[string]any{"planId": "plan-9"})
	require.NoError(t, err)

	m2 := NewManager(st, "13800138000", zap.NewNop())
	p, err := m2.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "plan-9", p.PlanID)
}

// TestManagerInvalidate 失效后缓存与持久化记录都被清除
func TestManagerInvalidate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.Set(ctx, map[string]any{"planId": "plan-9"})
	require.NoError(t, err)
	require.NoError(t, m.Invalidate(ctx))

	p, err := m.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, p)
}
