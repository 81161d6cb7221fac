// Package checkin 打卡决策引擎
// 串联登录、计划、当日记录与打卡策略，决定本次应执行的动作并提交
package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/api"
	"github.com/kaka-niu/gongxueyun-action/internal/config"
	"github.com/kaka-niu/gongxueyun-action/internal/plan"
	"github.com/kaka-niu/gongxueyun-action/internal/session"
	"github.com/kaka-niu/gongxueyun-action/internal/workday"
	"github.com/kaka-niu/gongxueyun-action/pkg/mask"
)

// 通知标题
const (
	TitleSuccess = "工学云签到成功通知"
	TitleFailure = "工学云签到失败通知"
)

// Remote 决策引擎依赖的远程接口，由 api.Client 实现
type Remote interface {
	Login(ctx context.Context) (*session.UserInfo, error)
	FetchPlan(ctx context.Context) (map[string]any, error)
	ListCheckins(ctx context.Context) ([]api.Record, error)
	SubmitClockIn(ctx context.Context, req api.SubmitRequest) error
}

// Outcome 单次决策周期的结果，交给通知层投递
type Outcome struct {
	Title     string
	Content   string
	Succeeded bool
}

// Engine 打卡决策引擎，每个账号一个实例
type Engine struct {
	cfg     *config.UserConfig
	remote  Remote
	session *session.Manager
	plans   *plan.Manager
	workday workday.Checker
	log     *zap.Logger
	now     func() time.Time
}

// Option 引擎可选参数
type Option func(*Engine)

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine 创建决策引擎
func NewEngine(
	cfg *config.UserConfig,
	remote Remote,
	sess *session.Manager,
	plans *plan.Manager,
	wd workday.Checker,
	log *zap.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:     cfg,
		remote:  remote,
		session: sess,
		plans:   plans,
		workday: wd,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 执行一次打卡决策周期
// forced 非空表示手动指定打卡类型，跳过排期判断；空串表示按时间自动决策。
// 所有错误都折叠为失败结果返回，不向上抛出，避免影响同进程的其他账号
func (e *Engine) Run(ctx context.Context, forced api.RecordType) *Outcome {
	now := e.now()

	info, err := e.ensureSession(ctx)
	if err != nil {
		return e.failure("", now, fmt.Sprintf("登录失败: %v", err))
	}

	planID, err := e.ensurePlan(ctx)
	if errors.Is(err, api.ErrNoPlan) {
		return e.failure("", now, "暂无实习计划，本次不打卡")
	}
	if err != nil {
		return e.failure("", now, fmt.Sprintf("获取实习计划失败: %v", err))
	}

	records, err := e.remote.ListCheckins(ctx)
	if err != nil {
		return e.failure("", now, fmt.Sprintf("获取打卡记录失败: %v", err))
	}
	hasStart, hasEnd := classify(records, now)
	lastAddr := latestAddress(records)

	desired := forced
	if desired == "" {
		if !e.eligible(ctx, now) {
			e.log.Info("今日不在打卡排期内", zap.String("mode", e.cfg.ClockIn.Mode))
			return &Outcome{
				Title:     TitleSuccess,
				Content:   e.content(info, "", now, "今日不在打卡排期内，无需打卡"),
				Succeeded: true,
			}
		}
		desired = api.TypeStart
		if now.Hour() >= 12 {
			desired = api.TypeEnd
		}
	}

	// 幂等保护：当日已有同类记录则不再提交
	if (desired == api.TypeStart && hasStart) || (desired == api.TypeEnd && hasEnd) {
		e.log.Info("今日已打卡，跳过", zap.String("type", string(desired)))
		return &Outcome{
			Title:     TitleSuccess,
			Content:   e.content(info, desired, now, fmt.Sprintf("今日已打过%s卡，无需重复打卡", desired.Display())),
			Succeeded: true,
		}
	}

	// 补卡规则：下班卡缺上班卡时，自动触发先尽力补一次上班卡，
	// 手动指定下班卡则直接判定失败，不发起任何提交
	if desired == api.TypeEnd && !hasStart {
		if forced != "" {
			return e.failure(desired, now, "今日未打上班卡，不能直接打下班卡")
		}
		e.log.Warn("今日缺少上班卡，先补打上班卡")
		if err := e.submit(ctx, api.TypeStart, planID, lastAddr); err != nil {
			e.log.Warn("补打上班卡失败，继续打下班卡", zap.Error(err))
		}
	}

	if err := e.submit(ctx, desired, planID, lastAddr); err != nil {
		return e.failure(desired, now, fmt.Sprintf("打卡失败: %v", err))
	}

	e.log.Info("打卡成功", zap.String("type", string(desired)))
	return &Outcome{
		Title:     TitleSuccess,
		Content:   e.content(info, desired, now, fmt.Sprintf("%s卡打卡成功", desired.Display())),
		Succeeded: true,
	}
}

// ensureSession 返回可用的会话凭证，必要时登录
// 缓存身份与配置手机号不一致时视为换号，清空会话与计划缓存后重新登录
func (e *Engine) ensureSession(ctx context.Context) (*session.UserInfo, error) {
	info, err := e.session.Get(ctx)
	if err != nil {
		return nil, err
	}
	if info != nil && info.Token != "" && info.Phone == e.cfg.Phone {
		return info, nil
	}
	if info != nil && info.Phone != e.cfg.Phone {
		e.log.Warn("缓存身份与配置不一致，重置本地状态",
			zap.String("cached", mask.Phone(info.Phone)),
			zap.String("configured", mask.Phone(e.cfg.Phone)))
		if err := e.session.Invalidate(ctx); err != nil {
			return nil, err
		}
		if err := e.plans.Invalidate(ctx); err != nil {
			return nil, err
		}
	}
	return e.remote.Login(ctx)
}

// ensurePlan 返回当前计划 ID，缓存过期或缺失时重新拉取
func (e *Engine) ensurePlan(ctx context.Context) (string, error) {
	p, err := e.plans.Get(ctx)
	if err != nil {
		return "", err
	}
	if p != nil {
		return p.PlanID, nil
	}

	raw, err := e.remote.FetchPlan(ctx)
	if err != nil {
		return "", err
	}
	p, err = e.plans.Set(ctx, raw)
	if err != nil {
		return "", err
	}
	return p.PlanID, nil
}

// eligible 判断今日是否在打卡排期内
func (e *Engine) eligible(ctx context.Context, now time.Time) bool {
	ci := e.cfg.ClockIn
	if ci.HolidaysClockIn {
		return true
	}
	switch ci.Mode {
	case config.ModeWeekday:
		return e.workday.IsWorkday(ctx, now)
	case config.ModeCustomize:
		ordinal := int(now.Weekday())
		if ordinal == 0 {
			ordinal = 7 // 周日
		}
		for _, d := range ci.CustomDays {
			if d == ordinal {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (e *Engine) submit(ctx context.Context, t api.RecordType, planID, lastAddr string) error {
	return e.remote.SubmitClockIn(ctx, api.SubmitRequest{
		Type:              t,
		PlanID:            planID,
		LastDetailAddress: lastAddr,
	})
}

// latestAddress 最近一条打卡记录的地点，随提交上报
func latestAddress(records []api.Record) string {
	var latest time.Time
	var addr string
	found := false
	for _, r := range records {
		ts, err := r.Time()
		if err != nil {
			continue
		}
		if !found || ts.After(latest) {
			latest = ts
			addr = r.Address
			found = true
		}
	}
	return addr
}

// classify 将当月记录归类为今日是否已有上班卡、下班卡
func classify(records []api.Record, now time.Time) (hasStart, hasEnd bool) {
	y, m, d := now.Date()
	for _, r := range records {
		ts, err := r.Time()
		if err != nil {
			continue
		}
		ry, rm, rd := ts.Date()
		if ry != y || rm != m || rd != d {
			continue
		}
		switch r.Type {
		case string(api.TypeStart):
			hasStart = true
		case string(api.TypeEnd):
			hasEnd = true
		}
	}
	return hasStart, hasEnd
}

func (e *Engine) failure(desired api.RecordType, now time.Time, detail string) *Outcome {
	e.log.Warn("本次打卡失败", zap.String("detail", detail))
	info, _ := e.session.Get(context.Background())
	return &Outcome{
		Title:     TitleFailure,
		Content:   e.content(info, desired, now, detail),
		Succeeded: false,
	}
}

// content 组装通知正文，身份信息一律脱敏
func (e *Engine) content(info *session.UserInfo, desired api.RecordType, now time.Time, detail string) string {
	name := ""
	if info != nil {
		name = info.NikeName
	}
	lines := []string{
		"用户: " + mask.Name(name) + " " + mask.Phone(e.cfg.Phone),
	}
	if desired != "" {
		lines = append(lines, "类型: "+desired.Display()+"卡")
	}
	lines = append(lines,
		"时间: "+now.Format(api.TimeLayout),
		"地点: "+e.cfg.ClockIn.Location.Address,
		"结果: "+detail,
	)
	return strings.Join(lines, "\n")
}
