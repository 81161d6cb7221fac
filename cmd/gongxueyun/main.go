package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/api"
	"github.com/kaka-niu/gongxueyun-action/internal/captcha"
	"github.com/kaka-niu/gongxueyun-action/internal/checkin"
	"github.com/kaka-niu/gongxueyun-action/internal/config"
	"github.com/kaka-niu/gongxueyun-action/internal/logger"
	"github.com/kaka-niu/gongxueyun-action/internal/notify"
	"github.com/kaka-niu/gongxueyun-action/internal/plan"
	"github.com/kaka-niu/gongxueyun-action/internal/session"
	"github.com/kaka-niu/gongxueyun-action/internal/store"
	"github.com/kaka-niu/gongxueyun-action/internal/workday"
	"github.com/kaka-niu/gongxueyun-action/pkg/mask"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configFile string
	clockType  string
	user       string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gongxueyun",
		Short: "工学云自动签到",
		Long: `工学云自动签到客户端。

按配置的排期自动判断并提交上班/下班卡，支持多账号顺序执行，
结果通过邮件通知。通过 --type 手动指定打卡类型时跳过排期判断。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "配置文件路径")
	cmd.Flags().StringVarP(&opts.clockType, "type", "t", "", "手动指定打卡类型 (START|END)")
	cmd.Flags().StringVarP(&opts.user, "user", "u", "", "只运行指定手机号的账号")
	return cmd
}

// parseClockType 解析 --type 参数，空串表示自动决策
func parseClockType(s string) (api.RecordType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case string(api.TypeStart):
		return api.TypeStart, nil
	case string(api.TypeEnd):
		return api.TypeEnd, nil
	default:
		return "", fmt.Errorf("无效的打卡类型 %q，仅支持 START 或 END", s)
	}
}

func run(opts *rootOptions) error {
	forced, err := parseClockType(opts.clockType)
	if err != nil {
		return err
	}

	var cfg *config.Config
	if opts.configFile != "" {
		cfg, err = config.LoadFromFile(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	log := logger.Get()
	defer log.Sync()

	st, err := newStore(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}

	recognizer, err := captcha.NewRemoteRecognizer(cfg.Captcha.Endpoint)
	if err != nil {
		return fmt.Errorf("初始化验证码识别服务失败: %w", err)
	}

	mailer := notify.NewMailer(cfg.SMTP, logger.Named("notify"))
	checker := workday.NewTimorChecker(logger.Named("workday"))

	users := selectUsers(cfg.Users, opts.user)
	if len(users) == 0 {
		return fmt.Errorf("没有匹配的账号")
	}

	// 多账号严格顺序执行，每个账号独立一套对象，互不污染
	ctx := context.Background()
	var failed int
	for i := range users {
		u := &users[i]
		ulog := log.With(zap.String("phone", mask.Phone(u.Phone)))
		ulog.Info("开始处理账号")

		sess := session.NewManager(st, u.Phone, ulog)
		plans := plan.NewManager(st, u.Phone, ulog)
		client := api.NewClient(u, sess, recognizer, ulog)
		engine := checkin.NewEngine(u, client, sess, plans, checker, ulog)

		outcome := engine.Run(ctx, forced)
		if !outcome.Succeeded {
			failed++
		}
		ulog.Info("账号处理完成", zap.Bool("succeeded", outcome.Succeeded))

		if err := mailer.Send(outcome.Title, outcome.Content); err != nil {
			ulog.Warn("通知发送失败", zap.Error(err))
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d/%d 个账号签到失败", failed, len(users))
	}
	log.Info("全部账号签到完成", zap.Int("count", len(users)))
	return nil
}

func newStore(cfg *config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "redis":
		return store.NewRedisStore(&cfg.Redis)
	default:
		return store.NewFileStore(cfg.Dir)
	}
}

func selectUsers(users []config.UserConfig, phone string) []config.UserConfig {
	if phone == "" {
		return users
	}
	var matched []config.UserConfig
	for _, u := range users {
		if u.Phone == phone {
			matched = append(matched, u)
		}
	}
	return matched
}
