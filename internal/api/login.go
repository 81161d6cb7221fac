package api

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/session"
	"github.com/kaka-niu/gongxueyun-action/pkg/crypto"
	"github.com/kaka-niu/gongxueyun-action/pkg/mask"
)

// Login 执行登录：先通过滑块验证码，再以加密凭据换取会话并持久化
func (c *Client) Login(ctx context.Context) (*session.UserInfo, error) {
	c.log.Info("执行登录", zap.String("phone", mask.Phone(c.cfg.Phone)))

	proof, err := c.passBlockPuzzle(ctx)
	if err != nil {
		return nil, err
	}

	phone, err := crypto.Encrypt(c.cfg.Phone)
	if err != nil {
		return nil, fmt.Errorf("加密手机号失败: %w", err)
	}
	password, err := crypto.Encrypt(c.cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("加密密码失败: %w", err)
	}
	t, err := c.encryptedTimestamp()
	if err != nil {
		return nil, fmt.Errorf("加密时间戳失败: %w", err)
	}

	body := map[string]any{
		"phone":     phone,
		"password":  password,
		"captcha":   proof,
		"loginType": "android",
		"uuid":      newClientUID(),
		"device":    "android",
		"version":   appVersion,
		"t":         t,
	}

	env, err := c.post(ctx, "session/user/v6/login", c.baseHeaders(), body)
	if err != nil {
		return nil, err
	}

	var encrypted string
	if err := json.Unmarshal(env.Data, &encrypted); err != nil || encrypted == "" {
		return nil, ErrEmptyLoginData
	}

	plaintext, err := crypto.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("解密登录数据失败: %w", err)
	}

	var info session.UserInfo
	if err := json.Unmarshal([]byte(plaintext), &info); err != nil {
		return nil, fmt.Errorf("解析用户信息失败: %w", err)
	}

	if err := c.session.Set(ctx, &info); err != nil {
		return nil, err
	}
	c.log.Info("登录成功",
		zap.String("userId", info.UserID),
		zap.String("roleKey", info.RoleKey),
		zap.String("name", mask.Name(info.NikeName)))
	return &info, nil
}
