package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/captcha"
	"github.com/kaka-niu/gongxueyun-action/pkg/crypto"
)

// captchaData 验证码接口下发的数据
type captchaData struct {
	SecretKey           string   `json:"secretKey"`
	Token               string   `json:"token"`
	OriginalImageBase64 string   `json:"originalImageBase64"`
	JigsawImageBase64   string   `json:"jigsawImageBase64"`
	WordList            []string `json:"wordList"`
}

// passBlockPuzzle 通过滑块拼图验证码，登录前置步骤
// 每次尝试都重新获取验证码，识别后先提交服务端校验，
// 校验通过才返回加密凭证；限定次数内未通过返回 ErrChallengeFailed
func (c *Client) passBlockPuzzle(ctx context.Context) (string, error) {
	return c.passCaptcha(ctx, "blockPuzzle",
		"session/captcha/v1/get", "session/captcha/v1/check",
		func(ctx context.Context) (map[string]string, error) {
			return c.baseHeaders(), nil
		},
		func(data *captchaData) (string, error) {
			piece, err := base64.StdEncoding.DecodeString(data.JigsawImageBase64)
			if err != nil {
				return "", fmt.Errorf("解码拼图图片失败: %w", err)
			}
			background, err := base64.StdEncoding.DecodeString(data.OriginalImageBase64)
			if err != nil {
				return "", fmt.Errorf("解码背景图片失败: %w", err)
			}
			return c.recognizer.SolveBlockPuzzle(piece, background)
		})
}

// passClickWord 通过文字点选验证码，打卡提交触发行为验证时使用
func (c *Client) passClickWord(ctx context.Context) (string, error) {
	return c.passCaptcha(ctx, "clickWord",
		"attendence/clock/v1/get", "attendence/clock/v1/check",
		func(ctx context.Context) (map[string]string, error) {
			info, err := c.requireSession(ctx)
			if err != nil {
				return nil, err
			}
			return c.authHeaders(info), nil
		},
		func(data *captchaData) (string, error) {
			image, err := base64.StdEncoding.DecodeString(data.OriginalImageBase64)
			if err != nil {
				return "", fmt.Errorf("解码场景图片失败: %w", err)
			}
			return c.recognizer.SolveClickWord(image, data.WordList)
		})
}

func (c *Client) passCaptcha(
	ctx context.Context,
	captchaType, getPath, checkPath string,
	headersFn func(context.Context) (map[string]string, error),
	solve func(*captchaData) (string, error),
) (string, error) {
	for attempt := 0; attempt < c.captchaAttempts; attempt++ {
		if attempt > 0 {
			// 随机间隔，模拟真人操作节奏
			c.sleep(c.captchaDelay())
		}

		headers, err := headersFn(ctx)
		if err != nil {
			return "", err
		}

		env, err := c.post(ctx, getPath, headers, map[string]any{
			"clientUid":   newClientUID(),
			"captchaType": captchaType,
		})
		if err != nil {
			return "", err
		}

		var data captchaData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("解析验证码数据失败: %w", err)
		}

		point, err := solve(&data)
		if err != nil {
			// 识别失败消耗一次尝试机会
			c.log.Warn("验证码识别失败", zap.String("captchaType", captchaType), zap.Error(err))
			continue
		}

		pointJSON, err := crypto.EncryptBase64(point, data.SecretKey)
		if err != nil {
			return "", fmt.Errorf("加密点位数据失败: %w", err)
		}

		checkEnv, err := c.post(ctx, checkPath, headers, map[string]any{
			"pointJson":   pointJSON,
			"token":       data.Token,
			"captchaType": captchaType,
		})
		if err != nil {
			return "", err
		}

		if checkEnv.Code != codeCaptchaInvalid {
			return crypto.EncryptBase64(data.Token+"---"+point, data.SecretKey)
		}
		c.log.Warn("验证码校验未通过，准备重试",
			zap.String("captchaType", captchaType),
			zap.Int("attempt", attempt+1),
			zap.Int("maxAttempts", c.captchaAttempts))
	}
	return "", fmt.Errorf("%w: %s 验证码尝试 %d 次未通过", captcha.ErrChallengeFailed, captchaType, c.captchaAttempts)
}
