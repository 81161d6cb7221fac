// Package api 工学云远程接口客户端
// 负责签名请求的发送、指数退避重试、token 失效透明重登与行为验证码流程
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/captcha"
	"github.com/kaka-niu/gongxueyun-action/internal/config"
	"github.com/kaka-niu/gongxueyun-action/internal/session"
	"github.com/kaka-niu/gongxueyun-action/pkg/crypto"
)

const (
	defaultBaseURL = "https://api.moguding.net:9000/"
	userAgent      = "Dart/2.17 (dart:io)"
	contentType    = "application/json; charset=utf-8"
	appVersion     = "5.16.0"

	// 服务端响应约定
	codeOK             = 200
	codeCaptchaInvalid = 6111  // 验证码校验未通过，验证码循环内使用，不是硬性失败
	challengeSentinel  = "302" // code=200 且 msg=302 表示需要先通过行为验证码
	tokenExpiredHint   = "token失效"

	defaultMaxRetries      = 5
	defaultCaptchaAttempts = 5
	requestTimeout         = 10 * time.Second
)

// envelope 服务端统一响应结构
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client 工学云接口客户端，每个账号一个实例
type Client struct {
	http            *http.Client
	baseURL         string
	cfg             *config.UserConfig
	session         *session.Manager
	recognizer      captcha.Recognizer
	log             *zap.Logger
	maxRetries      int
	captchaAttempts int
	sleep           func(time.Duration)
	now             func() time.Time
	randFloat       func() float64
}

// Option 客户端可选参数
type Option func(*Client)

// WithBaseURL 覆盖接口地址，测试用
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

// WithHTTPClient 覆盖 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxRetries 覆盖最大重试次数
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithSleep 注入等待函数，测试中替换为空实现
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithClock 注入时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建客户端
func NewClient(cfg *config.UserConfig, sess *session.Manager, recognizer captcha.Recognizer, log *zap.Logger, opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{Timeout: requestTimeout},
		baseURL:         defaultBaseURL,
		cfg:             cfg,
		session:         sess,
		recognizer:      recognizer,
		log:             log,
		maxRetries:      defaultMaxRetries,
		captchaAttempts: defaultCaptchaAttempts,
		sleep:           time.Sleep,
		now:             time.Now,
		randFloat:       rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// baseHeaders 未认证请求头
func (c *Client) baseHeaders() map[string]string {
	return map[string]string{
		"user-agent":   userAgent,
		"content-type": contentType,
	}
}

// authHeaders 认证请求头，附带可选的签名字段
// 签名字段顺序由各接口约定，是接口契约的一部分
func (c *Client) authHeaders(info *session.UserInfo, signFields ...string) map[string]string {
	headers := c.baseHeaders()
	headers["authorization"] = info.Token
	headers["userid"] = info.UserID
	headers["rolekey"] = info.RoleKey
	if len(signFields) > 0 {
		headers["sign"] = crypto.Sign(signFields...)
	}
	return headers
}

// requireSession 获取当前会话凭证，未登录时报错
func (c *Client) requireSession(ctx context.Context) (*session.UserInfo, error) {
	info, err := c.session.Get(ctx)
	if err != nil {
		return nil, err
	}
	if info == nil || info.Token == "" {
		return nil, ErrNotLoggedIn
	}
	return info, nil
}

// post 发送请求并处理重试，返回服务端响应
func (c *Client) post(ctx context.Context, path string, headers map[string]string, body map[string]any) (*envelope, error) {
	return c.doPost(ctx, path, headers, body, 0)
}

func (c *Client) doPost(ctx context.Context, path string, headers map[string]string, body map[string]any, attempt int) (*envelope, error) {
	env, err := c.once(ctx, path, headers, body)
	if err != nil {
		// 网络层故障：指数退避后重试
		if attempt >= c.maxRetries {
			return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
		}
		c.backoff(path, attempt)
		return c.doPost(ctx, path, headers, body, attempt+1)
	}

	if env.Code == codeOK && env.Msg == challengeSentinel {
		return nil, ErrChallengeRequired
	}
	if env.Code == codeOK || env.Code == codeCaptchaInvalid {
		return env, nil
	}

	// token 失效：重新登录一次并以新 token 重放原请求
	if strings.Contains(env.Msg, tokenExpiredHint) && attempt < c.maxRetries {
		c.backoff(path, attempt)
		c.log.Warn("token 失效，正在重新登录")
		info, err := c.Login(ctx)
		if err != nil {
			return nil, fmt.Errorf("重新登录失败: %w", err)
		}
		headers["authorization"] = info.Token
		c.log.Info("已更新 authorization，重放请求", zap.String("path", path))
		return c.doPost(ctx, path, headers, body, attempt+1)
	}

	// 中文错误信息是业务拒绝，立即终止
	if containsCJK(env.Msg) || attempt >= c.maxRetries {
		return nil, &BusinessError{Code: env.Code, Msg: env.Msg}
	}

	c.backoff(path, attempt)
	return c.doPost(ctx, path, headers, body, attempt+1)
}

func (c *Client) once(ctx context.Context, path string, headers map[string]string, body map[string]any) (*envelope, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码 %d", rsp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &env, nil
}

// backoff 指数退避等待，base=1s factor=2
func (c *Client) backoff(path string, attempt int) {
	wait := time.Duration(1<<uint(attempt)) * time.Second
	c.log.Warn("等待后重试",
		zap.String("path", path),
		zap.Int("attempt", attempt+1),
		zap.Int("maxRetries", c.maxRetries),
		zap.Duration("wait", wait))
	c.sleep(wait)
}

// captchaDelay 验证码重试前的随机等待，1-3 秒，模拟真人节奏
func (c *Client) captchaDelay() time.Duration {
	return time.Second + time.Duration(c.randFloat()*2*float64(time.Second))
}

// encryptedTimestamp 加密的毫秒时间戳，多数接口要求携带
func (c *Client) encryptedTimestamp() (string, error) {
	return crypto.Encrypt(fmt.Sprintf("%d", c.now().UnixMilli()))
}

// newClientUID 生成去连字符的客户端标识
func newClientUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
