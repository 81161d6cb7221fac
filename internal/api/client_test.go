package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/captcha"
	"github.com/kaka-niu/gongxueyun-action/internal/config"
	"github.com/kaka-niu/gongxueyun-action/internal/session"
	"github.com/kaka-niu/gongxueyun-action/internal/store"
	"github.com/kaka-niu/gongxueyun-action/pkg/crypto"
)

// 测试用一次性密钥，16 字节
const testSecretKey = "BGxdEUOiqq9cDqNx"

// fakeRecognizer 固定返回点位的识别器
type fakeRecognizer struct {
	blockErr error
	clickErr error
}

func (f *fakeRecognizer) SolveBlockPuzzle(piece, background []byte) (string, error) {
	if f.blockErr != nil {
		return "", f.blockErr
	}
	return `{"x":120,"y":5}`, nil
}

func (f *fakeRecognizer) SolveClickWord(image []byte, words []string) (string, error) {
	if f.clickErr != nil {
		return "", f.clickErr
	}
	return `[{"x":10,"y":20}]`, nil
}

// counter 线程安全的按路径计数器
type counter struct {
	mu sync.Mutex
	m  map[string]int
}

func newCounter() *counter { return &counter{m: map[string]int{}} }

func (c *counter) inc(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[path]++
	return c.m[path]
}

func (c *counter) get(path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[path]
}

func writeEnvelope(w http.ResponseWriter, code int, msg string, data any) {
	json.NewEncoder(w).Encode(map[string]any{"code": code, "msg": msg, "data": data})
}

func writeCaptchaData(w http.ResponseWriter) {
	img := base64.StdEncoding.EncodeToString([]byte{0x89, 0x50, 0x4e, 0x47})
	writeEnvelope(w, codeOK, "操作成功", map[string]any{
		"secretKey":           testSecretKey,
		"token":               "captcha-token",
		"originalImageBase64": img,
		"jigsawImageBase64":   img,
		"wordList":            []string{"你", "好"},
	})
}

// loginData 构造登录接口返回的加密用户信息
func loginData(t *testing.T, info *session.UserInfo) string {
	t.Helper()
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	encrypted, err := crypto.Encrypt(string(raw))
	require.NoError(t, err)
	return encrypted
}

func testUserConfig() *config.UserConfig {
	return &config.UserConfig{
		Phone:    "13800138000",
		Password: "secret-password",
		Device:   "Android",
		ClockIn: config.ClockInConfig{
			Mode: config.ModeEveryday,
			Location: config.LocationConfig{
				Address:   "江苏省苏州市虎丘区",
				Province:  "江苏省",
				City:      "苏州市",
				Area:      "虎丘区",
				Latitude:  31.29,
				Longitude: 120.57,
			},
		},
	}
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) (*Client, *session.Manager) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sess := session.NewManager(st, "13800138000", zap.NewNop())

	defaults := []Option{
		WithBaseURL(baseURL + "/"),
		WithSleep(func(time.Duration) {}),
	}
	c := NewClient(testUserConfig(), sess, &fakeRecognizer{}, zap.NewNop(), append(defaults, opts...)...)
	return c, sess
}

func seedSession(t *testing.T, sess *session.Manager) {
	t.Helper()
	require.NoError(t, sess.Set(context.Background(), &session.UserInfo{
		Token:    "tok-0",
		UserID:   "user-1",
		RoleKey:  "student",
		NikeName: "张三",
		Phone:    "13800138000",
		UserType: "student",
	}))
}

// TestLogin 完整登录流程：滑块验证码、加密凭据、解密用户信息并持久化
func TestLogin(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.inc(r.URL.Path)
		switch r.URL.Path {
		case "/session/captcha/v1/get":
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			writeEnvelope(w, codeOK, "操作成功", nil)
		case "/session/user/v6/login":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

			// 手机号与密码必须加密传输
			phone, err := crypto.Decrypt(body["phone"].(string))
			require.NoError(t, err)
			assert.Equal(t, "13800138000", phone)
			password, err := crypto.Decrypt(body["password"].(string))
			require.NoError(t, err)
			assert.Equal(t, "secret-password", password)
			assert.NotEmpty(t, body["captcha"])
			assert.Equal(t, "android", body["loginType"])
			assert.Equal(t, appVersion, body["version"])

			writeEnvelope(w, codeOK, "操作成功", loginData(t, &session.UserInfo{
				Token:    "tok-1",
				UserID:   "user-1",
				RoleKey:  "student",
				NikeName: "张三",
				Phone:    "13800138000",
				UserType: "student",
			}))
		default:
			t.Errorf("未预期的请求路径: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)

	info, err := c.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", info.Token)
	assert.Equal(t, "user-1", info.UserID)

	// 会话已持久化
	assert.Equal(t, "tok-1", sess.Token(context.Background()))
	assert.Equal(t, 1, calls.get("/session/user/v6/login"))
}

// TestLoginCaptchaRetry 验证码被拒绝后重新获取并重试
func TestLoginCaptchaRetry(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/captcha/v1/get":
			calls.inc(r.URL.Path)
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			// 前两次校验失败
			if calls.inc(r.URL.Path) <= 2 {
				writeEnvelope(w, codeCaptchaInvalid, "验证码校验失败", nil)
				return
			}
			writeEnvelope(w, codeOK, "操作成功", nil)
		case "/session/user/v6/login":
			writeEnvelope(w, codeOK, "操作成功", loginData(t, &session.UserInfo{
				Token: "tok-1", UserID: "user-1", RoleKey: "student",
				Phone: "13800138000", UserType: "student",
			}))
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background())
	require.NoError(t, err)
	// 每次尝试都重新获取验证码
	assert.Equal(t, 3, calls.get("/session/captcha/v1/get"))
	assert.Equal(t, 3, calls.get("/session/captcha/v1/check"))
}

// TestLoginCaptchaExhausted 限定次数内未通过返回 ErrChallengeFailed
func TestLoginCaptchaExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/captcha/v1/get":
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			writeEnvelope(w, codeCaptchaInvalid, "验证码校验失败", nil)
		}
	}))
	defer srv.Close()

	c, _ := newTestClient(t, srv.URL)

	_, err := c.Login(context.Background())
	assert.ErrorIs(t, err, captcha.ErrChallengeFailed)
}

// TestPostNetworkRetry 网络层故障按指数退避重试
func TestPostNetworkRetry(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.inc(r.URL.Path) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeEnvelope(w, codeOK, "操作成功", []any{})
	}))
	defer srv.Close()

	var waits []time.Duration
	c, sess := newTestClient(t, srv.URL, WithSleep(func(d time.Duration) { waits = append(waits, d) }))
	seedSession(t, sess)

	_, err := c.ListCheckins(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls.get("/attendence/clock/v2/listSynchro"))
	// base=1s factor=2
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

// TestPostNetworkRetryExhausted 重试耗尽后返回错误
func TestPostNetworkRetryExhausted(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.inc(r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL, WithMaxRetries(2))
	seedSession(t, sess)

	_, err := c.ListCheckins(context.Background())
	assert.Error(t, err)
	// 首次请求加 2 次重试
	assert.Equal(t, 3, calls.get("/attendence/clock/v2/listSynchro"))
}

// TestReAuthReplay token 失效触发一次重新登录并重放原请求
func TestReAuthReplay(t *testing.T) {
	calls := newCounter()
	var replayAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/attendence/clock/v2/listSynchro":
			if calls.inc(r.URL.Path) == 1 {
				writeEnvelope(w, 401, "token失效，请重新登录", nil)
				return
			}
			replayAuth = r.Header.Get("authorization")
			writeEnvelope(w, codeOK, "操作成功", []map[string]any{
				{"type": "START", "createTime": "2026-08-30 08:30:00", "address": "某地"},
			})
		case "/session/captcha/v1/get":
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			writeEnvelope(w, codeOK, "操作成功", nil)
		case "/session/user/v6/login":
			calls.inc(r.URL.Path)
			writeEnvelope(w, codeOK, "操作成功", loginData(t, &session.UserInfo{
				Token: "tok-new", UserID: "user-1", RoleKey: "student",
				Phone: "13800138000", UserType: "student",
			}))
		}
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	records, err := c.ListCheckins(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// 恰好一次登录、一次重放，且重放携带新 token
	assert.Equal(t, 1, calls.get("/session/user/v6/login"))
	assert.Equal(t, 2, calls.get("/attendence/clock/v2/listSynchro"))
	assert.Equal(t, "tok-new", replayAuth)
	assert.Equal(t, "tok-new", sess.Token(context.Background()))
}

// TestReAuthBounded 连续的 token 失效受共享尝试次数约束，不会无限重登
func TestReAuthBounded(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/attendence/clock/v2/listSynchro":
			// 重放后依然失效
			calls.inc(r.URL.Path)
			writeEnvelope(w, 401, "token失效，请重新登录", nil)
		case "/session/captcha/v1/get":
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			writeEnvelope(w, codeOK, "操作成功", nil)
		case "/session/user/v6/login":
			calls.inc(r.URL.Path)
			writeEnvelope(w, codeOK, "操作成功", loginData(t, &session.UserInfo{
				Token: "tok-new", UserID: "user-1", RoleKey: "student",
				Phone: "13800138000", UserType: "student",
			}))
		}
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL, WithMaxRetries(2))
	seedSession(t, sess)

	_, err := c.ListCheckins(context.Background())
	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr, "尝试次数耗尽后应终止为业务错误")
	// 首次请求加 2 次重放后终止
	assert.Equal(t, 3, calls.get("/attendence/clock/v2/listSynchro"))
	assert.Equal(t, 2, calls.get("/session/user/v6/login"))
}

// TestBusinessRejectionTerminal 中文业务错误立即终止，不重试
func TestBusinessRejectionTerminal(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.inc(r.URL.Path)
		writeEnvelope(w, 500, "当前时间不在打卡时间范围内", nil)
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	_, err := c.ListCheckins(context.Background())
	var bizErr *BusinessError
	require.ErrorAs(t, err, &bizErr)
	assert.Equal(t, "当前时间不在打卡时间范围内", bizErr.Msg)
	assert.Equal(t, 1, calls.get("/attendence/clock/v2/listSynchro"))
}

// TestFetchPlan 计划查询携带 userId+roleKey 签名
func TestFetchPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/practice/plan/v3/getPlanByStu", r.URL.Path)
		assert.Equal(t, "tok-0", r.Header.Get("authorization"))
		assert.Equal(t, "user-1", r.Header.Get("userid"))
		assert.Equal(t, "student", r.Header.Get("rolekey"))
		assert.Equal(t, crypto.Sign("user-1", "student"), r.Header.Get("sign"))

		writeEnvelope(w, codeOK, "操作成功", []map[string]any{
			{"planId": "plan-9", "planName": "2026 春季实习"},
		})
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	raw, err := c.FetchPlan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "plan-9", raw["planId"])
}

// TestFetchPlanEmpty 空列表返回 ErrNoPlan
func TestFetchPlanEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, codeOK, "操作成功", []any{})
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	_, err := c.FetchPlan(context.Background())
	assert.ErrorIs(t, err, ErrNoPlan)
}

// TestNotLoggedIn 无会话凭证时认证接口拒绝调用
func TestNotLoggedIn(t *testing.T) {
	c, _ := newTestClient(t, "http://127.0.0.1:1")

	_, err := c.FetchPlan(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	_, err = c.ListCheckins(context.Background())
	assert.ErrorIs(t, err, ErrNotLoggedIn)
	err = c.SubmitClockIn(context.Background(), SubmitRequest{Type: TypeStart})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

// TestSubmitClockIn 学生提交携带约定签名
func TestSubmitClockIn(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attendence/clock/v5/save", r.URL.Path)
		assert.Equal(t,
			crypto.Sign("Android", "START", "plan-9", "user-1", "江苏省苏州市虎丘区"),
			r.Header.Get("sign"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "START", body["type"])
		assert.Equal(t, "plan-9", body["planId"])
		assert.Equal(t, "user-1", body["userId"])
		assert.Equal(t, "中国", body["country"])
		assert.Equal(t, "NORMAL", body["state"])
		assert.Equal(t, "江苏省苏州市虎丘区", body["address"])

		writeEnvelope(w, codeOK, "操作成功", nil)
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	err := c.SubmitClockIn(context.Background(), SubmitRequest{Type: TypeStart, PlanID: "plan-9"})
	require.NoError(t, err)
}

// TestSubmitChallengeResubmission 行为验证码哨兵触发恰好一次重提交
func TestSubmitChallengeResubmission(t *testing.T) {
	calls := newCounter()
	var resubmitCaptcha any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/attendence/clock/v5/save":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if calls.inc(r.URL.Path) == 1 {
				assert.Nil(t, body["captcha"])
				writeEnvelope(w, codeOK, challengeSentinel, nil)
				return
			}
			resubmitCaptcha = body["captcha"]
			writeEnvelope(w, codeOK, "操作成功", nil)
		case "/attendence/clock/v1/get":
			calls.inc(r.URL.Path)
			writeCaptchaData(w)
		case "/attendence/clock/v1/check":
			writeEnvelope(w, codeOK, "操作成功", nil)
		}
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	err := c.SubmitClockIn(context.Background(), SubmitRequest{Type: TypeEnd, PlanID: "plan-9"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls.get("/attendence/clock/v5/save"))
	assert.Equal(t, 1, calls.get("/attendence/clock/v1/get"))
	assert.NotEmpty(t, resubmitCaptcha)
}

// TestSubmitChallengeFailed 点选验证码失败时提交终止
func TestSubmitChallengeFailed(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/attendence/clock/v5/save":
			calls.inc(r.URL.Path)
			writeEnvelope(w, codeOK, challengeSentinel, nil)
		case "/attendence/clock/v1/get":
			writeCaptchaData(w)
		case "/attendence/clock/v1/check":
			writeEnvelope(w, codeCaptchaInvalid, "验证码校验失败", nil)
		}
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	seedSession(t, sess)

	err := c.SubmitClockIn(context.Background(), SubmitRequest{Type: TypeEnd, PlanID: "plan-9"})
	assert.ErrorIs(t, err, captcha.ErrChallengeFailed)
	// 未重提交
	assert.Equal(t, 1, calls.get("/attendence/clock/v5/save"))
}

// TestListCheckinsTeacher 教师角色走教师接口
func TestListCheckinsTeacher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/attendence/clock/teacher/v1/listSynchro", r.URL.Path)
		writeEnvelope(w, codeOK, "操作成功", []any{})
	}))
	defer srv.Close()

	c, sess := newTestClient(t, srv.URL)
	require.NoError(t, sess.Set(context.Background(), &session.UserInfo{
		Token: "tok-0", UserID: "t-1", RoleKey: "teacher",
		Phone: "13800138000", UserType: "teacher",
	}))

	_, err := c.ListCheckins(context.Background())
	require.NoError(t, err)
}

// TestMonthWindow 当月查询区间格式
func TestMonthWindow(t *testing.T) {
	now := time.Date(2026, 2, 15, 10, 0, 0, 0, time.Local)
	start, end := monthWindow(now)
	assert.Equal(t, "2026-02-01 00:00:00", start)
	assert.Equal(t, "2026-02-28 00:00:00Z", end)

	now = time.Date(2026, 12, 1, 0, 0, 0, 0, time.Local)
	start, end = monthWindow(now)
	assert.Equal(t, "2026-12-01 00:00:00", start)
	assert.Equal(t, "2026-12-31 00:00:00Z", end)
}

// TestRecognizerFailureConsumesAttempt 识别失败消耗尝试次数
func TestRecognizerFailureConsumesAttempt(t *testing.T) {
	calls := newCounter()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/captcha/v1/get":
			calls.inc(r.URL.Path)
			writeCaptchaData(w)
		case "/session/captcha/v1/check":
			t.Error("识别失败时不应提交校验")
		}
	}))
	defer srv.Close()

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	sess := session.NewManager(st, "13800138000", zap.NewNop())
	c := NewClient(testUserConfig(), sess, &fakeRecognizer{blockErr: errors.New("识别超时")}, zap.NewNop(),
		WithBaseURL(srv.URL+"/"),
		WithSleep(func(time.Duration) {}))

	_, err = c.Login(context.Background())
	assert.ErrorIs(t, err, captcha.ErrChallengeFailed)
	assert.Equal(t, defaultCaptchaAttempts, calls.get("/session/captcha/v1/get"))
}
