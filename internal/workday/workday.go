// Package workday 法定工作日查询
package workday

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Checker 判断某天是否为法定工作日
type Checker interface {
	IsWorkday(ctx context.Context, date time.Time) bool
}

const defaultBaseURL = "https://timor.tech/api/holiday"

// TimorChecker 通过 timor.tech 节假日接口实时查询
// 接口不可用或返回异常时降级为 weekday<5 判断
type TimorChecker struct {
	baseURL string
	client  *http.Client
	log     *zap.Logger
}

// NewTimorChecker 创建节假日查询器
func NewTimorChecker(log *zap.Logger) *TimorChecker {
	return &TimorChecker{
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     log,
	}
}

// NewTimorCheckerWithBaseURL 指定接口地址创建，测试用
func NewTimorCheckerWithBaseURL(baseURL string, log *zap.Logger) *TimorChecker {
	c := NewTimorChecker(log)
	c.baseURL = baseURL
	return c
}

type holidayResponse struct {
	Code int `json:"code"`
	Type struct {
		// 0=工作日 1=周末 2=节假日 3=调休补班
		Type *int `json:"type"`
	} `json:"type"`
}

// IsWorkday 查询 date 是否为法定工作日
func (c *TimorChecker) IsWorkday(ctx context.Context, date time.Time) bool {
	fallback := isWeekday(date)

	url := fmt.Sprintf("%s/info/%s", c.baseURL, date.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fallback
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64)")

	rsp, err := c.client.Do(req)
	if err != nil {
		c.log.Warn("节假日接口调用失败，降级为星期判断", zap.Error(err))
		return fallback
	}
	defer rsp.Body.Close()

	if rsp.StatusCode != http.StatusOK {
		c.log.Warn("节假日接口返回异常状态码", zap.Int("status", rsp.StatusCode))
		return fallback
	}

	var data holidayResponse
	if err := json.NewDecoder(rsp.Body).Decode(&data); err != nil {
		c.log.Warn("解析节假日接口响应失败", zap.Error(err))
		return fallback
	}
	if data.Code != 0 || data.Type.Type == nil {
		c.log.Warn("节假日接口业务码异常", zap.Int("code", data.Code))
		return fallback
	}

	dayType := *data.Type.Type
	// 调休补班也算工作日
	return dayType == 0 || dayType == 3
}

func isWeekday(date time.Time) bool {
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
