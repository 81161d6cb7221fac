package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/session"
)

// RecordType 打卡类型
type RecordType string

const (
	TypeStart RecordType = "START" // 上班卡
	TypeEnd   RecordType = "END"   // 下班卡
)

// Display 打卡类型的展示名称
func (t RecordType) Display() string {
	switch t {
	case TypeStart:
		return "上班"
	case TypeEnd:
		return "下班"
	default:
		return string(t)
	}
}

// TimeLayout 服务端时间字段格式
const TimeLayout = "2006-01-02 15:04:05"

// Record 服务端返回的打卡记录，本客户端只读
type Record struct {
	Type       string `json:"type"`
	CreateTime string `json:"createTime"`
	Address    string `json:"address"`
}

// Time 解析记录的创建时间
func (r Record) Time() (time.Time, error) {
	return time.ParseInLocation(TimeLayout, r.CreateTime, time.Local)
}

// ListCheckins 获取当月打卡记录，月初无记录时返回空列表
func (c *Client) ListCheckins(ctx context.Context) ([]Record, error) {
	info, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	path := "attendence/clock/v2/listSynchro"
	if info.UserType == "teacher" {
		path = "attendence/clock/teacher/v1/listSynchro"
	}

	t, err := c.encryptedTimestamp()
	if err != nil {
		return nil, fmt.Errorf("加密时间戳失败: %w", err)
	}
	start, end := monthWindow(c.now())
	body := map[string]any{
		"startTime": start,
		"endTime":   end,
		"t":         t,
	}

	env, err := c.post(ctx, path, c.authHeaders(info), body)
	if err != nil {
		return nil, err
	}

	var records []Record
	if err := json.Unmarshal(env.Data, &records); err != nil {
		return nil, fmt.Errorf("解析打卡记录失败: %w", err)
	}
	return records, nil
}

// monthWindow 当月第一天到最后一天的查询区间
// 结束时间的 Z 后缀是服务端接口的历史格式，需原样保留
func monthWindow(now time.Time) (string, string) {
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	endOfMonth := startOfMonth.AddDate(0, 1, -1)
	return startOfMonth.Format(TimeLayout), endOfMonth.Format("2006-01-02 00:00:00Z")
}

// SubmitRequest 打卡提交参数
type SubmitRequest struct {
	Type              RecordType
	PlanID            string
	LastDetailAddress string
	Description       string
}

// SubmitClockIn 提交打卡
// 响应携带行为验证码哨兵时，通过一次文字点选验证码并附带凭证重新提交，
// 仅重提交一次，返回重提交的结果
func (c *Client) SubmitClockIn(ctx context.Context, req SubmitRequest) error {
	info, err := c.requireSession(ctx)
	if err != nil {
		return err
	}

	path := "attendence/clock/v5/save"
	var signFields []string
	if info.UserType == "teacher" {
		path = "attendence/clock/teacher/v2/save"
	} else {
		// 学生提交接口的签名字段：device + type + planId + userId + address
		signFields = []string{
			c.cfg.Device,
			string(req.Type),
			req.PlanID,
			info.UserID,
			c.cfg.ClockIn.Location.Address,
		}
	}

	body, err := c.clockBody(info, req)
	if err != nil {
		return err
	}
	headers := c.authHeaders(info, signFields...)

	c.log.Info("提交打卡", zap.String("type", string(req.Type)))
	_, err = c.post(ctx, path, headers, body)
	if errors.Is(err, ErrChallengeRequired) {
		c.log.Info("检测到行为验证码，正在通过")
		proof, perr := c.passClickWord(ctx)
		if perr != nil {
			return perr
		}
		body["captcha"] = proof
		_, err = c.post(ctx, path, headers, body)
	}
	return err
}

// clockBody 构造打卡请求体
// 字段列表与取值需与客户端 App 保持一致，包括显式的 null 字段
func (c *Client) clockBody(info *session.UserInfo, req SubmitRequest) (map[string]any, error) {
	t, err := c.encryptedTimestamp()
	if err != nil {
		return nil, fmt.Errorf("加密时间戳失败: %w", err)
	}

	loc := c.cfg.ClockIn.Location
	return map[string]any{
		"distance":          nil,
		"content":           nil,
		"lastAddress":       nil,
		"lastDetailAddress": req.LastDetailAddress,
		"attendanceId":      nil,
		"country":           "中国",
		"createBy":          nil,
		"createTime":        c.now().Format(TimeLayout),
		"description":       req.Description,
		"device":            c.cfg.Device,
		"images":            nil,
		"isDeleted":         nil,
		"isReplace":         nil,
		"modifiedBy":        nil,
		"modifiedTime":      nil,
		"schoolId":          nil,
		"state":             "NORMAL",
		"teacherId":         nil,
		"teacherNumber":     nil,
		"type":              string(req.Type),
		"stuId":             nil,
		"planId":            req.PlanID,
		"attendanceType":    nil,
		"username":          nil,
		"attachments":       nil,
		"userId":            info.UserID,
		"isSYN":             nil,
		"studentId":         nil,
		"applyState":        nil,
		"studentNumber":     nil,
		"memberNumber":      nil,
		"headImg":           nil,
		"attendenceTime":    nil,
		"depName":           nil,
		"majorName":         nil,
		"className":         nil,
		"logDtoList":        nil,
		"isBeyondFence":     nil,
		"practiceAddress":   nil,
		"tpJobId":           nil,
		"address":           loc.Address,
		"province":          loc.Province,
		"city":              loc.City,
		"area":              loc.Area,
		"latitude":          loc.Latitude,
		"longitude":         loc.Longitude,
		"t":                 t,
	}, nil
}
