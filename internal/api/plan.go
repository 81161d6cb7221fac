package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// FetchPlan 拉取当前实习计划，返回列表中的第一条原始计划数据
// 服务端返回空列表表示暂无计划，返回 ErrNoPlan 由调用方下次再试
func (c *Client) FetchPlan(ctx context.Context) (map[string]any, error) {
	info, err := c.requireSession(ctx)
	if err != nil {
		return nil, err
	}

	t, err := c.encryptedTimestamp()
	if err != nil {
		return nil, fmt.Errorf("加密时间戳失败: %w", err)
	}

	body := map[string]any{
		"pageSize": 999999,
		"t":        t,
	}
	// 计划查询接口的签名字段：userId + roleKey
	headers := c.authHeaders(info, info.UserID, info.RoleKey)

	env, err := c.post(ctx, "practice/plan/v3/getPlanByStu", headers, body)
	if err != nil {
		return nil, err
	}

	var list []map[string]any
	if err := json.Unmarshal(env.Data, &list); err != nil {
		return nil, fmt.Errorf("解析计划列表失败: %w", err)
	}
	if len(list) == 0 || list[0] == nil {
		return nil, ErrNoPlan
	}
	return list[0], nil
}
