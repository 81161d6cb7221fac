package api

import "errors"

var (
	// ErrChallengeRequired 提交接口要求先通过行为验证码
	// 传输层不重试，原样抛给调用方驱动点选验证码流程
	ErrChallengeRequired = errors.New("触发行为验证码")

	// ErrNoPlan 服务端返回空的实习计划列表，视为"暂无计划"而不是故障
	ErrNoPlan = errors.New("未获取到实习计划")

	// ErrNotLoggedIn 需要认证的接口在无会话凭证时调用
	ErrNotLoggedIn = errors.New("尚未登录")

	// ErrEmptyLoginData 登录成功但返回数据为空
	ErrEmptyLoginData = errors.New("登录失败：返回数据为空")
)

// BusinessError 服务端返回的业务拒绝，终态错误，不再重试
type BusinessError struct {
	Code int
	Msg  string
}

func (e *BusinessError) Error() string {
	return e.Msg
}

// containsCJK 判断错误信息是否包含中文
// 携带中文的错误是面向用户的业务拒绝，立即终止；其余视为瞬时故障
func containsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}
