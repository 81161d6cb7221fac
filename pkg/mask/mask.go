// Package mask 个人信息脱敏
// 任何写入日志或通知内容的手机号、姓名都必须先经过本包处理
package mask

import "strings"

// Phone 手机号脱敏，保留前三位和后四位
func Phone(phone string) string {
	r := []rune(strings.TrimSpace(phone))
	if len(r) < 8 {
		return strings.Repeat("*", len(r))
	}
	return string(r[:3]) + "****" + string(r[len(r)-4:])
}

// Name 姓名脱敏，保留首尾字符，中间以星号代替；两字姓名只保留首字
func Name(name string) string {
	r := []rune(strings.TrimSpace(name))
	if len(r) == 0 {
		return ""
	}
	if len(r) < 3 {
		return string(r[0]) + "*"
	}
	return string(r[0]) + strings.Repeat("*", len(r)-2) + string(r[len(r)-1])
}
