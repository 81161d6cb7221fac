// Package captcha 行为验证码识别的外部能力边界
// 本包只约定输入输出契约，不包含识别算法；
// 获取验证码、提交校验的接口调用由 api 包负责
package captcha

import "errors"

// ErrChallengeFailed 验证码在限定次数内始终未通过，终态错误，上游不再重试
var ErrChallengeFailed = errors.New("验证码验证失败")

// Recognizer 验证码识别器
type Recognizer interface {
	// SolveBlockPuzzle 识别滑块拼图，输入拼图块与背景图，返回偏移轨迹 JSON
	SolveBlockPuzzle(piece, background []byte) (string, error)
	// SolveClickWord 识别文字点选，输入场景图与目标文字列表，返回点选坐标 JSON
	SolveClickWord(image []byte, words []string) (string, error)
}
