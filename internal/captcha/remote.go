package captcha

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteRecognizer 通过外部识别服务识别验证码
// 服务契约：POST {endpoint}/blockPuzzle 与 {endpoint}/clickWord，
// 请求体与响应体均为 JSON，图片以 Base64 传输
type RemoteRecognizer struct {
	endpoint string
	client   *http.Client
}

// NewRemoteRecognizer 创建远程识别器
func NewRemoteRecognizer(endpoint string) (*RemoteRecognizer, error) {
	if endpoint == "" {
		return nil, errors.New("未配置验证码识别服务地址")
	}
	return &RemoteRecognizer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type blockPuzzleRequest struct {
	JigsawImage   string `json:"jigsawImage"`
	OriginalImage string `json:"originalImage"`
}

type clickWordRequest struct {
	OriginalImage string   `json:"originalImage"`
	WordList      []string `json:"wordList"`
}

type solveResponse struct {
	Point string `json:"point"`
	Error string `json:"error"`
}

// SolveBlockPuzzle 识别滑块拼图
func (r *RemoteRecognizer) SolveBlockPuzzle(piece, background []byte) (string, error) {
	return r.solve("blockPuzzle", blockPuzzleRequest{
		JigsawImage:   base64.StdEncoding.EncodeToString(piece),
		OriginalImage: base64.StdEncoding.EncodeToString(background),
	})
}

// SolveClickWord 识别文字点选
func (r *RemoteRecognizer) SolveClickWord(image []byte, words []string) (string, error) {
	return r.solve("clickWord", clickWordRequest{
		OriginalImage: base64.StdEncoding.EncodeToString(image),
		WordList:      words,
	})
}

func (r *RemoteRecognizer) solve(kind string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化识别请求失败: %w", err)
	}

	rsp, err := r.client.Post(r.endpoint+"/"+kind, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("调用识别服务失败: %w", err)
	}
	defer rsp.Body.Close()

	data, err := io.ReadAll(rsp.Body)
	if err != nil {
		return "", fmt.Errorf("读取识别响应失败: %w", err)
	}
	if rsp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("识别服务返回状态码 %d", rsp.StatusCode)
	}

	var result solveResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("解析识别响应失败: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("识别服务报错: %s", result.Error)
	}
	if result.Point == "" {
		return "", errors.New("识别服务未返回结果")
	}
	return result.Point, nil
}
