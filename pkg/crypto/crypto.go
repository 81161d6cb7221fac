// Package crypto 工学云接口所需的加解密与签名工具
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// 接口约定的固定密钥与签名盐值，需与服务端保持一致
const (
	defaultKey = "23DbtQHR2UMbH6mJ"
	signSalt   = "3478cbbc33f84bd00d75d7dfa69e0daa"
)

var ErrMalformedCiphertext = errors.New("密文格式不正确")

// Encrypt 使用默认密钥进行 AES-128-ECB 加密，返回十六进制字符串
func Encrypt(plaintext string) (string, error) {
	ct, err := encryptECB([]byte(plaintext), []byte(defaultKey))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ct), nil
}

// EncryptBase64 使用指定密钥进行 AES-128-ECB 加密，返回 Base64 字符串
// 用于验证码校验场景，密钥由服务端随验证码一次性下发
func EncryptBase64(plaintext, key string) (string, error) {
	ct, err := encryptECB([]byte(plaintext), []byte(key))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt 使用默认密钥解密十六进制密文
func Decrypt(ciphertext string) (string, error) {
	raw, err := hex.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}
	pt, err := decryptECB(raw, []byte(defaultKey))
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Sign 按字段顺序拼接后计算 MD5 签名
// 字段顺序与取值范围是接口契约的一部分，由各接口分别约定
func Sign(fields ...string) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
	}
	b.WriteString(signSalt)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func encryptECB(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化加密器失败: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], padded[i:i+block.BlockSize()])
	}
	return out, nil
}

func decryptECB(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化解密器失败: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: 密文长度 %d 不是分组长度的整数倍", ErrMalformedCiphertext, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += block.BlockSize() {
		block.Decrypt(out[i:i+block.BlockSize()], ciphertext[i:i+block.BlockSize()])
	}
	return pkcs7Unpad(out, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: 数据为空", ErrMalformedCiphertext)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: 填充字节无效", ErrMalformedCiphertext)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("%w: 填充字节无效", ErrMalformedCiphertext)
		}
	}
	return data[:len(data)-padding], nil
}
