// Package notify 打卡结果通知投递
package notify

import (
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kaka-niu/gongxueyun-action/internal/config"
)

// Notifier 通知投递接口
type Notifier interface {
	Send(title, content string) error
}

// Mailer 基于 SMTP 的邮件通知，逐个收件人投递，
// 单个收件人失败不影响其余收件人
type Mailer struct {
	cfg config.SMTPConfig
	log *zap.Logger

	// 单收件人投递函数，测试时替换
	deliver func(to, subject, body string) error
}

// NewMailer 创建邮件通知器
func NewMailer(cfg config.SMTPConfig, log *zap.Logger) *Mailer {
	m := &Mailer{cfg: cfg, log: log}
	m.deliver = m.deliverTLS
	return m
}

// Enabled 邮件通知是否已配置启用
func (m *Mailer) Enabled() bool {
	return m.cfg.Enable && m.cfg.Host != "" && len(m.cfg.To) > 0
}

// Send 向所有收件人投递通知
// 未启用时静默跳过；部分收件人失败时返回汇总错误，但不中断投递
func (m *Mailer) Send(title, content string) error {
	if !m.Enabled() {
		m.log.Debug("邮件通知未启用，跳过投递")
		return nil
	}

	var failed int
	for _, to := range m.cfg.To {
		if err := m.deliver(to, title, content); err != nil {
			m.log.Warn("邮件发送失败", zap.String("to", to), zap.Error(err))
			failed++
			continue
		}
		m.log.Info("邮件已发送", zap.String("to", to))
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d 个收件人发送失败", failed, len(m.cfg.To))
	}
	return nil
}

// buildMessage 组装 MIME 邮件报文
func buildMessage(from, to, subject, body string) []byte {
	lines := []string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
		"",
		body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

// deliverTLS 通过隐式 TLS 投递，连接失败时回退 STARTTLS
func (m *Mailer) deliverTLS(to, subject, body string) error {
	from := m.cfg.From
	if from == "" {
		from = m.cfg.Username
	}
	addr := m.cfg.Host + ":" + strconv.Itoa(m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	msg := buildMessage(from, to, subject, body)

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		// 465 隐式 TLS 连不上时尝试 STARTTLS
		m.log.Warn("TLS 连接失败，尝试 STARTTLS", zap.Error(err))
		if err := smtp.SendMail(addr, auth, from, []string{to}, msg); err != nil {
			return fmt.Errorf("发送邮件失败: %w", err)
		}
		return nil
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("创建 SMTP 客户端失败: %w", err)
	}
	defer client.Quit()

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP 认证失败: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("设置发件人失败: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("设置收件人失败: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("发送邮件正文失败: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("发送邮件正文失败: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("发送邮件正文失败: %w", err)
	}
	return nil
}
