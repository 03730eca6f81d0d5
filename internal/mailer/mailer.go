package mailer

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"aliasmail/backend/internal/config"
)

// SMTPMailer 通过上游 SMTP 提交服务发送生命周期通知邮件。
type SMTPMailer struct {
	cfg *config.SMTPConfig
	log *zap.Logger
}

// NewSMTPMailer 创建 SMTP 邮件发送器。
func NewSMTPMailer(cfg *config.SMTPConfig, log *zap.Logger) *SMTPMailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPMailer{cfg: cfg, log: log}
}

// SendVerification 发送邮箱验证邮件。
func (m *SMTPMailer) SendVerification(ctx context.Context, to, link string) error {
	body := fmt.Sprintf(
		"请在 15 分钟内点击以下链接验证您的邮箱：\r\n\r\n%s\r\n\r\n"+
			"如果这不是您的操作，请忽略本邮件。\r\n", link)
	return m.send(ctx, to, "验证您的邮箱", body)
}

// SendMailboxDeleted 发送邮箱删除完成通知。
func (m *SMTPMailer) SendMailboxDeleted(ctx context.Context, to, deletedEmail string) error {
	body := fmt.Sprintf(
		"您的邮箱 %s 已删除，关联的别名已按您的选择转移或移除。\r\n", deletedEmail)
	return m.send(ctx, to, "邮箱已删除", body)
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	msg := m.buildMessage(to, subject, body)

	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.cfg.Addr, auth, m.cfg.From, []string{to}, strings.NewReader(msg))
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send mail to %s: %w", to, err)
		}
	}

	m.log.Debug("mail sent",
		zap.String("to", to),
		zap.String("subject", subject))
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
