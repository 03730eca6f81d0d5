package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// 验证相关的错误定义
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrEmailTooLong     = errors.New("email address too long")
	ErrPasswordTooShort = errors.New("password too short (min 8 chars)")
	ErrPasswordTooLong  = errors.New("password too long (max 72 chars)")
)

// 验证常量
const (
	// RFC 5322 邮箱地址最大长度
	MaxEmailLength = 254

	// 密码长度限制
	MinPasswordLength = 8
	// MaxPasswordLength 与 bcrypt 的 72 字节输入上限保持一致
	MaxPasswordLength = 72
)

// NormalizeEmail 规范化邮箱地址：转小写并去除所有空白字符。
// 入库前所有邮箱地址都必须经过规范化，保证唯一索引按规范形式比较。
func NormalizeEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return strings.ReplaceAll(normalized, " ", "")
}

// ValidateEmail 验证规范化后的邮箱地址
func ValidateEmail(email string) error {
	if len(email) > MaxEmailLength {
		return ErrEmailTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	// ParseAddress 接受无点域名，这里要求至少有一级域名
	parts := strings.Split(email, "@")
	if len(parts) != 2 || !strings.Contains(parts[1], ".") {
		return ErrInvalidEmail
	}

	return nil
}

// ValidatePassword 验证密码长度
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
