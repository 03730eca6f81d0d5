package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidSignature 令牌被篡改或格式非法
	ErrInvalidSignature = errors.New("invalid token signature")
	// ErrExpired 令牌超过有效期
	ErrExpired = errors.New("token expired")
)

// Claims 邮箱归属令牌的声明。
// 令牌只做签名不做加密：载荷可见，防篡改与时效才是目标。
type Claims struct {
	MailboxID string `json:"mailbox_id"`
	jwt.RegisteredClaims
}

// Signer 签发与验证邮箱归属令牌。
//
// 令牌不落库：验证依赖签名 + 签发时间，有效期在验证时指定。
// 重放窗口被 TTL 限制，且验证操作本身幂等，重放只会产生冗余 no-op。
type Signer struct {
	secret []byte
}

// NewSigner 创建令牌签发器。密钥来自进程级配置，启动时加载一次。
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret)}
}

// Issue 为邮箱签发归属令牌，嵌入邮箱 ID 与当前时间。无副作用。
func (s *Signer) Issue(mailboxID string) (string, error) {
	claims := Claims{
		MailboxID: mailboxID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify 验证令牌并返回其中的邮箱 ID。
//
// 签名不合法或载荷被篡改返回 ErrInvalidSignature；
// 距签发时间超过 maxAge 返回 ErrExpired。
func (s *Signer) Verify(tokenString string, maxAge time.Duration) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidSignature
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrInvalidSignature
	}
	if claims.IssuedAt == nil || claims.MailboxID == "" {
		return "", ErrInvalidSignature
	}
	if time.Since(claims.IssuedAt.Time) > maxAge {
		return "", ErrExpired
	}

	return claims.MailboxID, nil
}
