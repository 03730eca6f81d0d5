package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-signing-secret-32-chars-minimum"

func TestSigner_IssueAndVerify(t *testing.T) {
	signer := NewSigner(testSecret)

	t.Run("签发后可在有效期内验证", func(t *testing.T) {
		tok, err := signer.Issue("mailbox-123")
		require.NoError(t, err)

		mailboxID, err := signer.Verify(tok, 900*time.Second)
		assert.NoError(t, err)
		assert.Equal(t, "mailbox-123", mailboxID)
	})

	t.Run("有效期内重复验证结果一致", func(t *testing.T) {
		tok, err := signer.Issue("mailbox-456")
		require.NoError(t, err)

		first, err1 := signer.Verify(tok, 900*time.Second)
		second, err2 := signer.Verify(tok, 900*time.Second)

		assert.NoError(t, err1)
		assert.NoError(t, err2)
		assert.Equal(t, first, second)
	})
}

func TestSigner_Verify_InvalidSignature(t *testing.T) {
	signer := NewSigner(testSecret)

	t.Run("篡改载荷被拒绝", func(t *testing.T) {
		tok, err := signer.Issue("mailbox-123")
		require.NoError(t, err)

		parts := strings.Split(tok, ".")
		require.Len(t, parts, 3)
		tampered := parts[0] + ".eyJtYWlsYm94X2lkIjoib3RoZXIifQ." + parts[2]

		_, err = signer.Verify(tampered, 900*time.Second)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("其他密钥签发的令牌被拒绝", func(t *testing.T) {
		other := NewSigner("another-signing-secret-32-chars-minimum!")
		tok, err := other.Issue("mailbox-123")
		require.NoError(t, err)

		_, err = signer.Verify(tok, 900*time.Second)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("乱码令牌被拒绝", func(t *testing.T) {
		_, err := signer.Verify("not-a-token", 900*time.Second)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestSigner_Verify_Expired(t *testing.T) {
	signer := NewSigner(testSecret)

	// 手工构造一个签发于 TTL 之外的令牌
	claims := Claims{
		MailboxID: "mailbox-123",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now().Add(-20 * time.Minute)),
		},
	}
	stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	t.Run("超过有效期返回过期错误", func(t *testing.T) {
		_, err := signer.Verify(stale, 900*time.Second)
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("更长的有效期仍可接受", func(t *testing.T) {
		mailboxID, err := signer.Verify(stale, time.Hour)
		assert.NoError(t, err)
		assert.Equal(t, "mailbox-123", mailboxID)
	})
}
