package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"ALIASMAIL_MAILBOX_SECRET",
		"ALIASMAIL_JWT_SECRET",
		"ALIASMAIL_SERVER_HOST",
		"ALIASMAIL_SERVER_PORT",
		"ALIASMAIL_MAILBOX_VERIFICATION_TTL",
		"ALIASMAIL_MAILBOX_BASE_URL",
		"ALIASMAIL_BREACH_ENABLED",
		"ALIASMAIL_WORKER_MAX_ATTEMPTS",
		"ALIASMAIL_LOG_LEVEL",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	setSecrets := func() {
		os.Setenv("ALIASMAIL_MAILBOX_SECRET", "test-mailbox-secret-for-development-32-chars")
		os.Setenv("ALIASMAIL_JWT_SECRET", "test-jwt-secret-key-for-development-32-chars")
	}

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		setSecrets()

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		// 验证默认值
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 900*time.Second, cfg.Mailbox.VerificationTTL)
		assert.Equal(t, "http://localhost:8080", cfg.Mailbox.BaseURL)
		assert.True(t, cfg.Breach.Enabled)
		assert.Equal(t, "https://api.pwnedpasswords.com/range/", cfg.Breach.Endpoint)
		assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.Equal(t, 15*time.Minute, cfg.JWT.AccessExpiry)
		assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshExpiry)
		assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
		assert.Equal(t, 10*time.Minute, cfg.Worker.StaleTimeout)
		assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		setSecrets()
		os.Setenv("ALIASMAIL_SERVER_HOST", "127.0.0.1")
		os.Setenv("ALIASMAIL_SERVER_PORT", "9090")
		os.Setenv("ALIASMAIL_MAILBOX_VERIFICATION_TTL", "600s")
		os.Setenv("ALIASMAIL_MAILBOX_BASE_URL", "https://app.example.com/")
		os.Setenv("ALIASMAIL_BREACH_ENABLED", "false")
		os.Setenv("ALIASMAIL_WORKER_MAX_ATTEMPTS", "5")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.Equal(t, "127.0.0.1", cfg.Server.Host)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Equal(t, 600*time.Second, cfg.Mailbox.VerificationTTL)
		// 基础 URL 末尾的斜杠被去掉，拼接验证链接时不会出现双斜杠
		assert.Equal(t, "https://app.example.com", cfg.Mailbox.BaseURL)
		assert.False(t, cfg.Breach.Enabled)
		assert.Equal(t, 5, cfg.Worker.MaxAttempts)
	})

	t.Run("缺少邮箱签名密钥时报错", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("ALIASMAIL_JWT_SECRET", "test-jwt-secret-key-for-development-32-chars")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("密钥过短时报错", func(t *testing.T) {
		setSecrets()
		os.Setenv("ALIASMAIL_MAILBOX_SECRET", "too-short")

		cfg, err := Load()

		assert.Error(t, err)
		assert.Nil(t, cfg)
	})
}
