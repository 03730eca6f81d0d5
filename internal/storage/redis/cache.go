package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"aliasmail/backend/internal/config"
)

// RangeCache 基于 Redis 的泄露检查范围响应缓存。
//
// 键为 5 位摘要前缀：缓存内容即外部服务的公开范围响应，
// 不包含完整摘要，不会泄露被查询的密码。
type RangeCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRangeCache 创建 Redis 范围缓存并测试连接。
func NewRangeCache(cfg *config.RedisConfig, ttl time.Duration) (*RangeCache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RangeCache{rdb: rdb, ttl: ttl}, nil
}

func rangeKey(prefix string) string {
	return "breach:range:" + prefix
}

// GetRange 读取缓存的范围响应，未命中返回空字符串。
func (c *RangeCache) GetRange(ctx context.Context, prefix string) (string, error) {
	body, err := c.rdb.Get(ctx, rangeKey(prefix)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", err
	}
	return body, nil
}

// SetRange 写入范围响应，按配置的 TTL 过期。
func (c *RangeCache) SetRange(ctx context.Context, prefix, body string) error {
	return c.rdb.Set(ctx, rangeKey(prefix), body, c.ttl).Err()
}

// Ping 测试 Redis 连接
func (c *RangeCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close 关闭 Redis 连接
func (c *RangeCache) Close() error {
	return c.rdb.Close()
}
