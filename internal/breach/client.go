package breach

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RangeCache 缓存范围查询响应，按 5 位摘要前缀索引。
// 缓存的是 k-匿名范围响应本身，不含完整摘要，不泄露被查询的密码。
type RangeCache interface {
	GetRange(ctx context.Context, prefix string) (string, error)
	SetRange(ctx context.Context, prefix, body string) error
}

// Client 查询外部密码泄露服务（k-匿名范围查询）。
//
// 只把 SHA-1 摘要的前 5 位发给外部服务，完整摘要的后缀匹配在本地完成，
// 外部服务永远看不到完整摘要或密码本身。
//
// disabled 为运维开关：关闭后非 bypass 调用一律按"未泄露"处理
// （有意的 fail-open 策略，保障可用性而非安全建议）；
// 需要强制检查的调用方传 bypass=true。
type Client struct {
	endpoint   string
	disabled   bool
	httpClient *http.Client
	cache      RangeCache
	log        *zap.Logger
}

// Option 配置 Client 的可选项
type Option func(*Client)

// WithCache 启用范围响应缓存。缓存时长由缓存实现自身决定。
func WithCache(cache RangeCache) Option {
	return func(c *Client) {
		c.cache = cache
	}
}

// WithHTTPClient 替换底层 HTTP 客户端（测试用）
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient 创建泄露检查客户端。
// enabled 来自进程级配置，作为显式依赖注入而不是环境全局状态。
func NewClient(endpoint string, enabled bool, timeout time.Duration, log *zap.Logger, opts ...Option) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/") + "/",
		disabled:   !enabled,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check 检查密码是否出现在泄露数据集中，返回泄露次数（0 表示未泄露）。
//
// 网络或服务故障原样返回错误，绝不静默降级为"安全"。
func (c *Client) Check(ctx context.Context, secret string, bypass bool) (int, error) {
	if c.disabled && !bypass {
		return 0, nil
	}

	sum := sha1.Sum([]byte(secret))
	digest := strings.ToUpper(fmt.Sprintf("%x", sum))
	prefix := digest[:5]
	suffix := digest[5:]

	body, err := c.fetchRange(ctx, prefix)
	if err != nil {
		return 0, err
	}

	return matchSuffix(body, suffix), nil
}

// fetchRange 获取指定前缀的范围响应，优先走缓存。
func (c *Client) fetchRange(ctx context.Context, prefix string) (string, error) {
	if c.cache != nil {
		if body, err := c.cache.GetRange(ctx, prefix); err == nil && body != "" {
			return body, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+prefix, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build range request: %w", err)
	}
	// 要求服务端填充零计数行，抵御响应大小侧信道
	req.Header.Set("Add-Padding", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("breach range lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("breach range lookup returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read range response: %w", err)
	}
	body := string(raw)

	if c.cache != nil {
		if err := c.cache.SetRange(ctx, prefix, body); err != nil {
			c.log.Warn("failed to cache breach range", zap.String("prefix", prefix), zap.Error(err))
		}
	}
	return body, nil
}

// matchSuffix 在范围响应中匹配摘要后缀，返回泄露次数。
// 响应为换行分隔的 "后缀:次数"；填充行次数为 0，先过滤再匹配。
func matchSuffix(body, suffix string) int {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || count <= 0 {
			continue
		}
		if strings.EqualFold(parts[0], suffix) {
			return count
		}
	}
	return 0
}
