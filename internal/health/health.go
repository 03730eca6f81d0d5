package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"aliasmail/backend/internal/domain"
)

// Pinger Redis 等可选依赖的连通性检查。
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  domain.Store
	cache  Pinger
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器。cache 可以为 nil。
func NewHealthChecker(store domain.Store, cache Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		cache:  cache,
		logger: logger,
	}
	hc.addChecks()
	return hc
}

func (hc *HealthChecker) addChecks() {
	// 存储连接检查
	hc.health.AddReadinessCheck("storage", func() error {
		return hc.store.Health()
	})

	// Redis 连接检查
	if hc.cache != nil {
		hc.health.AddReadinessCheck("redis", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return hc.cache.Ping(ctx)
		})
	}

	// 协程数量异常通常意味着 worker 或连接泄漏
	hc.health.AddLivenessCheck("goroutine-count", healthcheck.GoroutineCountCheck(2000))
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}
