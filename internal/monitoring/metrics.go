package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// 邮箱生命周期指标
	MailboxesCreated   prometheus.Counter
	MailboxesVerified  prometheus.Counter
	MailboxesDeleted   prometheus.Counter
	DefaultSwitches    prometheus.Counter
	AliasesTransferred prometheus.Counter

	// 用户指标
	UsersRegistered  prometheus.Counter
	BreachedSecrets  prometheus.Counter
	BreachCheckFails prometheus.Counter

	// 任务队列指标
	JobsEnqueued  *prometheus.CounterVec
	JobsSucceeded *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsStale     prometheus.Counter

	// 错误指标
	PanicsTotal prometheus.Counter
}

// NewMetrics 创建监控指标
func NewMetrics() *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmail_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmail_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		MailboxesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_mailboxes_created_total",
			Help: "Total number of mailboxes created",
		}),
		MailboxesVerified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_mailboxes_verified_total",
			Help: "Total number of mailboxes verified",
		}),
		MailboxesDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_mailboxes_deleted_total",
			Help: "Total number of mailboxes deleted",
		}),
		DefaultSwitches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_default_mailbox_switches_total",
			Help: "Total number of default mailbox switches",
		}),
		AliasesTransferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_aliases_transferred_total",
			Help: "Total number of aliases moved during mailbox deletion",
		}),

		UsersRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_users_registered_total",
			Help: "Total number of registered users",
		}),
		BreachedSecrets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_breached_secrets_total",
			Help: "Total number of secrets rejected by the breach check",
		}),
		BreachCheckFails: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_breach_check_failures_total",
			Help: "Total number of failed breach oracle lookups",
		}),

		JobsEnqueued: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmail_jobs_enqueued_total",
				Help: "Total number of jobs enqueued",
			},
			[]string{"name"},
		),
		JobsSucceeded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmail_jobs_succeeded_total",
				Help: "Total number of jobs completed successfully",
			},
			[]string{"name"},
		),
		JobsRetried: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmail_jobs_retried_total",
				Help: "Total number of job retries scheduled",
			},
			[]string{"name"},
		),
		JobsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmail_jobs_failed_total",
				Help: "Total number of jobs exhausted or failed permanently",
			},
			[]string{"name"},
		),
		JobsStale: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_jobs_stale_reset_total",
			Help: "Total number of stale running jobs reset to pending",
		}),

		PanicsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aliasmail_panics_total",
			Help: "Total number of recovered panics",
		}),
	}
}

// GinMiddleware 返回记录 HTTP 指标的 gin 中间件
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		m.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
		m.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, endpoint,
		).Observe(time.Since(start).Seconds())
	}
}

// Handler 返回 Prometheus 指标导出端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
