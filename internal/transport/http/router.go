package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmail/backend/internal/auth"
	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/health"
	"aliasmail/backend/internal/middleware"
	"aliasmail/backend/internal/monitoring"
	"aliasmail/backend/internal/service"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config         *config.Config
	AuthService    *auth.Service
	MailboxService *service.MailboxService
	Metrics        *monitoring.Metrics
	HealthChecker  *health.HealthChecker
	Logger         *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.GinMiddleware())
	}

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时必须关闭凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.Logger)
	mailboxHandler := NewMailboxHandler(deps.MailboxService, deps.Logger)
	jwtAuth := middleware.NewJWTAuth(deps.AuthService.JWTManager(), deps.Logger)

	// 认证端点单独限流，降低撞库与泄露检查服务的放大风险
	authLimiter := middleware.NewRateLimiter(1, 10)

	// 运维端点
	if deps.HealthChecker != nil {
		router.GET("/live", gin.WrapH(deps.HealthChecker.Handler()))
		router.GET("/ready", gin.WrapH(deps.HealthChecker.Handler()))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"service": "aliasmail", "status": "ok"})
	})

	v1 := router.Group("/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.Use(authLimiter.Middleware())
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.GET("/me", jwtAuth.RequireAuth(), authHandler.Me)
		}

		mailboxes := v1.Group("/mailboxes")
		{
			// 验证链接从邮件点开，无登录态
			mailboxes.GET("/verify", mailboxHandler.Verify)

			authed := mailboxes.Group("")
			authed.Use(jwtAuth.RequireAuth())
			{
				authed.GET("", mailboxHandler.List)
				authed.POST("", mailboxHandler.Create)
				authed.POST("/:id/default", mailboxHandler.SetDefault)
				authed.POST("/:id/verify/resend", mailboxHandler.ResendVerification)
				authed.DELETE("/:id", mailboxHandler.Delete)
			}
		}
	}

	return router
}
