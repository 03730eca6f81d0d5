package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aliasmail/backend/internal/auth"
	"aliasmail/backend/internal/breach"
	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/health"
	"aliasmail/backend/internal/logger"
	"aliasmail/backend/internal/mailer"
	"aliasmail/backend/internal/monitoring"
	"aliasmail/backend/internal/queue"
	"aliasmail/backend/internal/service"
	"aliasmail/backend/internal/storage/memory"
	"aliasmail/backend/internal/storage/postgres"
	redisstore "aliasmail/backend/internal/storage/redis"
	httptransport "aliasmail/backend/internal/transport/http"
)

// main 启动 HTTP API 与后台删除 worker 的综合服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting aliasmail server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层：配置了 DSN 使用 PostgreSQL，否则用内存存储（开发环境）
	var store domain.Store
	if cfg.Database.DSN != "" {
		pgStore, err := postgres.NewStore(&cfg.Database, log)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize postgres storage: %v", err))
		}
		if err := pgStore.AutoMigrate(); err != nil {
			panic(fmt.Sprintf("failed to migrate database: %v", err))
		}
		store = pgStore
		log.Info("using postgres storage")
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}
	defer func() { _ = store.Close() }()

	// 初始化监控与健康检查
	metrics := monitoring.NewMetrics()

	// Redis 范围缓存（可选）：降低对外部泄露检查服务的请求压力
	var breachOpts []breach.Option
	var cachePinger health.Pinger
	if cfg.Redis.Address != "" {
		rangeCache, err := redisstore.NewRangeCache(&cfg.Redis, cfg.Breach.CacheTTL)
		if err != nil {
			log.Warn("failed to connect to redis, breach range cache disabled", zap.Error(err))
		} else {
			breachOpts = append(breachOpts, breach.WithCache(rangeCache))
			cachePinger = rangeCache
			defer func() { _ = rangeCache.Close() }()
		}
	}

	healthChecker := health.NewHealthChecker(store, cachePinger, log)

	breachClient := breach.NewClient(
		cfg.Breach.Endpoint,
		cfg.Breach.Enabled,
		cfg.Breach.Timeout,
		log,
		breachOpts...,
	)

	// 初始化服务层
	smtpMailer := mailer.NewSMTPMailer(&cfg.SMTP, log)
	jobQueue := queue.New(store, cfg.Worker.MaxAttempts)
	authService := auth.NewService(store, breachClient, &cfg.JWT, log)
	mailboxService := service.NewMailboxService(store, jobQueue, smtpMailer, cfg, metrics, log)
	deletionHandler := service.NewDeletionHandler(store, smtpMailer, metrics, log)

	// 后台 worker 与 API 同进程运行；需要水平扩展时可改用 cmd/worker
	worker := queue.NewWorker(store, &cfg.Worker, metrics, log)
	worker.Register(domain.JobDeleteMailbox, deletionHandler.Handle)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		AuthService:    authService,
		MailboxService: mailboxService,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting job worker",
			zap.Duration("poll_interval", cfg.Worker.PollInterval),
			zap.Duration("stale_timeout", cfg.Worker.StaleTimeout),
		)
		return worker.Run(groupCtx)
	})

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		log.Info("shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
			return err
		}
		return nil
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}
