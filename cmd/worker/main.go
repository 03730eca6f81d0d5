package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/logger"
	"aliasmail/backend/internal/mailer"
	"aliasmail/backend/internal/queue"
	"aliasmail/backend/internal/service"
	"aliasmail/backend/internal/storage/postgres"
)

// main 启动独立的删除 worker 进程。
//
// 多个 worker 进程可以共享同一张任务表：任务领取是原子的，
// 同一任务同一时刻至多被一个进程执行。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if cfg.Database.DSN == "" {
		panic("worker requires a postgres DSN: the in-memory store cannot be shared across processes")
	}

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

	store, err := postgres.NewStore(&cfg.Database, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize postgres storage: %v", err))
	}
	defer func() { _ = store.Close() }()

	smtpMailer := mailer.NewSMTPMailer(&cfg.SMTP, log)
	deletionHandler := service.NewDeletionHandler(store, smtpMailer, nil, log)

	worker := queue.NewWorker(store, &cfg.Worker, nil, log)
	worker.Register(domain.JobDeleteMailbox, deletionHandler.Handle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting standalone job worker",
		zap.Duration("poll_interval", cfg.Worker.PollInterval),
		zap.Duration("sweep_interval", cfg.Worker.SweepInterval),
	)
	if err := worker.Run(ctx); err != nil {
		log.Fatal("worker exited with error", zap.Error(err))
	}
	log.Info("worker stopped")
}
