package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/monitoring"
	"aliasmail/backend/internal/storage"
)

// HandlerFunc 处理一条已领取的任务。
// 返回 nil 表示任务完成；返回错误会触发退避重试，
// 重试次数耗尽后任务进入 failed 状态。
type HandlerFunc func(ctx context.Context, job *domain.Job) error

// Worker 轮询任务存储并分发到已注册的处理器。
//
// 领取是原子的（pending -> running），多个 worker 进程可以
// 安全地共享同一张任务表。交付语义是至少一次：处理器
// 必须容忍同一任务的重复投递。
type Worker struct {
	repo     storage.JobRepository
	handlers map[string]HandlerFunc
	cfg      *config.WorkerConfig
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// NewWorker 创建任务 worker。metrics 可以为 nil。
func NewWorker(repo storage.JobRepository, cfg *config.WorkerConfig, metrics *monitoring.Metrics, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		repo:     repo,
		handlers: make(map[string]HandlerFunc),
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
	}
}

// Register 注册任务处理器。同名注册会覆盖。
func (w *Worker) Register(name string, handler HandlerFunc) {
	w.handlers[name] = handler
}

// Run 启动轮询与超时回收两个循环，阻塞直到 ctx 取消。
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pollLoop(ctx) })
	g.Go(func() error { return w.sweepLoop(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (w *Worker) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drainDueJobs(ctx)
		}
	}
}

// drainDueJobs 一次 tick 内领完所有到期任务。
func (w *Worker) drainDueJobs(ctx context.Context) {
	for {
		job, err := w.repo.ClaimDueJob(time.Now())
		if err != nil {
			if !errors.Is(err, storage.ErrNoDueJobs) {
				w.log.Error("failed to claim job", zap.Error(err))
			}
			return
		}
		w.process(ctx, job)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	log := w.log.With(
		zap.String("jobID", job.ID),
		zap.String("jobName", job.Name),
		zap.Int("attempt", job.Attempts))

	handler, ok := w.handlers[job.Name]
	if !ok {
		log.Error("no handler registered for job")
		w.fail(job, fmt.Sprintf("no handler for job %q", job.Name))
		return
	}

	err := w.invoke(ctx, handler, job)
	if err == nil {
		// 处理器内部可能已把任务标记完成，重复标记是 no-op
		if markErr := w.repo.MarkJobDone(job.ID); markErr != nil {
			log.Error("failed to mark job done", zap.Error(markErr))
			return
		}
		if w.metrics != nil {
			w.metrics.JobsSucceeded.WithLabelValues(job.Name).Inc()
		}
		log.Info("job completed")
		return
	}

	if job.Attempts < job.MaxAttempts {
		// 指数退避：base * 2^(attempts-1)
		backoff := w.cfg.RetryBackoff << (job.Attempts - 1)
		retryAt := time.Now().Add(backoff)
		if rescheduleErr := w.repo.RescheduleJob(job.ID, retryAt); rescheduleErr != nil {
			log.Error("failed to reschedule job", zap.Error(rescheduleErr))
			return
		}
		if w.metrics != nil {
			w.metrics.JobsRetried.WithLabelValues(job.Name).Inc()
		}
		log.Warn("job failed, retry scheduled",
			zap.Error(err),
			zap.Time("retryAt", retryAt))
		return
	}

	log.Error("job failed permanently", zap.Error(err))
	w.fail(job, err.Error())
}

// invoke 执行处理器并把 panic 转成普通错误
func (w *Worker) invoke(ctx context.Context, handler HandlerFunc, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if w.metrics != nil {
				w.metrics.PanicsTotal.Inc()
			}
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) fail(job *domain.Job, reason string) {
	if err := w.repo.MarkJobFailed(job.ID, reason); err != nil {
		w.log.Error("failed to mark job failed",
			zap.String("jobID", job.ID), zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.JobsFailed.WithLabelValues(job.Name).Inc()
	}
}

func (w *Worker) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reset, err := w.repo.ResetStaleJobs(time.Now().Add(-w.cfg.StaleTimeout))
			if err != nil {
				w.log.Error("failed to reset stale jobs", zap.Error(err))
				continue
			}
			if reset > 0 {
				if w.metrics != nil {
					w.metrics.JobsStale.Add(float64(reset))
				}
				w.log.Warn("reset stale running jobs", zap.Int("count", reset))
			}
		}
	}
}
