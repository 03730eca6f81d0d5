package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
	"aliasmail/backend/internal/storage/memory"
)

func testWorkerConfig() *config.WorkerConfig {
	return &config.WorkerConfig{
		PollInterval:  10 * time.Millisecond,
		SweepInterval: time.Minute,
		StaleTimeout:  10 * time.Minute,
		MaxAttempts:   3,
		RetryBackoff:  30 * time.Second,
	}
}

func TestQueue_Enqueue(t *testing.T) {
	t.Run("任务落库后处于 pending 状态", func(t *testing.T) {
		store := memory.NewStore()
		q := New(store, 3)

		mailboxID := "mb-1"
		job, err := q.Enqueue(domain.JobDeleteMailbox, domain.DeleteMailboxPayload{
			MailboxID: mailboxID,
		}, time.Now())
		require.NoError(t, err)

		stored, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatePending, stored.State)
		assert.Equal(t, 3, stored.MaxAttempts)

		payload, err := domain.DecodeDeleteMailboxPayload(stored.Payload)
		require.NoError(t, err)
		assert.Equal(t, mailboxID, payload.MailboxID)
		assert.Nil(t, payload.TransferMailboxID)
	})
}

func TestWorker_Process(t *testing.T) {
	enqueue := func(t *testing.T, store *memory.Store) *domain.Job {
		t.Helper()
		q := New(store, 3)
		job, err := q.Enqueue(domain.JobDeleteMailbox, domain.DeleteMailboxPayload{MailboxID: "mb-1"}, time.Now().Add(-time.Second))
		require.NoError(t, err)
		return job
	}

	t.Run("处理成功后任务完成", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		handled := 0
		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			handled++
			assert.Equal(t, job.ID, j.ID)
			return nil
		})

		w.drainDueJobs(context.Background())

		assert.Equal(t, 1, handled)
		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateDone, got.State)
	})

	t.Run("处理失败后按退避重新排期", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			return errors.New("transient failure")
		})

		before := time.Now()
		w.drainDueJobs(context.Background())

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatePending, got.State)
		assert.Equal(t, 1, got.Attempts)
		// 首次重试间隔为配置的基础退避
		assert.True(t, got.RunAt.After(before.Add(29*time.Second)), "退避时间足够长")
	})

	t.Run("重试耗尽后任务进入 failed", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			return errors.New("persistent failure")
		})

		for i := 0; i < 3; i++ {
			require.NoError(t, store.RescheduleJob(job.ID, time.Now().Add(-time.Second)))
			// RescheduleJob 会把状态重置回 pending，但不重置 attempts
			w.drainDueJobs(context.Background())
		}

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateFailed, got.State)
		assert.Equal(t, 3, got.Attempts)
		assert.Contains(t, got.LastError, "persistent failure")
	})

	t.Run("处理器 panic 转为重试", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			panic("boom")
		})

		w.drainDueJobs(context.Background())

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatePending, got.State, "panic 后重新排期而非丢失")
	})

	t.Run("未注册处理器的任务直接失败", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.drainDueJobs(context.Background())

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateFailed, got.State)
		assert.Contains(t, got.LastError, "no handler")
	})

	t.Run("处理器内部已完成任务时标记是 no-op", func(t *testing.T) {
		store := memory.NewStore()
		job := enqueue(t, store)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			// 模拟删除事务内部已将任务标记完成
			return store.MarkJobDone(j.ID)
		})

		w.drainDueJobs(context.Background())

		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateDone, got.State)
	})
}

func TestWorker_Run(t *testing.T) {
	t.Run("ctx 取消后正常退出", func(t *testing.T) {
		store := memory.NewStore()
		w := NewWorker(store, testWorkerConfig(), nil, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("worker 未在取消后退出")
		}
	})

	t.Run("后台循环处理到期任务", func(t *testing.T) {
		store := memory.NewStore()
		q := New(store, 3)
		job, err := q.Enqueue(domain.JobDeleteMailbox, domain.DeleteMailboxPayload{MailboxID: "mb-1"}, time.Now())
		require.NoError(t, err)

		w := NewWorker(store, testWorkerConfig(), nil, nil)
		w.Register(domain.JobDeleteMailbox, func(ctx context.Context, j *domain.Job) error {
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = w.Run(ctx) }()

		require.Eventually(t, func() bool {
			got, err := store.GetJob(job.ID)
			return err == nil && got.State == domain.JobStateDone
		}, time.Second, 10*time.Millisecond)
	})
}

func TestWorker_Sweep(t *testing.T) {
	t.Run("回收超时任务后可重新领取", func(t *testing.T) {
		store := memory.NewStore()
		q := New(store, 3)
		job, err := q.Enqueue(domain.JobDeleteMailbox, domain.DeleteMailboxPayload{MailboxID: "mb-1"}, time.Now().Add(-time.Hour))
		require.NoError(t, err)

		// 模拟崩溃的 worker：任务停留在 running
		_, err = store.ClaimDueJob(time.Now().Add(-20 * time.Minute))
		require.NoError(t, err)
		_, err = store.ClaimDueJob(time.Now())
		require.ErrorIs(t, err, storage.ErrNoDueJobs)

		reset, err := store.ResetStaleJobs(time.Now().Add(-10 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, reset)

		claimed, err := store.ClaimDueJob(time.Now())
		require.NoError(t, err)
		assert.Equal(t, job.ID, claimed.ID)
	})
}
