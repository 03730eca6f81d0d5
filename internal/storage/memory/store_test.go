package memory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
)

func newTestUser(email string) *domain.User {
	return &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: "hash",
		Tier:         domain.TierFree,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
}

func newTestMailbox(userID, email string, verified bool) *domain.Mailbox {
	return &domain.Mailbox{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		Verified:  verified,
		CreatedAt: time.Now(),
	}
}

// seedUser 创建带默认邮箱的用户，返回用户与默认邮箱。
func seedUser(t *testing.T, store *Store, email string) (*domain.User, *domain.Mailbox) {
	t.Helper()
	user := newTestUser(email)
	mailbox := newTestMailbox(user.ID, email, true)
	require.NoError(t, store.CreateUserWithMailbox(user, mailbox))
	return user, mailbox
}

func TestStore_CreateUserWithMailbox(t *testing.T) {
	t.Run("创建用户并设置默认邮箱", func(t *testing.T) {
		store := NewStore()
		user, mailbox := seedUser(t, store, "alice@example.com")

		got, err := store.GetUserByID(user.ID)
		require.NoError(t, err)
		assert.Equal(t, mailbox.ID, got.DefaultMailboxID)

		mb, err := store.GetMailbox(mailbox.ID)
		require.NoError(t, err)
		assert.True(t, mb.Verified)
	})

	t.Run("重复邮箱地址返回用户已存在", func(t *testing.T) {
		store := NewStore()
		seedUser(t, store, "alice@example.com")

		user := newTestUser("alice@example.com")
		mailbox := newTestMailbox(user.ID, "alice@example.com", true)
		err := store.CreateUserWithMailbox(user, mailbox)
		assert.ErrorIs(t, err, storage.ErrUserExists)
	})
}

func TestStore_Mailbox(t *testing.T) {
	t.Run("地址冲突返回已存在错误", func(t *testing.T) {
		store := NewStore()
		user, mailbox := seedUser(t, store, "alice@example.com")

		dup := newTestMailbox(user.ID, mailbox.Email, false)
		err := store.CreateMailbox(dup)
		assert.ErrorIs(t, err, storage.ErrEmailExists)
	})

	t.Run("列表按创建时间倒序", func(t *testing.T) {
		store := NewStore()
		user, first := seedUser(t, store, "alice@example.com")

		second := newTestMailbox(user.ID, "backup@example.com", false)
		second.CreatedAt = first.CreatedAt.Add(time.Minute)
		require.NoError(t, store.CreateMailbox(second))

		list, err := store.ListMailboxesByUserID(user.ID)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, second.ID, list[0].ID)
		assert.Equal(t, first.ID, list[1].ID)

		count, err := store.CountMailboxesByUserID(user.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("重复标记已验证是幂等操作", func(t *testing.T) {
		store := NewStore()
		user, _ := seedUser(t, store, "alice@example.com")

		mailbox := newTestMailbox(user.ID, "backup@example.com", false)
		require.NoError(t, store.CreateMailbox(mailbox))

		require.NoError(t, store.MarkMailboxVerified(mailbox.ID))
		require.NoError(t, store.MarkMailboxVerified(mailbox.ID))

		got, err := store.GetMailbox(mailbox.ID)
		require.NoError(t, err)
		assert.True(t, got.Verified)
	})

	t.Run("标记不存在的邮箱返回未找到", func(t *testing.T) {
		store := NewStore()
		err := store.MarkMailboxVerified(uuid.New().String())
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
	})
}

func TestStore_SetDefaultMailbox(t *testing.T) {
	t.Run("切换到已验证邮箱", func(t *testing.T) {
		store := NewStore()
		user, _ := seedUser(t, store, "alice@example.com")

		backup := newTestMailbox(user.ID, "backup@example.com", true)
		require.NoError(t, store.CreateMailbox(backup))

		require.NoError(t, store.SetDefaultMailbox(user.ID, backup.ID))

		got, err := store.GetUserByID(user.ID)
		require.NoError(t, err)
		assert.Equal(t, backup.ID, got.DefaultMailboxID)
	})

	t.Run("未验证邮箱不能设为默认", func(t *testing.T) {
		store := NewStore()
		user, original := seedUser(t, store, "alice@example.com")

		backup := newTestMailbox(user.ID, "backup@example.com", false)
		require.NoError(t, store.CreateMailbox(backup))

		err := store.SetDefaultMailbox(user.ID, backup.ID)
		assert.ErrorIs(t, err, storage.ErrMailboxNotVerified)

		got, _ := store.GetUserByID(user.ID)
		assert.Equal(t, original.ID, got.DefaultMailboxID, "失败后默认邮箱保持不变")
	})

	t.Run("不能设置他人邮箱为默认", func(t *testing.T) {
		store := NewStore()
		alice, _ := seedUser(t, store, "alice@example.com")
		_, bobBox := seedUser(t, store, "bob@example.com")

		err := store.SetDefaultMailbox(alice.ID, bobBox.ID)
		assert.ErrorIs(t, err, storage.ErrNotMailboxOwner)
	})
}

func TestStore_ClaimDueJob(t *testing.T) {
	enqueue := func(t *testing.T, store *Store, runAt time.Time) *domain.Job {
		t.Helper()
		job := &domain.Job{
			ID:          uuid.New().String(),
			Name:        domain.JobDeleteMailbox,
			Payload:     []byte(`{}`),
			State:       domain.JobStatePending,
			RunAt:       runAt,
			MaxAttempts: 3,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.EnqueueJob(job))
		return job
	}

	t.Run("领取最早到期的任务", func(t *testing.T) {
		store := NewStore()
		now := time.Now()
		enqueue(t, store, now.Add(-time.Minute))
		earliest := enqueue(t, store, now.Add(-time.Hour))
		enqueue(t, store, now.Add(time.Hour)) // 未到期

		job, err := store.ClaimDueJob(now)
		require.NoError(t, err)
		assert.Equal(t, earliest.ID, job.ID)
		assert.Equal(t, domain.JobStateRunning, job.State)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.StartedAt)
	})

	t.Run("没有到期任务返回 ErrNoDueJobs", func(t *testing.T) {
		store := NewStore()
		enqueue(t, store, time.Now().Add(time.Hour))

		_, err := store.ClaimDueJob(time.Now())
		assert.ErrorIs(t, err, storage.ErrNoDueJobs)
	})

	t.Run("并发领取不会重复分配同一任务", func(t *testing.T) {
		store := NewStore()
		now := time.Now()
		const jobCount = 20
		for i := 0; i < jobCount; i++ {
			enqueue(t, store, now.Add(-time.Duration(i)*time.Second))
		}

		var mu sync.Mutex
		claimed := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 8; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := store.ClaimDueJob(now)
					if err != nil {
						return
					}
					mu.Lock()
					claimed[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, claimed, jobCount)
		for id, n := range claimed {
			assert.Equal(t, 1, n, fmt.Sprintf("任务 %s 被领取 %d 次", id, n))
		}
	})

	t.Run("重新排期后可再次领取", func(t *testing.T) {
		store := NewStore()
		now := time.Now()
		job := enqueue(t, store, now.Add(-time.Minute))

		claimed, err := store.ClaimDueJob(now)
		require.NoError(t, err)
		require.Equal(t, job.ID, claimed.ID)

		retryAt := now.Add(30 * time.Second)
		require.NoError(t, store.RescheduleJob(job.ID, retryAt))

		_, err = store.ClaimDueJob(now)
		assert.ErrorIs(t, err, storage.ErrNoDueJobs, "退避窗口内不可领取")

		again, err := store.ClaimDueJob(retryAt.Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)
		assert.Equal(t, 2, again.Attempts)
	})
}

func TestStore_JobStateTransitions(t *testing.T) {
	newJob := func(t *testing.T, store *Store) *domain.Job {
		t.Helper()
		job := &domain.Job{
			ID:          uuid.New().String(),
			Name:        domain.JobDeleteMailbox,
			Payload:     []byte(`{}`),
			RunAt:       time.Now().Add(-time.Minute),
			MaxAttempts: 3,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.EnqueueJob(job))
		return job
	}

	t.Run("重复标记完成是幂等操作", func(t *testing.T) {
		store := NewStore()
		job := newJob(t, store)

		require.NoError(t, store.MarkJobDone(job.ID))
		got, _ := store.GetJob(job.ID)
		finishedAt := got.FinishedAt

		require.NoError(t, store.MarkJobDone(job.ID))
		got, _ = store.GetJob(job.ID)
		assert.Equal(t, domain.JobStateDone, got.State)
		assert.Equal(t, finishedAt, got.FinishedAt)
	})

	t.Run("已完成的任务不会被再次领取", func(t *testing.T) {
		store := NewStore()
		job := newJob(t, store)
		require.NoError(t, store.MarkJobDone(job.ID))

		_, err := store.ClaimDueJob(time.Now())
		assert.ErrorIs(t, err, storage.ErrNoDueJobs)
	})

	t.Run("标记失败并记录错误信息", func(t *testing.T) {
		store := NewStore()
		job := newJob(t, store)

		require.NoError(t, store.MarkJobFailed(job.ID, "transfer mailbox missing"))
		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateFailed, got.State)
		assert.Equal(t, "transfer mailbox missing", got.LastError)
	})

	t.Run("回收超时的 running 任务", func(t *testing.T) {
		store := NewStore()
		job := &domain.Job{
			ID:          uuid.New().String(),
			Name:        domain.JobDeleteMailbox,
			Payload:     []byte(`{}`),
			RunAt:       time.Now().Add(-time.Hour),
			MaxAttempts: 3,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.EnqueueJob(job))

		// 模拟 20 分钟前被领取后 worker 崩溃
		_, err := store.ClaimDueJob(time.Now().Add(-20 * time.Minute))
		require.NoError(t, err)

		reset, err := store.ResetStaleJobs(time.Now().Add(-10 * time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, reset)

		again, err := store.ClaimDueJob(time.Now())
		require.NoError(t, err)
		assert.Equal(t, job.ID, again.ID)
	})
}

func TestStore_ExecuteMailboxDeletion(t *testing.T) {
	enqueueDeletion := func(t *testing.T, store *Store) string {
		t.Helper()
		job := &domain.Job{
			ID:          uuid.New().String(),
			Name:        domain.JobDeleteMailbox,
			Payload:     []byte(`{}`),
			RunAt:       time.Now(),
			MaxAttempts: 3,
			CreatedAt:   time.Now(),
		}
		require.NoError(t, store.EnqueueJob(job))
		return job.ID
	}

	t.Run("转移别名后删除邮箱", func(t *testing.T) {
		store := NewStore()
		user, defaultBox := seedUser(t, store, "alice@example.com")

		doomed := newTestMailbox(user.ID, "old@example.com", true)
		require.NoError(t, store.CreateMailbox(doomed))
		for i := 0; i < 3; i++ {
			require.NoError(t, store.CreateAlias(&domain.Alias{
				ID:        uuid.New().String(),
				MailboxID: doomed.ID,
				Address:   fmt.Sprintf("alias%d@example.com", i),
				Enabled:   true,
				CreatedAt: time.Now(),
			}))
		}

		jobID := enqueueDeletion(t, store)
		deleted, err := store.ExecuteMailboxDeletion(jobID, doomed.ID, &defaultBox.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		_, err = store.GetMailbox(doomed.ID)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)

		moved, err := store.ListAliasesByMailboxID(defaultBox.ID)
		require.NoError(t, err)
		assert.Len(t, moved, 3)

		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateDone, job.State)
	})

	t.Run("无转移目标时级联删除别名", func(t *testing.T) {
		store := NewStore()
		user, _ := seedUser(t, store, "alice@example.com")

		doomed := newTestMailbox(user.ID, "old@example.com", true)
		require.NoError(t, store.CreateMailbox(doomed))
		require.NoError(t, store.CreateAlias(&domain.Alias{
			ID:        uuid.New().String(),
			MailboxID: doomed.ID,
			Address:   "alias@example.com",
			Enabled:   true,
			CreatedAt: time.Now(),
		}))

		jobID := enqueueDeletion(t, store)
		deleted, err := store.ExecuteMailboxDeletion(jobID, doomed.ID, nil)
		require.NoError(t, err)
		assert.True(t, deleted)

		orphans, err := store.ListAliasesByMailboxID(doomed.ID)
		require.NoError(t, err)
		assert.Empty(t, orphans)
	})

	t.Run("默认邮箱在执行瞬间受保护", func(t *testing.T) {
		store := NewStore()
		user, _ := seedUser(t, store, "alice@example.com")

		target := newTestMailbox(user.ID, "backup@example.com", true)
		require.NoError(t, store.CreateMailbox(target))
		// 入队之后该邮箱被提升为默认
		require.NoError(t, store.SetDefaultMailbox(user.ID, target.ID))

		jobID := enqueueDeletion(t, store)
		deleted, err := store.ExecuteMailboxDeletion(jobID, target.ID, nil)
		assert.ErrorIs(t, err, storage.ErrDefaultMailbox)
		assert.False(t, deleted)

		_, err = store.GetMailbox(target.ID)
		assert.NoError(t, err, "邮箱未被删除")
	})

	t.Run("重投递时邮箱已删除视为成功", func(t *testing.T) {
		store := NewStore()
		user, defaultBox := seedUser(t, store, "alice@example.com")

		doomed := newTestMailbox(user.ID, "old@example.com", true)
		require.NoError(t, store.CreateMailbox(doomed))

		jobID := enqueueDeletion(t, store)
		deleted, err := store.ExecuteMailboxDeletion(jobID, doomed.ID, &defaultBox.ID)
		require.NoError(t, err)
		require.True(t, deleted)

		// 同一任务重投递
		deleted, err = store.ExecuteMailboxDeletion(jobID, doomed.ID, &defaultBox.ID)
		require.NoError(t, err)
		assert.False(t, deleted, "重投递不再触发删除")

		job, err := store.GetJob(jobID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStateDone, job.State)
	})

	t.Run("转移目标不存在返回未找到", func(t *testing.T) {
		store := NewStore()
		user, _ := seedUser(t, store, "alice@example.com")

		doomed := newTestMailbox(user.ID, "old@example.com", true)
		require.NoError(t, store.CreateMailbox(doomed))

		missing := uuid.New().String()
		jobID := enqueueDeletion(t, store)
		deleted, err := store.ExecuteMailboxDeletion(jobID, doomed.ID, &missing)
		assert.ErrorIs(t, err, storage.ErrMailboxNotFound)
		assert.False(t, deleted)
	})
}
