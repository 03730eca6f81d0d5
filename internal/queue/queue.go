package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
)

// Queue 负责把延迟任务写入持久化存储。
// 任务先落库再由 worker 领取，进程崩溃不会丢任务。
type Queue struct {
	repo        storage.JobRepository
	maxAttempts int
}

// New 创建任务队列。
func New(repo storage.JobRepository, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Queue{repo: repo, maxAttempts: maxAttempts}
}

// Enqueue 序列化载荷并持久化一条任务，runAt 之后可被领取。
func (q *Queue) Enqueue(name string, payload interface{}, runAt time.Time) (*domain.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := time.Now()
	job := &domain.Job{
		ID:          uuid.New().String(),
		Name:        name,
		Payload:     body,
		State:       domain.JobStatePending,
		RunAt:       runAt,
		MaxAttempts: q.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := q.repo.EnqueueJob(job); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}
