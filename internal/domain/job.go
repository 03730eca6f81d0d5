package domain

import (
	"encoding/json"
	"time"
)

// JobState 任务状态
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateRunning JobState = "running"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
)

// 任务名，用于路由到对应的处理器
const (
	JobDeleteMailbox = "delete_mailbox"
)

// Job 表示一条持久化的延迟任务。
//
// 任务被提交后对 worker 可见；worker 领取任务时把状态从 pending
// 原子地置为 running（同一任务同一时刻至多被一个 worker 执行）。
// 执行失败会记录错误并在有限次数内按指数退避重新排队，
// 超过次数后进入 failed，由运维显式处理。
type Job struct {
	ID          string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Name        string     `json:"name" gorm:"type:varchar(64);index;not null"`
	Payload     []byte     `json:"payload" gorm:"type:jsonb"`
	State       JobState   `json:"state" gorm:"type:varchar(16);index;default:'pending'"`
	RunAt       time.Time  `json:"runAt" gorm:"index"`
	Attempts    int        `json:"attempts" gorm:"default:0"`
	MaxAttempts int        `json:"maxAttempts" gorm:"default:3"`
	LastError   string     `json:"lastError,omitempty" gorm:"type:text"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// DeleteMailboxPayload delete_mailbox 任务的载荷。
// TransferMailboxID 为 nil 时表示不转移，别名随邮箱级联删除。
type DeleteMailboxPayload struct {
	MailboxID         string  `json:"mailbox_id"`
	TransferMailboxID *string `json:"transfer_mailbox_id"`
}

// DecodeDeleteMailboxPayload 解析 delete_mailbox 任务载荷。
func DecodeDeleteMailboxPayload(raw []byte) (*DeleteMailboxPayload, error) {
	var p DeleteMailboxPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
