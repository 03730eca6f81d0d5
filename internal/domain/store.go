package domain

import "time"

// Store 聚合所有存储接口
//
// 持久层是唯一的共享可变资源：跨实体不变量（默认邮箱唯一、
// 别名转移原子性）全部通过存储层的原子操作保证，而不是进程内锁，
// 因为请求进程和 worker 进程可能分布在多台机器上。
type Store interface {
	// ========== User Repository ==========
	CreateUser(user *User) error
	// CreateUserWithMailbox 在一个原子操作内创建用户及其账户邮箱，
	// 并把该邮箱设为默认。账户初始化后的默认邮箱不变量由此建立。
	CreateUserWithMailbox(user *User, mailbox *Mailbox) error
	GetUserByID(id string) (*User, error)
	GetUserByEmail(email string) (*User, error)
	UpdateUser(user *User) error

	// ========== Mailbox Repository ==========
	CreateMailbox(mailbox *Mailbox) error
	GetMailbox(id string) (*Mailbox, error)
	GetMailboxByEmail(email string) (*Mailbox, error)
	ListMailboxesByUserID(userID string) ([]Mailbox, error) // 创建时间倒序
	CountMailboxesByUserID(userID string) (int, error)
	// MarkMailboxVerified 幂等：重复验证已验证邮箱是 no-op 而非错误。
	MarkMailboxVerified(id string) error
	// SetDefaultMailbox 原子地切换用户默认邮箱。
	// 操作内部重读邮箱的归属与验证状态，未验证或非本人邮箱会被拒绝。
	SetDefaultMailbox(userID, mailboxID string) error
	DeleteMailbox(id string) error

	// ========== Alias Repository ==========
	CreateAlias(alias *Alias) error
	ListAliasesByMailboxID(mailboxID string) ([]Alias, error)
	// ReassignAliases 批量转移别名归属，返回转移数量。
	ReassignAliases(fromMailboxID, toMailboxID string) (int, error)

	// ========== Job Repository ==========
	EnqueueJob(job *Job) error
	GetJob(id string) (*Job, error)
	// ClaimDueJob 原子领取一条到期的 pending 任务（状态置为 running
	// 并递增 attempts）。没有到期任务时返回 ErrNoDueJobs。
	ClaimDueJob(now time.Time) (*Job, error)
	MarkJobDone(id string) error
	MarkJobFailed(id string, errMsg string) error
	// RescheduleJob 把任务重新排回 pending，在 runAt 之后可再次领取。
	RescheduleJob(id string, runAt time.Time) error
	// ResetStaleJobs 把 startedAt 早于 olderThan 的 running 任务重置为
	// pending（回收 worker 崩溃遗留的任务），返回重置数量。
	ResetStaleJobs(olderThan time.Time) (int, error)

	// ========== Lifecycle ==========
	// ExecuteMailboxDeletion 在一个事务内完成：别名转移（如有目标）、
	// 邮箱删除、任务标记 done。要么全部生效要么全部不生效。
	// 邮箱已不存在时视为成功（重投递容忍），返回 deleted=false。
	// 目标邮箱仍是当前默认邮箱时拒绝删除。
	ExecuteMailboxDeletion(jobID, mailboxID string, transferMailboxID *string) (deleted bool, err error)

	Health() error
	Close() error
}
