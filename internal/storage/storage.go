package storage

import (
	"errors"
	"time"

	"aliasmail/backend/internal/domain"
)

var (
	// ErrMailboxNotFound 邮箱未找到错误
	ErrMailboxNotFound = errors.New("mailbox not found")
	// ErrUserNotFound 用户不存在错误
	ErrUserNotFound = errors.New("user not found")
	// ErrJobNotFound 任务不存在错误
	ErrJobNotFound = errors.New("job not found")
	// ErrEmailExists 邮箱地址已被占用错误
	ErrEmailExists = errors.New("email already exists")
	// ErrUserExists 用户已存在错误
	ErrUserExists = errors.New("user already exists")
	// ErrNoDueJobs 当前没有到期的 pending 任务
	ErrNoDueJobs = errors.New("no due jobs")
	// ErrNotMailboxOwner 邮箱不属于该用户
	ErrNotMailboxOwner = errors.New("mailbox not owned by user")
	// ErrMailboxNotVerified 邮箱未验证，不能设为默认
	ErrMailboxNotVerified = errors.New("mailbox not verified")
	// ErrDefaultMailbox 默认邮箱不能被删除
	ErrDefaultMailbox = errors.New("cannot delete default mailbox")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	CreateUser(user *domain.User) error
	CreateUserWithMailbox(user *domain.User, mailbox *domain.Mailbox) error
	GetUserByID(id string) (*domain.User, error)
	GetUserByEmail(email string) (*domain.User, error)
	UpdateUser(user *domain.User) error
}

// MailboxRepository 定义邮箱数据存取操作。
type MailboxRepository interface {
	CreateMailbox(mailbox *domain.Mailbox) error
	GetMailbox(id string) (*domain.Mailbox, error)
	GetMailboxByEmail(email string) (*domain.Mailbox, error)
	ListMailboxesByUserID(userID string) ([]domain.Mailbox, error)
	CountMailboxesByUserID(userID string) (int, error)
	MarkMailboxVerified(id string) error
	SetDefaultMailbox(userID, mailboxID string) error
	DeleteMailbox(id string) error
}

// AliasRepository 定义别名数据存取操作。
type AliasRepository interface {
	CreateAlias(alias *domain.Alias) error
	ListAliasesByMailboxID(mailboxID string) ([]domain.Alias, error)
	ReassignAliases(fromMailboxID, toMailboxID string) (int, error)
}

// JobRepository 定义延迟任务的持久化操作。
type JobRepository interface {
	EnqueueJob(job *domain.Job) error
	GetJob(id string) (*domain.Job, error)
	ClaimDueJob(now time.Time) (*domain.Job, error)
	MarkJobDone(id string) error
	MarkJobFailed(id string, errMsg string) error
	RescheduleJob(id string, runAt time.Time) error
	ResetStaleJobs(olderThan time.Time) (int, error)
}
