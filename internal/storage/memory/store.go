package memory

import (
	"sort"
	"sync"
	"time"

	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
)

// Store 使用内存保存用户、邮箱、别名与任务数据，主要用于开发与测试。
//
// 所有跨实体的原子操作（默认邮箱切换、删除+转移+任务完成）都在
// 同一把锁内完成，对应数据库实现中的单个事务。
type Store struct {
	mu             sync.RWMutex
	users          map[string]*domain.User
	usersByEmail   map[string]string // email -> userID
	mailboxes      map[string]*domain.Mailbox
	mailboxByEmail map[string]string // email -> mailboxID
	aliases        map[string]*domain.Alias
	jobs           map[string]*domain.Job
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		users:          make(map[string]*domain.User),
		usersByEmail:   make(map[string]string),
		mailboxes:      make(map[string]*domain.Mailbox),
		mailboxByEmail: make(map[string]string),
		aliases:        make(map[string]*domain.Alias),
		jobs:           make(map[string]*domain.Job),
	}
}

// ========== User Repository ==========

// CreateUser 创建用户。
func (s *Store) CreateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(user)
}

func (s *Store) createUserLocked(user *domain.User) error {
	if _, ok := s.usersByEmail[user.Email]; ok {
		return storage.ErrUserExists
	}
	u := *user
	s.users[u.ID] = &u
	s.usersByEmail[u.Email] = u.ID
	return nil
}

// CreateUserWithMailbox 原子地创建用户及其账户邮箱并设为默认。
func (s *Store) CreateUserWithMailbox(user *domain.User, mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usersByEmail[user.Email]; ok {
		return storage.ErrUserExists
	}
	if _, ok := s.mailboxByEmail[mailbox.Email]; ok {
		return storage.ErrEmailExists
	}

	user.DefaultMailboxID = mailbox.ID
	if err := s.createUserLocked(user); err != nil {
		return err
	}
	m := *mailbox
	s.mailboxes[m.ID] = &m
	s.mailboxByEmail[m.Email] = m.ID
	return nil
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByEmail 根据邮箱地址获取用户。
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *s.users[id]
	return &u, nil
}

// UpdateUser 更新用户信息。
func (s *Store) UpdateUser(user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.users[user.ID]
	if !ok {
		return storage.ErrUserNotFound
	}
	if old.Email != user.Email {
		delete(s.usersByEmail, old.Email)
		s.usersByEmail[user.Email] = user.ID
	}
	user.UpdatedAt = time.Now()
	u := *user
	s.users[u.ID] = &u
	return nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 创建邮箱，地址冲突时返回 ErrEmailExists。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.mailboxByEmail[mailbox.Email]; ok {
		return storage.ErrEmailExists
	}
	m := *mailbox
	s.mailboxes[m.ID] = &m
	s.mailboxByEmail[m.Email] = m.ID
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	m := *mailbox
	return &m, nil
}

// GetMailboxByEmail 根据地址获取邮箱。
func (s *Store) GetMailboxByEmail(email string) (*domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.mailboxByEmail[email]
	if !ok {
		return nil, storage.ErrMailboxNotFound
	}
	m := *s.mailboxes[id]
	return &m, nil
}

// ListMailboxesByUserID 返回指定用户的全部邮箱，创建时间倒序。
func (s *Store) ListMailboxesByUserID(userID string) ([]domain.Mailbox, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Mailbox, 0)
	for _, mb := range s.mailboxes {
		if mb.UserID == userID {
			result = append(result, *mb)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

// CountMailboxesByUserID 返回用户当前的邮箱数量。
func (s *Store) CountMailboxesByUserID(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mb := range s.mailboxes {
		if mb.UserID == userID {
			count++
		}
	}
	return count, nil
}

// MarkMailboxVerified 把邮箱标记为已验证。重复标记是 no-op。
func (s *Store) MarkMailboxVerified(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[id]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	mailbox.Verified = true
	return nil
}

// SetDefaultMailbox 原子地切换用户的默认邮箱。
// 锁内重读邮箱状态，并发的验证/删除不会导致默认指针指向失效邮箱。
func (s *Store) SetDefaultMailbox(userID, mailboxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	if mailbox.UserID != userID {
		return storage.ErrNotMailboxOwner
	}
	if !mailbox.Verified {
		return storage.ErrMailboxNotVerified
	}
	user, ok := s.users[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	user.DefaultMailboxID = mailboxID
	user.UpdatedAt = time.Now()
	return nil
}

// DeleteMailbox 硬删除邮箱。调用方负责先按策略处理其别名。
func (s *Store) DeleteMailbox(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMailboxLocked(id)
}

func (s *Store) deleteMailboxLocked(id string) error {
	mailbox, ok := s.mailboxes[id]
	if !ok {
		return storage.ErrMailboxNotFound
	}
	delete(s.mailboxByEmail, mailbox.Email)
	delete(s.mailboxes, id)
	return nil
}

// ========== Alias Repository ==========

// CreateAlias 创建别名。
func (s *Store) CreateAlias(alias *domain.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *alias
	s.aliases[a.ID] = &a
	return nil
}

// ListAliasesByMailboxID 返回邮箱拥有的全部别名。
func (s *Store) ListAliasesByMailboxID(mailboxID string) ([]domain.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Alias, 0)
	for _, a := range s.aliases {
		if a.MailboxID == mailboxID {
			result = append(result, *a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ReassignAliases 批量转移别名归属，返回转移数量。
func (s *Store) ReassignAliases(fromMailboxID, toMailboxID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reassignAliasesLocked(fromMailboxID, toMailboxID), nil
}

func (s *Store) reassignAliasesLocked(fromMailboxID, toMailboxID string) int {
	count := 0
	for _, a := range s.aliases {
		if a.MailboxID == fromMailboxID {
			a.MailboxID = toMailboxID
			count++
		}
	}
	return count
}

func (s *Store) deleteAliasesLocked(mailboxID string) int {
	count := 0
	for id, a := range s.aliases {
		if a.MailboxID == mailboxID {
			delete(s.aliases, id)
			count++
		}
	}
	return count
}

// ========== Job Repository ==========

// EnqueueJob 持久化一条任务。
func (s *Store) EnqueueJob(job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.State == "" {
		job.State = domain.JobStatePending
	}
	j := *job
	s.jobs[j.ID] = &j
	return nil
}

// GetJob 根据 ID 获取任务。
func (s *Store) GetJob(id string) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	j := *job
	return &j, nil
}

// ClaimDueJob 原子领取一条到期任务：pending -> running 并递增 attempts。
// 同一任务不会被两个 worker 同时领取。
func (s *Store) ClaimDueJob(now time.Time) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidate *domain.Job
	for _, job := range s.jobs {
		if job.State != domain.JobStatePending || job.RunAt.After(now) {
			continue
		}
		if candidate == nil || job.RunAt.Before(candidate.RunAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, storage.ErrNoDueJobs
	}

	started := now
	candidate.State = domain.JobStateRunning
	candidate.Attempts++
	candidate.StartedAt = &started
	candidate.UpdatedAt = now

	j := *candidate
	return &j, nil
}

// MarkJobDone 把任务标记为完成。已完成的任务重复标记是 no-op。
func (s *Store) MarkJobDone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.markJobDoneLocked(id)
}

func (s *Store) markJobDoneLocked(id string) error {
	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	if job.State == domain.JobStateDone {
		return nil
	}
	now := time.Now()
	job.State = domain.JobStateDone
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

// MarkJobFailed 把任务标记为失败并记录错误信息。
func (s *Store) MarkJobFailed(id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	now := time.Now()
	job.State = domain.JobStateFailed
	job.LastError = errMsg
	job.FinishedAt = &now
	job.UpdatedAt = now
	return nil
}

// RescheduleJob 把任务重新排回 pending，在 runAt 之后可再次领取。
func (s *Store) RescheduleJob(id string, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return storage.ErrJobNotFound
	}
	job.State = domain.JobStatePending
	job.RunAt = runAt
	job.StartedAt = nil
	job.UpdatedAt = time.Now()
	return nil
}

// ResetStaleJobs 回收 worker 崩溃遗留的 running 任务。
func (s *Store) ResetStaleJobs(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, job := range s.jobs {
		if job.State == domain.JobStateRunning && job.StartedAt != nil && job.StartedAt.Before(olderThan) {
			job.State = domain.JobStatePending
			job.StartedAt = nil
			job.UpdatedAt = time.Now()
			count++
		}
	}
	return count, nil
}

// ========== Lifecycle ==========

// ExecuteMailboxDeletion 在一把锁内完成别名转移、邮箱删除与任务完成，
// 对应数据库实现中的单个事务。邮箱已不存在时视为成功（重投递容忍）。
func (s *Store) ExecuteMailboxDeletion(jobID, mailboxID string, transferMailboxID *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mailbox, ok := s.mailboxes[mailboxID]
	if !ok {
		// 重投递：邮箱已删除，补齐任务状态即可
		if _, exists := s.jobs[jobID]; exists {
			_ = s.markJobDoneLocked(jobID)
		}
		return false, nil
	}

	// 删除执行瞬间重新检查默认邮箱不变量：
	// 入队之后邮箱可能刚被提升为默认
	if owner, ok := s.users[mailbox.UserID]; ok && owner.DefaultMailboxID == mailboxID {
		return false, storage.ErrDefaultMailbox
	}

	if transferMailboxID != nil {
		if _, ok := s.mailboxes[*transferMailboxID]; !ok {
			return false, storage.ErrMailboxNotFound
		}
		s.reassignAliasesLocked(mailboxID, *transferMailboxID)
	} else {
		// 无转移目标时别名随邮箱级联删除
		s.deleteAliasesLocked(mailboxID)
	}

	if err := s.deleteMailboxLocked(mailboxID); err != nil {
		return false, err
	}
	if _, exists := s.jobs[jobID]; exists {
		_ = s.markJobDoneLocked(jobID)
	}
	return true, nil
}

// Health 检查存储健康状态。内存存储恒为健康。
func (s *Store) Health() error {
	return nil
}

// Close 关闭存储。内存存储无需清理。
func (s *Store) Close() error {
	return nil
}
