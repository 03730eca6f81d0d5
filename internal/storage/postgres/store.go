package postgres

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
)

// Store PostgreSQL 存储实现。
//
// 跨实体不变量依赖数据库事务与行锁保证：默认邮箱切换、任务领取、
// 删除+转移都在单个事务内重读当前状态后再写入。
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore 创建 PostgreSQL 存储。
func NewStore(cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	log.Info("connected to PostgreSQL",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
	)

	return &Store{db: db, log: log}, nil
}

// AutoMigrate 执行数据库迁移。
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Mailbox{},
		&domain.Alias{},
		&domain.Job{},
	)
}

// ========== User Repository ==========

// CreateUser 创建用户。
func (s *Store) CreateUser(user *domain.User) error {
	if err := s.db.Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrUserExists
		}
		return err
	}
	return nil
}

// CreateUserWithMailbox 在一个事务内创建用户及其账户邮箱并设为默认。
func (s *Store) CreateUserWithMailbox(user *domain.User, mailbox *domain.Mailbox) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		user.DefaultMailboxID = mailbox.ID
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return storage.ErrUserExists
			}
			return err
		}
		if err := tx.Create(mailbox).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return storage.ErrEmailExists
			}
			return err
		}
		return nil
	})
}

// GetUserByID 根据 ID 获取用户。
func (s *Store) GetUserByID(id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail 根据邮箱地址获取用户。
func (s *Store) GetUserByEmail(email string) (*domain.User, error) {
	var user domain.User
	if err := s.db.First(&user, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateUser 更新用户信息。
// Select 显式列出字段，布尔与空串等零值同样会被持久化。
func (s *Store) UpdateUser(user *domain.User) error {
	result := s.db.Model(&domain.User{}).
		Where("id = ?", user.ID).
		Select("email", "password_hash", "tier", "default_mailbox_id", "is_active", "updated_at").
		Updates(user)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrUserNotFound
	}
	return nil
}

// ========== Mailbox Repository ==========

// CreateMailbox 创建邮箱，地址冲突时返回 ErrEmailExists。
func (s *Store) CreateMailbox(mailbox *domain.Mailbox) error {
	if err := s.db.Create(mailbox).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return storage.ErrEmailExists
		}
		return err
	}
	return nil
}

// GetMailbox 根据 ID 获取邮箱。
func (s *Store) GetMailbox(id string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := s.db.First(&mailbox, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// GetMailboxByEmail 根据地址获取邮箱。
func (s *Store) GetMailboxByEmail(email string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	if err := s.db.First(&mailbox, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrMailboxNotFound
		}
		return nil, err
	}
	return &mailbox, nil
}

// ListMailboxesByUserID 返回指定用户的全部邮箱，创建时间倒序。
func (s *Store) ListMailboxesByUserID(userID string) ([]domain.Mailbox, error) {
	var mailboxes []domain.Mailbox
	err := s.db.
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&mailboxes).Error
	if err != nil {
		return nil, err
	}
	return mailboxes, nil
}

// CountMailboxesByUserID 返回用户当前的邮箱数量。
func (s *Store) CountMailboxesByUserID(userID string) (int, error) {
	var count int64
	err := s.db.Model(&domain.Mailbox{}).Where("user_id = ?", userID).Count(&count).Error
	return int(count), err
}

// MarkMailboxVerified 把邮箱标记为已验证。重复标记是 no-op。
func (s *Store) MarkMailboxVerified(id string) error {
	result := s.db.Model(&domain.Mailbox{}).Where("id = ?", id).Update("verified", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// SetDefaultMailbox 在事务内锁定邮箱行并重读归属与验证状态，
// 然后切换用户的默认邮箱指针。并发的提升请求串行化在行锁上。
func (s *Store) SetDefaultMailbox(userID, mailboxID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&mailbox, "id = ?", mailboxID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrMailboxNotFound
			}
			return err
		}
		if mailbox.UserID != userID {
			return storage.ErrNotMailboxOwner
		}
		if !mailbox.Verified {
			return storage.ErrMailboxNotVerified
		}

		result := tx.Model(&domain.User{}).
			Where("id = ?", userID).
			Update("default_mailbox_id", mailboxID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return storage.ErrUserNotFound
		}
		return nil
	})
}

// DeleteMailbox 硬删除邮箱。调用方负责先按策略处理其别名。
func (s *Store) DeleteMailbox(id string) error {
	result := s.db.Delete(&domain.Mailbox{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrMailboxNotFound
	}
	return nil
}

// ========== Alias Repository ==========

// CreateAlias 创建别名。
func (s *Store) CreateAlias(alias *domain.Alias) error {
	return s.db.Create(alias).Error
}

// ListAliasesByMailboxID 返回邮箱拥有的全部别名。
func (s *Store) ListAliasesByMailboxID(mailboxID string) ([]domain.Alias, error) {
	var aliases []domain.Alias
	err := s.db.Where("mailbox_id = ?", mailboxID).Order("id").Find(&aliases).Error
	if err != nil {
		return nil, err
	}
	return aliases, nil
}

// ReassignAliases 批量转移别名归属，返回转移数量。
func (s *Store) ReassignAliases(fromMailboxID, toMailboxID string) (int, error) {
	result := s.db.Model(&domain.Alias{}).
		Where("mailbox_id = ?", fromMailboxID).
		Update("mailbox_id", toMailboxID)
	return int(result.RowsAffected), result.Error
}

// ========== Job Repository ==========

// EnqueueJob 持久化一条任务，提交后对 worker 可见。
func (s *Store) EnqueueJob(job *domain.Job) error {
	if job.State == "" {
		job.State = domain.JobStatePending
	}
	return s.db.Create(job).Error
}

// GetJob 根据 ID 获取任务。
func (s *Store) GetJob(id string) (*domain.Job, error) {
	var job domain.Job
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ClaimDueJob 原子领取一条到期任务。
// FOR UPDATE SKIP LOCKED 保证同一任务同一时刻只被一个 worker 领取，
// 且多个 worker 不会在彼此的行锁上排队。
func (s *Store) ClaimDueJob(now time.Time) (*domain.Job, error) {
	var job domain.Job
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state = ? AND run_at <= ?", domain.JobStatePending, now).
			Order("run_at").
			First(&job).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return storage.ErrNoDueJobs
			}
			return err
		}

		started := now
		job.State = domain.JobStateRunning
		job.Attempts++
		job.StartedAt = &started
		return tx.Model(&domain.Job{}).Where("id = ?", job.ID).Updates(map[string]interface{}{
			"state":      domain.JobStateRunning,
			"attempts":   job.Attempts,
			"started_at": started,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// MarkJobDone 把任务标记为完成。已完成的任务重复标记是 no-op。
func (s *Store) MarkJobDone(id string) error {
	return s.markJobDone(s.db, id)
}

func (s *Store) markJobDone(tx *gorm.DB, id string) error {
	now := time.Now()
	result := tx.Model(&domain.Job{}).
		Where("id = ? AND state <> ?", id, domain.JobStateDone).
		Updates(map[string]interface{}{
			"state":       domain.JobStateDone,
			"finished_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// 已经是 done，或任务不存在
		var count int64
		if err := tx.Model(&domain.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return storage.ErrJobNotFound
		}
	}
	return nil
}

// MarkJobFailed 把任务标记为失败并记录错误信息。
func (s *Store) MarkJobFailed(id string, errMsg string) error {
	now := time.Now()
	result := s.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":       domain.JobStateFailed,
		"last_error":  errMsg,
		"finished_at": now,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// RescheduleJob 把任务重新排回 pending。
func (s *Store) RescheduleJob(id string, runAt time.Time) error {
	result := s.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":      domain.JobStatePending,
		"run_at":     runAt,
		"started_at": nil,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return storage.ErrJobNotFound
	}
	return nil
}

// ResetStaleJobs 回收 worker 崩溃遗留的 running 任务。
func (s *Store) ResetStaleJobs(olderThan time.Time) (int, error) {
	result := s.db.Model(&domain.Job{}).
		Where("state = ? AND started_at < ?", domain.JobStateRunning, olderThan).
		Updates(map[string]interface{}{
			"state":      domain.JobStatePending,
			"started_at": nil,
		})
	return int(result.RowsAffected), result.Error
}

// ========== Lifecycle ==========

// ExecuteMailboxDeletion 在单个事务内完成别名转移、邮箱删除与任务完成。
// 任何一步失败整个事务回滚，不会出现部分迁移的中间状态。
func (s *Store) ExecuteMailboxDeletion(jobID, mailboxID string, transferMailboxID *string) (bool, error) {
	deleted := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var mailbox domain.Mailbox
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&mailbox, "id = ?", mailboxID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 重投递：邮箱已删除，补齐任务状态即可
				return s.markJobDone(tx, jobID)
			}
			return err
		}

		// 删除执行瞬间重新检查默认邮箱不变量
		var owner domain.User
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&owner, "id = ?", mailbox.UserID).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil && owner.DefaultMailboxID == mailboxID {
			return storage.ErrDefaultMailbox
		}

		if transferMailboxID != nil {
			var transfer domain.Mailbox
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&transfer, "id = ?", *transferMailboxID).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return storage.ErrMailboxNotFound
				}
				return err
			}
			if err := tx.Model(&domain.Alias{}).
				Where("mailbox_id = ?", mailboxID).
				Update("mailbox_id", *transferMailboxID).Error; err != nil {
				return err
			}
		} else {
			// 无转移目标时别名随邮箱级联删除
			if err := tx.Delete(&domain.Alias{}, "mailbox_id = ?", mailboxID).Error; err != nil {
				return err
			}
		}

		if err := tx.Delete(&domain.Mailbox{}, "id = ?", mailboxID).Error; err != nil {
			return err
		}
		if err := s.markJobDone(tx, jobID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Health 检查数据库健康状态。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
