package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/monitoring"
	"aliasmail/backend/internal/queue"
	"aliasmail/backend/internal/storage"
	"aliasmail/backend/internal/token"
)

var (
	// ErrNotOwner 邮箱不属于当前用户
	ErrNotOwner = errors.New("mailbox not owned by user")
	// ErrQuotaExceeded 超出套餐允许的邮箱数量
	ErrQuotaExceeded = errors.New("mailbox quota exceeded")
	// ErrAlreadyVerified 邮箱已验证，无需重发
	ErrAlreadyVerified = errors.New("mailbox already verified")
	// ErrNotVerified 邮箱未验证
	ErrNotVerified = errors.New("mailbox not verified")
	// ErrAlreadyDefault 邮箱已是默认邮箱
	ErrAlreadyDefault = errors.New("mailbox is already the default")
	// ErrDeleteDefault 默认邮箱不能删除
	ErrDeleteDefault = errors.New("cannot delete the default mailbox")
	// ErrTransferToSelf 转移目标不能是被删除的邮箱自身
	ErrTransferToSelf = errors.New("cannot transfer aliases to the mailbox being deleted")
	// ErrInvalidToken 验证令牌不合法
	ErrInvalidToken = errors.New("invalid verification token")
	// ErrTokenExpired 验证令牌已过期
	ErrTokenExpired = errors.New("verification token expired")
)

// Mailer 发送生命周期相关的通知邮件。
type Mailer interface {
	SendVerification(ctx context.Context, to, link string) error
	SendMailboxDeleted(ctx context.Context, to, deletedEmail string) error
}

// MailboxService 邮箱生命周期服务：创建、验证、默认切换与删除调度。
//
// 删除不在请求路径内执行。RequestDeletion 只做前置校验并入队，
// 实际的别名转移与删除由 worker 在单个事务里完成。
type MailboxService struct {
	store   domain.Store
	signer  *token.Signer
	queue   *queue.Queue
	mailer  Mailer
	cfg     *config.Config
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewMailboxService 创建邮箱生命周期服务。metrics 可以为 nil。
func NewMailboxService(store domain.Store, q *queue.Queue, mailer Mailer, cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) *MailboxService {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxService{
		store:   store,
		signer:  token.NewSigner(cfg.Mailbox.Secret),
		queue:   q,
		mailer:  mailer,
		cfg:     cfg,
		metrics: metrics,
		log:     log,
	}
}

// MailboxView 带默认标记的邮箱视图。
type MailboxView struct {
	domain.Mailbox
	IsDefault bool `json:"isDefault"`
}

// List 返回用户的全部邮箱，默认邮箱带标记。
func (s *MailboxService) List(userID string) ([]MailboxView, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	mailboxes, err := s.store.ListMailboxesByUserID(userID)
	if err != nil {
		return nil, err
	}

	views := make([]MailboxView, 0, len(mailboxes))
	for _, mb := range mailboxes {
		views = append(views, MailboxView{
			Mailbox:   mb,
			IsDefault: mb.ID == user.DefaultMailboxID,
		})
	}
	return views, nil
}

// Get 获取用户自己的邮箱。
func (s *MailboxService) Get(userID, mailboxID string) (*domain.Mailbox, error) {
	mailbox, err := s.store.GetMailbox(mailboxID)
	if err != nil {
		return nil, err
	}
	if mailbox.UserID != userID {
		return nil, ErrNotOwner
	}
	return mailbox, nil
}

// Create 创建一个未验证的新邮箱并发送验证邮件。
// 邮箱在验证之前不能收信、不能设为默认。
func (s *MailboxService) Create(ctx context.Context, userID, email string) (*domain.Mailbox, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return nil, err
	}

	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}

	count, err := s.store.CountMailboxesByUserID(userID)
	if err != nil {
		return nil, err
	}
	if count >= domain.DefaultQuotas(user.Tier).MaxMailboxes {
		return nil, ErrQuotaExceeded
	}

	mailbox := &domain.Mailbox{
		ID:        uuid.New().String(),
		UserID:    userID,
		Email:     email,
		Verified:  false,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMailbox(mailbox); err != nil {
		return nil, err
	}

	if err := s.sendVerification(ctx, mailbox); err != nil {
		// 邮箱已创建，发信失败可通过重发接口补救
		s.log.Error("failed to send verification mail",
			zap.String("mailboxID", mailbox.ID),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.MailboxesCreated.Inc()
	}
	s.log.Info("mailbox created",
		zap.String("mailboxID", mailbox.ID),
		zap.String("userID", userID))
	return mailbox, nil
}

// Verify 校验签名令牌并把对应邮箱标记为已验证。
// 令牌本身无状态：过期界限在校验时按配置的 TTL 判定，
// 重复验证同一邮箱是幂等操作。
func (s *MailboxService) Verify(tokenString string) (*domain.Mailbox, error) {
	mailboxID, err := s.signer.Verify(tokenString, s.cfg.Mailbox.VerificationTTL)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			return nil, ErrTokenExpired
		default:
			return nil, ErrInvalidToken
		}
	}

	if err := s.store.MarkMailboxVerified(mailboxID); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.MailboxesVerified.Inc()
	}
	s.log.Info("mailbox verified", zap.String("mailboxID", mailboxID))
	return s.store.GetMailbox(mailboxID)
}

// ResendVerification 为未验证的邮箱重发验证邮件。
func (s *MailboxService) ResendVerification(ctx context.Context, userID, mailboxID string) error {
	mailbox, err := s.Get(userID, mailboxID)
	if err != nil {
		return err
	}
	if mailbox.Verified {
		return ErrAlreadyVerified
	}
	return s.sendVerification(ctx, mailbox)
}

// SetDefault 把已验证的邮箱切换为用户默认邮箱。
func (s *MailboxService) SetDefault(userID, mailboxID string) error {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return err
	}
	if user.DefaultMailboxID == mailboxID {
		return ErrAlreadyDefault
	}

	if err := s.store.SetDefaultMailbox(userID, mailboxID); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotMailboxOwner):
			return ErrNotOwner
		case errors.Is(err, storage.ErrMailboxNotVerified):
			return ErrNotVerified
		default:
			return err
		}
	}

	if s.metrics != nil {
		s.metrics.DefaultSwitches.Inc()
	}
	s.log.Info("default mailbox switched",
		zap.String("userID", userID),
		zap.String("mailboxID", mailboxID))
	return nil
}

// RequestDeletion 校验删除请求并入队延迟删除任务。
// 返回已持久化的任务；调用方应答 202，不等待删除完成。
func (s *MailboxService) RequestDeletion(userID, mailboxID string, transferMailboxID *string) (*domain.Job, error) {
	user, err := s.store.GetUserByID(userID)
	if err != nil {
		return nil, err
	}
	mailbox, err := s.store.GetMailbox(mailboxID)
	if err != nil {
		return nil, err
	}
	if mailbox.UserID != userID {
		return nil, ErrNotOwner
	}
	if user.DefaultMailboxID == mailboxID {
		return nil, ErrDeleteDefault
	}

	if transferMailboxID != nil {
		if *transferMailboxID == mailboxID {
			return nil, ErrTransferToSelf
		}
		target, err := s.store.GetMailbox(*transferMailboxID)
		if err != nil {
			return nil, err
		}
		if target.UserID != userID {
			return nil, ErrNotOwner
		}
		if !target.Verified {
			return nil, ErrNotVerified
		}
	}

	job, err := s.queue.Enqueue(domain.JobDeleteMailbox, domain.DeleteMailboxPayload{
		MailboxID:         mailboxID,
		TransferMailboxID: transferMailboxID,
	}, time.Now())
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.JobsEnqueued.WithLabelValues(domain.JobDeleteMailbox).Inc()
	}
	s.log.Info("mailbox deletion scheduled",
		zap.String("mailboxID", mailboxID),
		zap.String("jobID", job.ID))
	return job, nil
}

// VerificationLink 构造邮件中的验证链接。
func (s *MailboxService) VerificationLink(signedToken string) string {
	return fmt.Sprintf("%s/v1/mailboxes/verify?token=%s",
		s.cfg.Mailbox.BaseURL, url.QueryEscape(signedToken))
}

func (s *MailboxService) sendVerification(ctx context.Context, mailbox *domain.Mailbox) error {
	signed, err := s.signer.Issue(mailbox.ID)
	if err != nil {
		return fmt.Errorf("failed to issue verification token: %w", err)
	}
	if s.mailer == nil {
		return nil
	}
	return s.mailer.SendVerification(ctx, mailbox.Email, s.VerificationLink(signed))
}
