package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/monitoring"
)

// DeletionHandler 执行延迟的邮箱删除任务。
//
// 别名转移（或级联删除）、邮箱删除与任务完成在存储层的
// 单个事务里完成。同一任务被重复投递时，已删除的邮箱
// 视为成功且不再重复发送通知。
type DeletionHandler struct {
	store   domain.Store
	mailer  Mailer
	metrics *monitoring.Metrics
	log     *zap.Logger
}

// NewDeletionHandler 创建删除任务处理器。mailer 与 metrics 可以为 nil。
func NewDeletionHandler(store domain.Store, mailer Mailer, metrics *monitoring.Metrics, log *zap.Logger) *DeletionHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DeletionHandler{
		store:   store,
		mailer:  mailer,
		metrics: metrics,
		log:     log,
	}
}

// Handle 处理一条 delete_mailbox 任务。
func (h *DeletionHandler) Handle(ctx context.Context, job *domain.Job) error {
	payload, err := domain.DecodeDeleteMailboxPayload(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode deletion payload: %w", err)
	}

	// 通知地址在删除前取出：事务提交后邮箱记录已不存在
	var notifyTo, deletedEmail string
	if mailbox, err := h.store.GetMailbox(payload.MailboxID); err == nil {
		deletedEmail = mailbox.Email
		if owner, err := h.store.GetUserByID(mailbox.UserID); err == nil {
			notifyTo = owner.Email
		}
	}

	transferred := 0
	if payload.TransferMailboxID != nil {
		aliases, err := h.store.ListAliasesByMailboxID(payload.MailboxID)
		if err == nil {
			transferred = len(aliases)
		}
	}

	deleted, err := h.store.ExecuteMailboxDeletion(job.ID, payload.MailboxID, payload.TransferMailboxID)
	if err != nil {
		return err
	}
	if !deleted {
		// 重投递：邮箱已在先前的尝试中删除
		h.log.Info("mailbox already deleted, skipping",
			zap.String("jobID", job.ID),
			zap.String("mailboxID", payload.MailboxID))
		return nil
	}

	if h.metrics != nil {
		h.metrics.MailboxesDeleted.Inc()
		if transferred > 0 {
			h.metrics.AliasesTransferred.Add(float64(transferred))
		}
	}
	h.log.Info("mailbox deleted",
		zap.String("mailboxID", payload.MailboxID),
		zap.Int("aliasesTransferred", transferred))

	// 通知只在真正删除的那一次发送；失败不回滚已提交的删除
	if h.mailer != nil && notifyTo != "" {
		if err := h.mailer.SendMailboxDeleted(ctx, notifyTo, deletedEmail); err != nil {
			h.log.Error("failed to send deletion notice",
				zap.String("to", notifyTo),
				zap.Error(err))
		}
	}
	return nil
}
