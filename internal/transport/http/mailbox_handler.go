package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/service"
	"aliasmail/backend/internal/storage"
)

// MailboxHandler 处理邮箱生命周期相关的 HTTP 请求
type MailboxHandler struct {
	mailboxes *service.MailboxService
	log       *zap.Logger
}

// NewMailboxHandler 创建邮箱处理器
func NewMailboxHandler(mailboxes *service.MailboxService, log *zap.Logger) *MailboxHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MailboxHandler{
		mailboxes: mailboxes,
		log:       log,
	}
}

type createMailboxRequest struct {
	Email string `json:"email" binding:"required"`
}

type deleteMailboxRequest struct {
	// TransferMailboxID 可选：接收别名的邮箱。缺省时别名随邮箱删除。
	TransferMailboxID *string `json:"transferMailboxId"`
}

type deletionScheduledResponse struct {
	JobID     string `json:"jobId"`
	MailboxID string `json:"mailboxId"`
	State     string `json:"state"`
}

// List 返回当前用户的全部邮箱
func (h *MailboxHandler) List(c *gin.Context) {
	views, err := h.mailboxes.List(c.GetString("userID"))
	if err != nil {
		h.log.Error("failed to list mailboxes", zap.Error(err))
		InternalError(c, MsgInternalError)
		return
	}
	Success(c, gin.H{"mailboxes": views})
}

// Create 创建新邮箱并发送验证邮件
func (h *MailboxHandler) Create(c *gin.Context) {
	var req createMailboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	mailbox, err := h.mailboxes.Create(c.Request.Context(), c.GetString("userID"), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidEmail), errors.Is(err, domain.ErrEmailTooLong):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrQuotaExceeded):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrEmailExists):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to create mailbox", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	Created(c, mailbox)
}

// Verify 通过签名令牌验证邮箱。
// 该端点出现在验证邮件的链接里，不要求登录态。
func (h *MailboxHandler) Verify(c *gin.Context) {
	tokenString := c.Query("token")
	if tokenString == "" {
		BadRequest(c, "缺少验证令牌")
		return
	}

	mailbox, err := h.mailboxes.Verify(tokenString)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenExpired):
			Gone(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrInvalidToken):
			BadRequest(c, GetErrorMessage(err))
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to verify mailbox", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	SuccessWithMsg(c, "邮箱验证成功", mailbox)
}

// ResendVerification 重发验证邮件
func (h *MailboxHandler) ResendVerification(c *gin.Context) {
	err := h.mailboxes.ResendVerification(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNotOwner):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrAlreadyVerified):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to resend verification", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	SuccessWithMsg(c, "验证邮件已发送", nil)
}

// SetDefault 把邮箱设为用户默认邮箱
func (h *MailboxHandler) SetDefault(c *gin.Context) {
	err := h.mailboxes.SetDefault(c.GetString("userID"), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNotOwner):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNotVerified), errors.Is(err, service.ErrAlreadyDefault):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to set default mailbox", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	SuccessWithMsg(c, "默认邮箱已切换", nil)
}

// Delete 调度邮箱删除，应答 202。
// 实际删除由后台任务执行，别名按请求体中的目标转移。
func (h *MailboxHandler) Delete(c *gin.Context) {
	var req deleteMailboxRequest
	// 请求体可以为空：缺省表示级联删除别名
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, MsgInvalidRequest)
			return
		}
	}

	job, err := h.mailboxes.RequestDeletion(c.GetString("userID"), c.Param("id"), req.TransferMailboxID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrMailboxNotFound):
			NotFound(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrNotOwner):
			Forbidden(c, GetErrorMessage(err))
		case errors.Is(err, service.ErrDeleteDefault),
			errors.Is(err, service.ErrTransferToSelf),
			errors.Is(err, service.ErrNotVerified):
			Conflict(c, GetErrorMessage(err))
		default:
			h.log.Error("failed to schedule mailbox deletion", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	Accepted(c, "删除已调度", deletionScheduledResponse{
		JobID:     job.ID,
		MailboxID: c.Param("id"),
		State:     string(job.State),
	})
}
