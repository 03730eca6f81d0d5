package httptransport

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aliasmail/backend/internal/auth"
	"aliasmail/backend/internal/domain"
)

// AuthHandler 处理认证相关的 HTTP 请求
type AuthHandler struct {
	authService *auth.Service
	log         *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{
		authService: authService,
		log:         log,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// Register 处理用户注册请求。
// 注册成功即拥有一个已验证的默认邮箱（账户邮箱）。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailExists):
			Conflict(c, GetErrorMessage(err))
		case errors.Is(err, auth.ErrPasswordBreached),
			errors.Is(err, domain.ErrInvalidEmail),
			errors.Is(err, domain.ErrEmailTooLong),
			errors.Is(err, domain.ErrPasswordTooShort),
			errors.Is(err, domain.ErrPasswordTooLong):
			BadRequest(c, GetErrorMessage(err))
		default:
			h.log.Error("register failed", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	Created(c, resp)
}

// Login 处理用户登录请求
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrUserInactive):
			Unauthorized(c, GetErrorMessage(err))
		default:
			h.log.Error("login failed", zap.Error(err))
			InternalError(c, MsgInternalError)
		}
		return
	}

	Success(c, resp)
}

// Refresh 处理令牌刷新请求
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	pair, err := h.authService.RefreshToken(req.RefreshToken)
	if err != nil {
		Unauthorized(c, "刷新令牌无效或已过期")
		return
	}

	Success(c, pair)
}

// Me 返回当前登录用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	userID := c.GetString("userID")
	if userID == "" {
		Unauthorized(c, MsgAuthRequired)
		return
	}

	user, err := h.authService.GetUserByID(userID)
	if err != nil {
		NotFound(c, GetErrorMessage(err))
		return
	}

	Success(c, user)
}
