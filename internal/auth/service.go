package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"aliasmail/backend/internal/auth/jwt"
	"aliasmail/backend/internal/breach"
	"aliasmail/backend/internal/config"
	"aliasmail/backend/internal/domain"
	"aliasmail/backend/internal/storage"
)

var (
	// ErrEmailExists 邮箱已被注册
	ErrEmailExists = errors.New("email already registered")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
	// ErrPasswordBreached 密码出现在已知泄露数据集中
	ErrPasswordBreached = errors.New("password found in known breaches")
)

// Service 认证服务：注册、登录与令牌签发。
//
// 注册时通过泄露检查服务拦截已泄露的密码，并原子地创建
// 用户及其账户邮箱（已验证、默认）。
type Service struct {
	store      storage.UserRepository
	breach     *breach.Client
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewService 创建认证服务
func NewService(store storage.UserRepository, breachClient *breach.Client, cfg *config.JWTConfig, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		store:      store,
		breach:     breachClient,
		jwtManager: jwt.NewManager(cfg.Secret, cfg.Issuer, cfg.AccessExpiry, cfg.RefreshExpiry),
		log:        log,
	}
}

// JWTManager 返回底层 JWT 管理器，供认证中间件使用。
func (s *Service) JWTManager() *jwt.Manager {
	return s.jwtManager
}

// AuthResponse 认证响应
type AuthResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	TokenType    string       `json:"tokenType"`
	ExpiresIn    int64        `json:"expiresIn"`
}

// RegisterInput 注册输入
type RegisterInput struct {
	Email    string
	Password string
}

// LoginInput 登录输入
type LoginInput struct {
	Email    string
	Password string
}

// Register 用户注册。
// 账户邮箱同时作为首个邮箱创建：已验证且为默认，
// 保证任意时刻用户恰好有一个默认邮箱。
func (s *Service) Register(ctx context.Context, input RegisterInput) (*AuthResponse, error) {
	email := domain.NormalizeEmail(input.Email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	// 泄露密码拦截。检查服务不可达时放行并告警，
	// 注册可用性优先于该项防护
	count, err := s.breach.Check(ctx, input.Password, false)
	if err != nil {
		s.log.Warn("breach check unavailable, skipping",
			zap.Error(err))
	} else if count > 0 {
		return nil, ErrPasswordBreached
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: passwordHash,
		Tier:         domain.TierFree,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	mailbox := &domain.Mailbox{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Email:     email,
		Verified:  true, // 账户邮箱在注册流程中已确认
		CreatedAt: now,
	}

	if err := s.store.CreateUserWithMailbox(user, mailbox); err != nil {
		if errors.Is(err, storage.ErrUserExists) || errors.Is(err, storage.ErrEmailExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.issueTokens(user)
}

// Login 用户登录
func (s *Service) Login(ctx context.Context, input LoginInput) (*AuthResponse, error) {
	email := domain.NormalizeEmail(input.Email)

	user, err := s.store.GetUserByEmail(email)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}
	if !CheckPassword(input.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	// 登录同样检测泄露密码，但只告警不阻断
	if count, err := s.breach.Check(ctx, input.Password, false); err == nil && count > 0 {
		s.log.Warn("user logged in with breached password",
			zap.String("userID", user.ID),
			zap.Int("breachCount", count))
	}

	return s.issueTokens(user)
}

// RefreshToken 使用刷新令牌换取新令牌对
func (s *Service) RefreshToken(refreshToken string) (*jwt.TokenPair, error) {
	return s.jwtManager.RefreshTokenPair(refreshToken)
}

// GetUserByID 根据 ID 获取用户
func (s *Service) GetUserByID(userID string) (*domain.User, error) {
	return s.store.GetUserByID(userID)
}

func (s *Service) issueTokens(user *domain.User) (*AuthResponse, error) {
	pair, err := s.jwtManager.GenerateTokenPair(user.ID, string(user.Tier))
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
	}, nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
