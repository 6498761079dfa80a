package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sitecrew/construction-api/auth"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/repositories"
	"github.com/sitecrew/construction-api/services/ratelimit"
	"go.uber.org/zap"
)

// LoginRecorder receives successful logins for the audit trail
type LoginRecorder interface {
	RecordLogin(user *models.User, requestID, ipAddress, userAgent string) error
}

// RegisterInput is a self-service sign-up
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// LoginInput carries credentials and the caller's request metadata
type LoginInput struct {
	Email     string
	Password  string
	IPAddress string
	UserAgent string
	RequestID string
}

// LoginResult is a signed token and the profile it was issued for
type LoginResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
}

// AuthService registers users and issues tokens
type AuthService struct {
	users      repositories.UserRepository
	issuer     *auth.Issuer
	throttle   *ratelimit.LoginThrottle
	audit      LoginRecorder
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

// NewAuthService creates an auth service. throttle and audit may be nil.
func NewAuthService(users repositories.UserRepository, issuer *auth.Issuer, throttle *ratelimit.LoginThrottle, audit LoginRecorder, bcryptCost int, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:      users,
		issuer:     issuer,
		throttle:   throttle,
		audit:      audit,
		bcryptCost: bcryptCost,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a Laborer account. Roles are only ever raised by an Admin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrDuplicateEmail.WithDetail("field", "email")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, WrapInternal("failed to look up user", err)
	}

	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, WrapInternal("failed to hash password", err)
	}

	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleLaborer,
		CreatedAt:    s.now(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, ErrDuplicateEmail.WithDetail("field", "email")
		}
		return nil, WrapInternal("failed to create user", err)
	}

	s.logger.Info("user registered", zap.String("user_id", user.ID))
	return user, nil
}

// Login checks credentials and returns a signed token.
// Attempts are counted per email and address before the password is checked.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	email := normalizeEmail(in.Email)

	if s.throttle != nil {
		decision := s.throttle.Attempt(ctx, email, in.IPAddress)
		if !decision.Allowed {
			s.logger.Warn("login throttled", zap.String("ip", in.IPAddress), zap.Int("attempts", decision.Count))
			return nil, ErrTooManyAttempts.
				WithDetail("retryAfterSeconds", int(decision.RetryAfter(s.now()).Seconds())).
				WithDetail("limit", decision.Limit)
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, WrapInternal("failed to look up user", err)
	}

	if err := auth.CheckPassword(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login rejected", zap.String("user_id", user.ID))
			return nil, ErrInvalidCredentials
		}
		return nil, WrapInternal("failed to check password", err)
	}

	token, expiresAt, err := s.issuer.Issue(auth.Identity{ID: user.ID, Role: string(user.Role)})
	if err != nil {
		return nil, WrapInternal("failed to issue token", err)
	}

	if s.throttle != nil {
		s.throttle.Succeeded(ctx, email, in.IPAddress)
	}
	if s.audit != nil {
		if err := s.audit.RecordLogin(user, in.RequestID, in.IPAddress, in.UserAgent); err != nil {
			s.logger.Warn("failed to queue login audit", zap.Error(err))
		}
	}

	s.logger.Info("user logged in", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return &LoginResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
