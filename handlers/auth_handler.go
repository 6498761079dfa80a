package handlers

import (
	"context"
	"net"
	"net/http"

	"github.com/sitecrew/construction-api/middleware"
	"github.com/sitecrew/construction-api/models"
	"github.com/sitecrew/construction-api/services"
	"github.com/sitecrew/construction-api/utils"
	"github.com/sitecrew/construction-api/validation"
	"go.uber.org/zap"
)

// AuthService registers users and signs them in
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, in services.LoginInput) (*services.LoginResult, error)
}

var (
	registerRules = []validation.FieldRule{
		validation.Required("name", ""),
		validation.String("name", ""),
		validation.Length("name", 2, 100, ""),
		validation.Required("email", ""),
		validation.Email("email", "email must be a valid email address"),
		validation.Required("password", ""),
		validation.String("password", ""),
		validation.Length("password", 6, 0, "password must be at least 6 characters"),
	}

	loginRules = []validation.FieldRule{
		validation.Required("email", ""),
		validation.Email("email", "email must be a valid email address"),
		validation.Required("password", ""),
		validation.String("password", ""),
	}
)

// AuthHandler serves the public auth endpoints
type AuthHandler struct {
	auth   AuthService
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   auth,
		logger: logger,
	}
}

// HandleRegister handles POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decode(w, r, registerRules)
	if !ok {
		return
	}

	user, err := h.auth.Register(r.Context(), services.RegisterInput{
		Name:     stringField(payload, "name"),
		Email:    stringField(payload, "email"),
		Password: stringField(payload, "password"),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteCreated(w, user); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// HandleLogin handles POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decode(w, r, loginRules)
	if !ok {
		return
	}

	result, err := h.auth.Login(r.Context(), services.LoginInput{
		Email:     stringField(payload, "email"),
		Password:  stringField(payload, "password"),
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetRequestIDFromContext(r.Context()),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, result); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// decode reads the body and applies rules, writing the failure response itself
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, rules []validation.FieldRule) (map[string]interface{}, bool) {
	payload, err := decodeBody(w, r)
	if err != nil {
		_ = utils.WriteBadRequest(w, "request body must be a JSON object", nil)
		return nil, false
	}

	if result := validation.Validate(payload, rules); !result.Valid() {
		_ = utils.WriteValidationFailed(w, "", result.Violations())
		return nil, false
	}
	return payload, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
