package middleware

import (
	"errors"
	"net/http"

	"github.com/sitecrew/construction-api/auth"
	"github.com/sitecrew/construction-api/pipeline"
	"github.com/sitecrew/construction-api/utils"
	"go.uber.org/zap"
)

// TokenVerifier turns an Authorization header value into an identity
type TokenVerifier interface {
	Verify(header string) (auth.Identity, error)
}

// AuthMiddleware guards read endpoints that sit outside the request pipeline
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		verifier: verifier,
		logger:   logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		identity, err := m.verifier.Verify(r.Header.Get("Authorization"))
		if err != nil {
			m.logger.Warn("token verification failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			_ = utils.WriteUnauthorized(w, unauthorizedMessage(err))
			return
		}

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("user_id", identity.ID))

		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
	})
}

// RequireRole is a middleware that admits only the given roles. It must run after RequireAuth.
func (m *AuthMiddleware) RequireRole(roles ...string) func(http.Handler) http.Handler {
	allow := pipeline.Roles(roles...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			identity, ok := GetIdentityFromContext(ctx)
			if !ok {
				m.logger.Error("identity not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteUnauthorized(w, "Authentication required")
				return
			}

			if _, err := allow.Authorize(identity); err != nil {
				m.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("user_id", identity.ID),
					zap.String("role", identity.Role),
					zap.Stringer("required_roles", allow))
				_ = utils.WriteForbidden(w, pipeline.AsFailure(err).Message)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorizedMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return "Authentication required"
	case errors.Is(err, auth.ErrMalformedCredential):
		return "Authorization header must be of the form: Bearer <token>"
	case errors.Is(err, auth.ErrTokenExpired):
		return "Token has expired"
	}
	return "Invalid token"
}
