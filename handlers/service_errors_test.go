package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sitecrew/construction-api/services"
	"github.com/sitecrew/construction-api/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHandleServiceError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name            string
		err             error
		expectedStatus  int
		expectedError   string
		expectedMessage string
	}{
		{"not found", services.ErrRecordNotFound, http.StatusNotFound, "not_found", "record not found"},
		{"invalid filter", services.ErrInvalidFilter.WithDetail("field", "budget"), http.StatusBadRequest, "bad_request", ""},
		{"bad credentials", services.ErrInvalidCredentials, http.StatusUnauthorized, "unauthorized", ""},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "forbidden", ""},
		{"rate limited", services.ErrTooManyAttempts, http.StatusTooManyRequests, "rate_limit_exceeded", ""},
		{"duplicate email", services.ErrDuplicateEmail, http.StatusConflict, "conflict", ""},
		{"internal hides the cause", services.WrapInternal("failed to list", errors.New("pq: relation missing")), http.StatusInternalServerError, "internal_error", "An internal error occurred"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal_error", "An unexpected error occurred"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			HandleServiceError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)
			var response utils.ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.Equal(t, tt.expectedError, response.Error)
			assert.NotContains(t, response.Message, "pq:")
			if tt.expectedMessage != "" {
				assert.Equal(t, tt.expectedMessage, response.Message)
			}
		})
	}
}

func TestHandleServiceError_RetryAfter(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, services.ErrTooManyAttempts.WithDetail("retryAfterSeconds", 42), zap.NewNop())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
}

func TestHandleServiceError_Nil(t *testing.T) {
	w := httptest.NewRecorder()

	HandleServiceError(w, nil, zap.NewNop())

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
