package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigurationError_MessageNamesVendor(t *testing.T) {
	err := NewMissingKeyError("siliconflow")

	assert.Equal(t, ReasonMissingKey, err.Reason)
	assert.Contains(t, err.Error(), "siliconflow")
	assert.Equal(t, err.Error(), err.ClientMessage())
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatusCode())
}

func TestUpstreamError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		status   int
		expected int
	}{
		{http.StatusUnauthorized, http.StatusUnauthorized},
		{http.StatusForbidden, http.StatusForbidden},
		{http.StatusTooManyRequests, http.StatusTooManyRequests},
		{http.StatusBadRequest, http.StatusBadGateway},
		{http.StatusInternalServerError, http.StatusBadGateway},
		{0, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := NewUpstreamError("openai", tt.status, "boom", nil)
			assert.Equal(t, tt.expected, err.HTTPStatusCode())
		})
	}
}

func TestUpstreamError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewUpstreamError("deepseek", 0, "failed to send request", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[deepseek] upstream error (status 0): failed to send request", err.Error())
}

func TestParseUpstreamError(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{
			name:    "openai style body",
			status:  http.StatusUnauthorized,
			body:    `{"error": {"message": "Incorrect API key provided", "type": "invalid_request_error"}}`,
			message: "Incorrect API key provided",
		},
		{
			name:    "flat message body",
			status:  http.StatusForbidden,
			body:    `{"code": 30001, "message": "Sorry, your account balance is insufficient"}`,
			message: "Sorry, your account balance is insufficient",
		},
		{
			name:    "plain text body",
			status:  http.StatusBadGateway,
			body:    "upstream connect error",
			message: "upstream connect error",
		},
		{
			name:    "empty body falls back to status text",
			status:  http.StatusServiceUnavailable,
			body:    "",
			message: "Service Unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseUpstreamError("siliconflow", tt.status, []byte(tt.body), nil)
			require.NotNil(t, err)
			assert.Equal(t, tt.status, err.Status)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, "siliconflow", err.Vendor)
		})
	}
}

func TestToErrorBody(t *testing.T) {
	t.Run("client error keeps its message", func(t *testing.T) {
		wrapped := fmt.Errorf("relay: %w", NewUpstreamError("openai", 429, "Rate limit reached", nil))
		assert.Equal(t, ErrorBody{Error: "Rate limit reached"}, ToErrorBody(wrapped))
	})

	t.Run("unknown error is hidden", func(t *testing.T) {
		assert.Equal(t, ErrorBody{Error: "an unexpected error occurred"}, ToErrorBody(errors.New("pq: secret detail")))
	})
}

func TestRelayError_HTTPStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewInvalidRequestError("bad", nil).HTTPStatusCode())
	assert.Equal(t, http.StatusNotFound, NewNotFoundError("missing").HTTPStatusCode())
	assert.Equal(t, http.StatusConflict, NewConflictError("busy").HTTPStatusCode())
	assert.Equal(t, http.StatusInternalServerError, (&RelayError{Type: "other"}).HTTPStatusCode())
}

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
}

func TestRoleDisplayable(t *testing.T) {
	assert.True(t, RoleUser.Displayable())
	assert.True(t, RoleAssistant.Displayable())
	assert.False(t, RoleSystem.Displayable())
	assert.False(t, RoleData.Displayable())
	assert.True(t, RoleData.Valid())
	assert.False(t, Role("tool").Valid())
}
