package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	const key = "relay-master"
	skip := []string{"/health", "/metrics"}

	tests := []struct {
		name      string
		masterKey string
		path      string
		header    string
		status    int
		errMsg    string
	}{
		{name: "disabled without a key", path: "/settings", status: http.StatusOK},
		{name: "matching key", masterKey: key, path: "/conversations", header: "Bearer " + key, status: http.StatusOK},
		{name: "health is open", masterKey: key, path: "/health", status: http.StatusOK},
		{name: "metrics is open", masterKey: key, path: "/metrics", status: http.StatusOK},
		{name: "no header", masterKey: key, path: "/chat", status: http.StatusUnauthorized, errMsg: "missing authorization header"},
		{
			name: "not a bearer token", masterKey: key, path: "/chat", header: key,
			status: http.StatusUnauthorized, errMsg: "invalid authorization header format, expected 'Bearer <token>'",
		},
		{name: "wrong key", masterKey: key, path: "/settings", header: "Bearer relay-mast", status: http.StatusUnauthorized, errMsg: "invalid master key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(req, rec)

			called := false
			err := AuthMiddleware(tt.masterKey, skip)(func(c echo.Context) error {
				called = true
				return c.NoContent(http.StatusOK)
			})(c)
			require.NoError(t, err)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errMsg == "", called)
			if tt.errMsg != "" {
				assert.JSONEq(t, `{"error":"`+tt.errMsg+`"}`, rec.Body.String())
			}
		})
	}
}
