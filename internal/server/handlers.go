// Package server provides HTTP handlers and server setup for the chat relay.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
)

// Handler holds the HTTP handlers
type Handler struct {
	deps        Deps
	distinguish bool
	logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(deps Deps, distinguishErrorStatus bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{deps: deps, distinguish: distinguishErrorStatus, logger: logger}
}

// Chat handles POST /chat: one stateless exchange streamed back as SSE.
func (h *Handler) Chat(c echo.Context) error {
	var req core.ChatRequest
	if err := c.Bind(&req); err != nil {
		return h.handleStreamError(c, core.NewInvalidRequestError("invalid request body", err))
	}

	ctx := c.Request().Context()
	stream, _, err := h.deps.Relay.Start(ctx, &req, credentials.BundleFromJSON(req.APIKeys))
	if err != nil {
		return h.handleStreamError(c, err)
	}
	defer func() {
		_ = stream.Close() //nolint:errcheck
	}()

	sse := newSSEWriter(c)
	if err := sse.relay(stream); err != nil {
		// client went away; nothing left to report to
		return nil
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		h.logger.WarnContext(ctx, "stream failed after start", "error", err, "request_id", core.GetRequestID(ctx))
		_ = sse.error(err)
		return nil
	}
	_ = sse.done()
	return nil
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	if h.deps.Storage != nil {
		if err := h.deps.Storage.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "storage": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

type modelsResponse struct {
	Object  string                      `json:"object"`
	Default string                      `json:"default"`
	Data    []providers.ModelDescriptor `json:"data"`
}

// ListModels handles GET /v1/models
func (h *Handler) ListModels(c echo.Context) error {
	registry := h.deps.Relay.Router().Registry()
	return c.JSON(http.StatusOK, modelsResponse{
		Object:  "list",
		Default: registry.Default().ID,
		Data:    registry.List(),
	})
}

// handleError converts relay errors to JSON responses with their status.
func handleError(c echo.Context, err error) error {
	var ce core.ClientError
	if errors.As(err, &ce) {
		return c.JSON(ce.HTTPStatusCode(), core.ToErrorBody(err))
	}
	if errors.Is(err, context.Canceled) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusInternalServerError, core.ToErrorBody(err))
}

// handleStreamError reports a failure that happened before any SSE output.
// Routing, configuration and vendor failures share status 500 unless the
// server distinguishes them; request errors keep their own status.
func (h *Handler) handleStreamError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	h.logger.WarnContext(ctx, "chat request failed", "error", err, "request_id", core.GetRequestID(ctx))

	var relayErr *core.RelayError
	if h.distinguish || errors.As(err, &relayErr) {
		return handleError(c, err)
	}
	if errors.Is(err, context.Canceled) {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusInternalServerError, core.ToErrorBody(err))
}
