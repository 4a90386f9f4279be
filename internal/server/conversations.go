package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
)

type conversationList struct {
	Data   []conversation.Summary `json:"data"`
	Active string                 `json:"active"`
}

type messageList struct {
	Data []core.Message `json:"data"`
}

type renameRequest struct {
	Title string `json:"title"`
}

func visibleSnapshot(s conversation.Snapshot) conversation.Snapshot {
	s.Messages = conversation.Visible(s.Messages)
	return s
}

// ListConversations handles GET /conversations
func (h *Handler) ListConversations(c echo.Context) error {
	list, active := h.deps.Chat.Sessions().List()
	return c.JSON(http.StatusOK, conversationList{Data: list, Active: active})
}

// CreateConversation handles POST /conversations
func (h *Handler) CreateConversation(c echo.Context) error {
	ctx := c.Request().Context()
	s, err := h.deps.Chat.Sessions().Create(ctx)
	if err != nil {
		return handleError(c, err)
	}
	snap, err := h.deps.Chat.Sessions().Get(ctx, s.ID)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusCreated, snap)
}

// SelectConversation handles POST /conversations/:id/select
func (h *Handler) SelectConversation(c echo.Context) error {
	snap, err := h.deps.Chat.Sessions().Select(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, visibleSnapshot(snap))
}

// RenameConversation handles PATCH /conversations/:id
func (h *Handler) RenameConversation(c echo.Context) error {
	var req renameRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	if err := h.deps.Chat.Sessions().Rename(ctx, id, req.Title); err != nil {
		return handleError(c, err)
	}
	snap, err := h.deps.Chat.Sessions().Get(ctx, id)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, visibleSnapshot(snap))
}

// DeleteConversation handles DELETE /conversations/:id. Any reply in flight
// is stopped first.
func (h *Handler) DeleteConversation(c echo.Context) error {
	id := c.Param("id")
	h.deps.Chat.Stop(id)
	if err := h.deps.Chat.Sessions().Delete(c.Request().Context(), id); err != nil {
		return handleError(c, err)
	}
	list, active := h.deps.Chat.Sessions().List()
	return c.JSON(http.StatusOK, conversationList{Data: list, Active: active})
}

// ListMessages handles GET /conversations/:id/messages
func (h *Handler) ListMessages(c echo.Context) error {
	snap, err := h.deps.Chat.Sessions().Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, messageList{Data: conversation.Visible(snap.Messages)})
}

// ResetConversation handles DELETE /conversations/:id/messages
func (h *Handler) ResetConversation(c echo.Context) error {
	id := c.Param("id")
	if h.deps.Chat.Busy(id) {
		return handleError(c, chat.ErrBusy)
	}
	if err := h.deps.Chat.Sessions().Reset(c.Request().Context(), id); err != nil {
		return handleError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// StopConversation handles POST /conversations/:id/stop
func (h *Handler) StopConversation(c echo.Context) error {
	stopped := h.deps.Chat.Stop(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]bool{"stopped": stopped})
}

// SendMessage handles POST /conversations/:id/messages: the user message is
// recorded and the reply is streamed back as SSE while it is written into
// the conversation.
func (h *Handler) SendMessage(c echo.Context) error {
	var req chat.SendRequest
	if err := c.Bind(&req); err != nil {
		return h.handleStreamError(c, core.NewInvalidRequestError("invalid request body", err))
	}
	req.SessionID = c.Param("id")

	ctx := c.Request().Context()
	ex, err := h.deps.Chat.Start(ctx, req)
	if err != nil {
		return h.handleStreamError(c, err)
	}
	defer ex.Close()

	sse := newSSEWriter(c)
	if err := sse.relay(ex); err != nil {
		return nil
	}
	_, err = ex.Finish()
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		// stopped through /stop; a client disconnect leaves nobody to tell
		if ctx.Err() != nil {
			return nil
		}
	default:
		h.logger.WarnContext(ctx, "reply failed after start", "conversation", req.SessionID, "error", err)
		_ = sse.error(err)
		return nil
	}
	_ = sse.done()
	return nil
}
