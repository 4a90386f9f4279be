package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"chatrelay/internal/core"
)

type chunkSource interface {
	Next() bool
	Chunk() core.TextChunk
}

type contentEvent struct {
	Content string `json:"content"`
}

// sseWriter frames chunks as server-sent events. Headers are written with
// the first event.
type sseWriter struct {
	c       echo.Context
	started bool
}

func newSSEWriter(c echo.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) start() {
	if w.started {
		return
	}
	w.started = true
	h := w.c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Response().WriteHeader(http.StatusOK)
}

func (w *sseWriter) write(event string, payload []byte) error {
	w.start()
	resp := w.c.Response()
	if event != "" {
		if _, err := fmt.Fprintf(resp, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

// relay forwards every non-empty chunk of src. It returns the first write
// error, which means the client is gone.
func (w *sseWriter) relay(src chunkSource) error {
	w.start()
	for src.Next() {
		text := src.Chunk().Text
		if text == "" {
			continue
		}
		payload, err := json.Marshal(contentEvent{Content: text})
		if err != nil {
			return err
		}
		if err := w.write("", payload); err != nil {
			return err
		}
	}
	return nil
}

func (w *sseWriter) error(err error) error {
	payload, merr := json.Marshal(core.ToErrorBody(err))
	if merr != nil {
		return merr
	}
	return w.write("error", payload)
}

func (w *sseWriter) done() error {
	return w.write("", []byte("[DONE]"))
}
