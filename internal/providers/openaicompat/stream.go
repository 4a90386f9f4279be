package openaicompat

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/tidwall/gjson"

	"chatrelay/internal/core"
)

const doneMarker = "[DONE]"

// chunkStream decodes an OpenAI-compatible completion stream into text
// chunks. Next is called from one goroutine; Close may be called from any.
type chunkStream struct {
	vendor string
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	dec    *sseDecoder

	chunk core.TextChunk
	err   error
	// finished is set once a choice reported a finish_reason, which makes a
	// missing [DONE] marker tolerable.
	finished bool
	done     bool

	closeOnce sync.Once
	closeErr  error
}

func newChunkStream(ctx context.Context, cancel context.CancelFunc, vendor string, body io.ReadCloser) *chunkStream {
	return &chunkStream{
		vendor: vendor,
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		dec:    newSSEDecoder(body),
	}
}

func (s *chunkStream) Next() bool {
	if s.done {
		return false
	}
	for {
		// events already buffered must not outlive a cancel
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.finish(ctxErr)
			return false
		}
		data, err := s.dec.next()
		if err != nil {
			s.finish(s.readError(err))
			return false
		}
		if data == doneMarker {
			s.finish(nil)
			return false
		}
		if !gjson.Valid(data) {
			s.finish(core.NewUpstreamError(s.vendor, http.StatusBadGateway, "malformed stream chunk", nil))
			return false
		}

		event := gjson.Parse(data)
		if msg := event.Get("error.message"); msg.Exists() {
			s.finish(core.NewUpstreamError(s.vendor, http.StatusBadGateway, msg.String(), nil))
			return false
		}

		chunk := core.TextChunk{Text: event.Get("choices.0.delta.content").String()}
		if reason := event.Get("choices.0.finish_reason"); reason.Exists() && reason.Type != gjson.Null {
			s.finished = true
		}
		if usage := event.Get("usage"); usage.IsObject() {
			chunk.Usage = &core.Usage{
				PromptTokens:     int(usage.Get("prompt_tokens").Int()),
				CompletionTokens: int(usage.Get("completion_tokens").Int()),
				TotalTokens:      int(usage.Get("total_tokens").Int()),
			}
		}

		// role announcements and keep-alive deltas carry nothing to forward
		if chunk.Text == "" && chunk.Usage == nil {
			continue
		}
		s.chunk = chunk
		return true
	}
}

// readError classifies a decoder failure.
func (s *chunkStream) readError(err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) {
		if s.finished {
			return nil
		}
		return core.NewUpstreamError(s.vendor, http.StatusBadGateway, "stream ended unexpectedly", nil)
	}
	return core.NewUpstreamError(s.vendor, http.StatusBadGateway, "stream read failed: "+err.Error(), err)
}

func (s *chunkStream) finish(err error) {
	s.done = true
	s.err = err
	s.chunk = core.TextChunk{}
	_ = s.Close()
}

func (s *chunkStream) Chunk() core.TextChunk {
	return s.chunk
}

func (s *chunkStream) Err() error {
	return s.err
}

func (s *chunkStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
