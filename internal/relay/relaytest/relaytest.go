// Package relaytest provides a scripted transport for tests that need an
// upstream without a network.
package relaytest

import (
	"context"
	"sync"

	"chatrelay/internal/core"
	"chatrelay/internal/providers"
)

// Transport replays Chunks for every Open. When Err is set the stream ends
// with it after the chunks. When Hold is set the stream blocks after
// HoldAfter chunks until the context is cancelled or Hold is closed.
type Transport struct {
	Chunks    []string
	Usage     *core.Usage
	Err       error
	OpenErr   error
	Hold      chan struct{}
	HoldAfter int

	mu       sync.Mutex
	requests []*providers.UpstreamRequest
}

// Open implements providers.Transport.
func (t *Transport) Open(ctx context.Context, req *providers.UpstreamRequest) (core.ChunkStream, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()

	if t.OpenErr != nil {
		return nil, t.OpenErr
	}
	ctx, cancel := context.WithCancel(ctx)
	return &stream{t: t, ctx: ctx, cancel: cancel}, nil
}

// Requests returns the requests received so far.
func (t *Transport) Requests() []*providers.UpstreamRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*providers.UpstreamRequest(nil), t.requests...)
}

// Transports maps both transport kinds to t.
func (t *Transport) Transports() map[providers.TransportKind]providers.Transport {
	return map[providers.TransportKind]providers.Transport{
		providers.TransportOpenAI: t,
		providers.TransportGemini: t,
	}
}

type stream struct {
	t      *Transport
	ctx    context.Context
	cancel context.CancelFunc
	i      int
	chunk  core.TextChunk
	err    error
	done   bool
}

func (s *stream) Next() bool {
	if s.done {
		return false
	}
	if s.t.Hold != nil && s.i == s.t.HoldAfter {
		select {
		case <-s.ctx.Done():
		case <-s.t.Hold:
		}
	}
	if err := s.ctx.Err(); err != nil {
		s.done, s.err = true, err
		return false
	}
	if s.i >= len(s.t.Chunks) {
		s.done, s.err = true, s.t.Err
		return false
	}
	s.chunk = core.TextChunk{Text: s.t.Chunks[s.i]}
	s.i++
	if s.i == len(s.t.Chunks) && s.t.Err == nil {
		s.chunk.Usage = s.t.Usage
	}
	return true
}

func (s *stream) Chunk() core.TextChunk { return s.chunk }
func (s *stream) Err() error            { return s.err }

func (s *stream) Close() error {
	s.cancel()
	return nil
}
