// Package chat runs exchanges inside conversations: it records the user
// message, streams the assistant reply from the relay into the session and
// lets callers stop a reply in flight.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
	"chatrelay/internal/relay"
)

// ErrBusy is returned when a conversation already has a reply in flight.
var ErrBusy = core.NewConflictError("a reply is already being generated for this conversation")

// SendRequest is one user turn.
type SendRequest struct {
	SessionID   string          `json:"-"`
	Content     string          `json:"content"`
	Model       string          `json:"model"`
	APIKeys     json.RawMessage `json:"apiKeys,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	MaxTokens   *int            `json:"maxTokens,omitempty"`
}

// Service is safe for concurrent use. At most one exchange runs per
// conversation; exchanges on different conversations are independent.
type Service struct {
	relay         *relay.Relay
	sessions      *conversation.Manager
	maxInputChars int
	logger        *slog.Logger

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewService creates a chat service. maxInputChars <= 0 disables the limit.
func NewService(r *relay.Relay, sessions *conversation.Manager, maxInputChars int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		relay:         r,
		sessions:      sessions,
		maxInputChars: maxInputChars,
		logger:        logger,
		inflight:      make(map[string]context.CancelFunc),
	}
}

// Sessions returns the conversation manager.
func (s *Service) Sessions() *conversation.Manager {
	return s.sessions
}

// Relay returns the relay used for upstream requests.
func (s *Service) Relay() *relay.Relay {
	return s.relay
}

func (s *Service) reserve(ctx context.Context, sessionID string) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.inflight[sessionID] = cancel

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.inflight, sessionID)
			s.mu.Unlock()
			cancel()
		})
	}
	return ctx, release, nil
}

// Busy reports whether sessionID has a reply in flight.
func (s *Service) Busy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[sessionID]
	return ok
}

// Stop cancels the reply in flight for sessionID. The chunks already relayed
// stay in the conversation. It reports whether anything was running.
func (s *Service) Stop(sessionID string) bool {
	s.mu.Lock()
	cancel, ok := s.inflight[sessionID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Start records the user message and opens the upstream stream. Errors
// returned here happen before any output; the user message is kept and the
// failure is recorded on an empty assistant message. On success the caller
// must drain the Exchange and Close it.
func (s *Service) Start(ctx context.Context, req SendRequest) (*Exchange, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, core.NewInvalidRequestError("message must not be empty", nil)
	}
	if s.maxInputChars > 0 && utf8.RuneCountInString(req.Content) > s.maxInputChars {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("message exceeds %d characters", s.maxInputChars), nil)
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = s.sessions.Active()
	}
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}

	exCtx, release, err := s.reserve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.sessions.Append(exCtx, sessionID, core.Message{Role: core.RoleUser, Content: req.Content}); err != nil {
		release()
		return nil, err
	}

	stream, cfg, err := s.open(exCtx, sessionID, req)
	if err != nil {
		s.recordFailure(ctx, sessionID, err)
		release()
		return nil, err
	}

	pending, err := s.sessions.BeginAssistant(exCtx, sessionID)
	if err != nil {
		_ = stream.Close()
		release()
		return nil, err
	}

	return &Exchange{
		ctx:     exCtx,
		svc:     s,
		cfg:     cfg,
		stream:  stream,
		pending: pending,
		release: release,
	}, nil
}

func (s *Service) open(ctx context.Context, sessionID string, req SendRequest) (relay.Stream, providers.UpstreamConfig, error) {
	history, err := s.sessions.History(ctx, sessionID)
	if err != nil {
		return nil, providers.UpstreamConfig{}, err
	}
	cfg, err := s.relay.Resolve(ctx, req.Model, credentials.BundleFromJSON(req.APIKeys))
	if err != nil {
		return nil, providers.UpstreamConfig{}, err
	}
	stream, err := s.relay.Open(ctx, cfg, history, s.relay.Params(req.Temperature, req.MaxTokens))
	if err != nil {
		return nil, cfg, err
	}
	return stream, cfg, nil
}

func (s *Service) recordFailure(ctx context.Context, sessionID string, cause error) {
	if errors.Is(cause, context.Canceled) {
		return
	}
	p, err := s.sessions.BeginAssistant(ctx, sessionID)
	if err != nil {
		return
	}
	if err := p.Finish(ctx, cause); err != nil {
		s.logger.ErrorContext(ctx, "failed to record exchange failure", "conversation", sessionID, "error", err)
	}
}

// Send runs a whole exchange, calling onChunk for every chunk of text. It
// returns the final assistant message. A non-nil error with a non-empty
// message means the reply failed or was stopped midway.
func (s *Service) Send(ctx context.Context, req SendRequest, onChunk func(string) error) (core.Message, error) {
	ex, err := s.Start(ctx, req)
	if err != nil {
		return core.Message{}, err
	}
	defer ex.Close()

	for ex.Next() {
		if onChunk == nil {
			continue
		}
		if err := onChunk(ex.Chunk().Text); err != nil {
			ex.abort(err)
			break
		}
	}
	return ex.Finish()
}

// Exchange is one assistant reply being streamed into a conversation.
type Exchange struct {
	ctx     context.Context
	svc     *Service
	cfg     providers.UpstreamConfig
	stream  relay.Stream
	pending *conversation.Pending
	release func()

	chunk    core.TextChunk
	abortErr error
	finished bool
	result   core.Message
	err      error
}

// SessionID returns the conversation the reply belongs to.
func (e *Exchange) SessionID() string {
	return e.pending.SessionID()
}

// Upstream returns the resolved upstream configuration.
func (e *Exchange) Upstream() providers.UpstreamConfig {
	return e.cfg
}

// Next advances to the next chunk, appending it to the conversation. Nothing
// is appended once the exchange has been stopped.
func (e *Exchange) Next() bool {
	if e.finished || e.abortErr != nil || e.ctx.Err() != nil {
		return false
	}
	if !e.stream.Next() {
		return false
	}
	if e.ctx.Err() != nil {
		return false
	}
	e.chunk = e.stream.Chunk()
	e.pending.Write(e.chunk.Text)
	return true
}

// Chunk returns the current chunk.
func (e *Exchange) Chunk() core.TextChunk {
	return e.chunk
}

func (e *Exchange) abort(err error) {
	e.abortErr = err
}

// Finish completes the reply and returns it. It is safe to call more than
// once.
func (e *Exchange) Finish() (core.Message, error) {
	if e.finished {
		return e.result, e.err
	}
	e.finished = true

	err := e.stream.Err()
	if err == nil {
		err = e.abortErr
	}
	if err == nil && e.ctx.Err() != nil {
		err = e.ctx.Err()
	}
	_ = e.stream.Close()

	if ferr := e.pending.Finish(e.ctx, err); ferr != nil {
		e.svc.logger.ErrorContext(e.ctx, "failed to persist reply", "conversation", e.SessionID(), "error", ferr)
	}
	e.release()

	e.result = e.pending.Message()
	e.err = err
	return e.result, e.err
}

// Close finishes the exchange if the caller has not. It cancels any
// upstream request still running.
func (e *Exchange) Close() error {
	if !e.finished {
		e.abortErr = context.Canceled
		_ = e.stream.Close()
		_, _ = e.Finish()
	}
	return nil
}
