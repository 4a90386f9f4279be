// Package gemini streams completions from Google's Generative Language API
// through the official genai SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"sync"
	"time"

	"google.golang.org/genai"

	"chatrelay/internal/core"
	"chatrelay/internal/pkg/llmclient"
	"chatrelay/internal/providers"
)

const vendorName = "google"

func init() {
	providers.RegisterTransport(providers.TransportGemini, func(opts providers.TransportOptions) providers.Transport {
		return New(opts)
	})
}

// Transport opens Gemini streams.
type Transport struct {
	httpClient *http.Client
	hooks      llmclient.Hooks
}

// New creates the transport.
func New(opts providers.TransportOptions) *Transport {
	return &Transport{httpClient: opts.HTTPClient, hooks: opts.Hooks}
}

func (t *Transport) client(ctx context.Context, cfg providers.UpstreamConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: t.httpClient,
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, core.NewUpstreamError(vendorName, http.StatusBadGateway, err.Error(), err)
	}
	return client, nil
}

// Open starts one streaming generation. The first response is awaited so
// that rejections surface here rather than mid-stream.
func (t *Transport) Open(ctx context.Context, req *providers.UpstreamRequest) (core.ChunkStream, error) {
	if req.Params.MaxTokens < 0 || req.Params.MaxTokens > math.MaxInt32 {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("maxTokens %d is out of range for %s", req.Params.MaxTokens, vendorName), nil)
	}
	info := llmclient.RequestInfo{
		Vendor:   vendorName,
		Model:    req.Config.UpstreamModel,
		Method:   http.MethodPost,
		Endpoint: "streamGenerateContent",
		Stream:   true,
	}
	if t.hooks.OnRequestStart != nil {
		ctx = t.hooks.OnRequestStart(ctx, info)
	}
	start := time.Now()

	client, err := t.client(ctx, req.Config)
	if err != nil {
		t.end(ctx, info, start, err)
		return nil, err
	}

	contents, system := toContents(req.Messages)
	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Params.Temperature)),
		MaxOutputTokens: int32(req.Params.MaxTokens),
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	next, stop := iter.Pull2(client.Models.GenerateContentStream(streamCtx, req.Config.UpstreamModel, contents, genCfg))
	s := &chunkStream{ctx: streamCtx, cancel: cancel, next: next, stop: stop}

	first, err, ok := next()
	if err != nil || !ok {
		_ = s.Close()
		if err == nil {
			err = core.NewUpstreamError(vendorName, http.StatusBadGateway, "stream ended unexpectedly", nil)
		} else {
			err = mapError(streamCtx, err)
		}
		t.end(ctx, info, start, err)
		return nil, err
	}
	s.pending = first
	t.end(ctx, info, start, nil)
	return s, nil
}

func (t *Transport) end(ctx context.Context, info llmclient.RequestInfo, start time.Time, err error) {
	if t.hooks.OnRequestEnd == nil {
		return
	}
	status := http.StatusOK
	var upErr *core.UpstreamError
	if errors.As(err, &upErr) {
		status = upErr.Status
	} else if err != nil {
		status = 0
	}
	t.hooks.OnRequestEnd(ctx, llmclient.ResponseInfo{
		Vendor:     info.Vendor,
		Model:      info.Model,
		Endpoint:   info.Endpoint,
		Stream:     true,
		StatusCode: status,
		Duration:   time.Since(start),
		Err:        err,
	})
}

// Verify checks the key by fetching the model's metadata.
func (t *Transport) Verify(ctx context.Context, cfg providers.UpstreamConfig) error {
	client, err := t.client(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := client.Models.Get(ctx, cfg.UpstreamModel, nil); err != nil {
		return mapError(ctx, err)
	}
	return nil
}

// toContents maps the history onto Gemini contents. System messages become
// the system instruction; data messages have no Gemini equivalent.
func toContents(msgs []core.Message) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system string
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case core.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case core.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		}
	}
	return contents, system
}

// mapError converts SDK errors into UpstreamErrors, keeping context errors
// as they are.
func mapError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return core.NewUpstreamError(vendorName, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return core.NewUpstreamError(vendorName, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return core.NewUpstreamError(vendorName, http.StatusBadGateway, err.Error(), err)
}

// chunkStream adapts the SDK's push iterator to a pull ChunkStream.
type chunkStream struct {
	ctx    context.Context
	cancel context.CancelFunc

	// mu serializes next and stop, which iter.Pull2 forbids calling
	// concurrently. Close cancels first so a blocked next returns.
	mu      sync.Mutex
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	stopped bool

	pending *genai.GenerateContentResponse
	chunk   core.TextChunk
	err     error
	done    bool

	closeOnce sync.Once
}

func (s *chunkStream) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.done {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			s.finish(ctxErr)
			return false
		}
		var resp *genai.GenerateContentResponse
		if s.pending != nil {
			resp, s.pending = s.pending, nil
		} else {
			if s.stopped {
				s.finish(context.Canceled)
				return false
			}
			var err error
			var ok bool
			resp, err, ok = s.next()
			if err != nil {
				s.finish(mapError(s.ctx, err))
				return false
			}
			if !ok {
				s.finish(s.ctx.Err())
				return false
			}
		}

		chunk := core.TextChunk{Text: resp.Text()}
		if u := resp.UsageMetadata; u != nil {
			chunk.Usage = &core.Usage{
				PromptTokens:     int(u.PromptTokenCount),
				CompletionTokens: int(u.CandidatesTokenCount),
				TotalTokens:      int(u.TotalTokenCount),
			}
		}
		if chunk.Text == "" && chunk.Usage == nil {
			continue
		}
		s.chunk = chunk
		return true
	}
	return false
}

// finish must be called with mu held.
func (s *chunkStream) finish(err error) {
	s.done = true
	s.err = err
	s.chunk = core.TextChunk{}
	s.cancel()
	if !s.stopped {
		s.stopped = true
		s.stop()
	}
}

func (s *chunkStream) Chunk() core.TextChunk {
	return s.chunk
}

func (s *chunkStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *chunkStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.stopped {
			s.stopped = true
			s.stop()
		}
		if !s.done {
			s.done = true
			s.err = context.Canceled
		}
	})
	return nil
}
