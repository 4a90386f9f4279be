// Package openaicompat streams completions from vendors that speak the
// OpenAI /chat/completions protocol: SiliconFlow, OpenAI, DeepSeek, Zhipu
// and OpenRouter.
package openaicompat

import (
	"context"
	"net/http"

	"chatrelay/internal/core"
	"chatrelay/internal/pkg/llmclient"
	"chatrelay/internal/providers"
)

func init() {
	providers.RegisterTransport(providers.TransportOpenAI, func(opts providers.TransportOptions) providers.Transport {
		return New(opts)
	})
}

// Transport opens OpenAI-compatible streams. It holds no per-request state;
// each Open builds a client bound to that request's endpoint and key.
type Transport struct {
	httpClient *http.Client
	hooks      llmclient.Hooks
}

// New creates the transport.
func New(opts providers.TransportOptions) *Transport {
	return &Transport{httpClient: opts.HTTPClient, hooks: opts.Hooks}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Stream        bool          `json:"stream"`
	StreamOptions streamOptions `json:"stream_options"`
	Temperature   float64       `json:"temperature"`
	MaxTokens     int           `json:"max_tokens"`
}

func (t *Transport) client(cfg providers.UpstreamConfig) *llmclient.Client {
	c := llmclient.DefaultConfig(string(cfg.Vendor), cfg.Endpoint)
	c.MaxRetries = 0
	c.Hooks = t.hooks
	apiKey := cfg.APIKey
	return llmclient.NewWithHTTPClient(t.httpClient, c, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	})
}

// Open issues one streaming completion carrying the full history.
func (t *Transport) Open(ctx context.Context, req *providers.UpstreamRequest) (core.ChunkStream, error) {
	body := chatRequest{
		Model:         req.Config.UpstreamModel,
		Messages:      toChatMessages(req.Messages),
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
		Temperature:   req.Params.Temperature,
		MaxTokens:     req.Params.MaxTokens,
	}

	streamCtx, cancel := context.WithCancel(ctx)
	rc, err := t.client(req.Config).DoStream(streamCtx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/chat/completions",
		Body:     body,
		Headers:  map[string]string{"Accept": "text/event-stream"},
		Model:    req.Config.UpstreamModel,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return newChunkStream(streamCtx, cancel, string(req.Config.Vendor), rc), nil
}

// Verify checks the key by listing the vendor's models.
func (t *Transport) Verify(ctx context.Context, cfg providers.UpstreamConfig) error {
	return t.client(cfg).Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}

// toChatMessages drops data messages, which chat completion APIs reject.
func toChatMessages(msgs []core.Message) []chatMessage {
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == core.RoleData {
			continue
		}
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
