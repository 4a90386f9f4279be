// Package relay opens upstream completion streams: it resolves the model
// through the router, applies sampling defaults and hands the request to the
// vendor's transport.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/observability"
	"chatrelay/internal/providers"
)

// Stream is a cancellable, finite sequence of chunks from one upstream
// request.
type Stream = core.ChunkStream

// Relay is safe for concurrent use. It never retries: each Open is one
// upstream request.
type Relay struct {
	router     *providers.Router
	transports map[providers.TransportKind]providers.Transport
	defaults   core.Params
	logger     *slog.Logger
}

// New creates a relay. defaults fill in parameters the caller omits.
func New(router *providers.Router, transports map[providers.TransportKind]providers.Transport, defaults core.Params, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{router: router, transports: transports, defaults: defaults, logger: logger}
}

// Router returns the router used for resolution.
func (r *Relay) Router() *providers.Router {
	return r.router
}

// Resolve resolves modelID. A fallback to the default model is logged and
// counted; it is not an error.
func (r *Relay) Resolve(ctx context.Context, modelID string, caller credentials.Bundle) (providers.UpstreamConfig, error) {
	cfg, err := r.router.Resolve(modelID, caller)
	if err != nil {
		return providers.UpstreamConfig{}, err
	}
	if cfg.Fallback {
		observability.ModelFallbacks.WithLabelValues(cfg.RequestedModel).Inc()
		r.logger.WarnContext(ctx, "unknown model, using default",
			"requested_model", cfg.RequestedModel,
			"model", cfg.ModelID,
			"request_id", core.GetRequestID(ctx),
		)
	}
	return cfg, nil
}

// Params applies the configured defaults to caller-supplied values.
func (r *Relay) Params(temperature *float64, maxTokens *int) core.Params {
	p := r.defaults
	if temperature != nil {
		p.Temperature = *temperature
	}
	if maxTokens != nil {
		p.MaxTokens = *maxTokens
	}
	return p
}

// Open issues one streaming request carrying the full history. Failures
// before the first chunk are returned here as *core.UpstreamError; later
// ones are reported by the stream's Err.
func (r *Relay) Open(ctx context.Context, cfg providers.UpstreamConfig, messages []core.Message, params core.Params) (Stream, error) {
	if len(messages) == 0 {
		return nil, core.NewInvalidRequestError("messages must not be empty", nil)
	}
	for i, m := range messages {
		if !m.Role.Valid() {
			return nil, core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: unknown role %q", i, m.Role), nil)
		}
	}

	transport, ok := r.transports[cfg.Transport]
	if !ok {
		return nil, core.NewUpstreamError(string(cfg.Vendor), http.StatusBadGateway,
			fmt.Sprintf("no transport for %q", cfg.Transport), nil)
	}

	r.logger.DebugContext(ctx, "opening upstream stream",
		"upstream", cfg,
		"messages", len(messages),
		"request_id", core.GetRequestID(ctx),
	)

	stream, err := transport.Open(ctx, &providers.UpstreamRequest{Config: cfg, Messages: messages, Params: params})
	if err != nil {
		err = normalizeError(ctx, cfg, err)
		observability.RelayRequests.WithLabelValues(string(cfg.Vendor), cfg.ModelID, outcome(err)).Inc()
		return nil, err
	}
	return newMeteredStream(stream, cfg), nil
}

// Start resolves req.Model and opens the stream with req's parameters.
func (r *Relay) Start(ctx context.Context, req *core.ChatRequest, caller credentials.Bundle) (Stream, providers.UpstreamConfig, error) {
	cfg, err := r.Resolve(ctx, req.Model, caller)
	if err != nil {
		return nil, providers.UpstreamConfig{}, err
	}
	stream, err := r.Open(ctx, cfg, req.Messages, r.Params(req.Temperature, req.MaxTokens))
	if err != nil {
		return nil, cfg, err
	}
	return stream, cfg, nil
}

// Verify checks cfg's key against the vendor when the transport supports it.
func (r *Relay) Verify(ctx context.Context, cfg providers.UpstreamConfig) error {
	transport, ok := r.transports[cfg.Transport]
	if !ok {
		return fmt.Errorf("no transport for %q", cfg.Transport)
	}
	v, ok := transport.(providers.Verifier)
	if !ok {
		return fmt.Errorf("%s transport cannot verify keys", cfg.Transport)
	}
	return v.Verify(ctx, cfg)
}

// normalizeError keeps context and client errors and reports anything else
// as a bad gateway from the vendor.
func normalizeError(ctx context.Context, cfg providers.UpstreamConfig, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var ce core.ClientError
	if errors.As(err, &ce) {
		return err
	}
	return core.NewUpstreamError(string(cfg.Vendor), http.StatusBadGateway, err.Error(), err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return observability.OutcomeCompleted
	case errors.Is(err, context.Canceled):
		return observability.OutcomeCancelled
	default:
		return observability.OutcomeError
	}
}
