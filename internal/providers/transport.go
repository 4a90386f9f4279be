package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"chatrelay/internal/core"
	"chatrelay/internal/pkg/llmclient"
)

// TransportKind names a wire protocol spoken by one or more vendors.
type TransportKind string

const (
	// TransportOpenAI is the OpenAI-compatible /chat/completions SSE protocol.
	TransportOpenAI TransportKind = "openai"
	// TransportGemini is Google's native Generative Language API.
	TransportGemini TransportKind = "gemini"
)

// UpstreamRequest is one streaming completion to open.
type UpstreamRequest struct {
	Config   UpstreamConfig
	Messages []core.Message
	Params   core.Params
}

// Transport opens upstream streams for one TransportKind. Each Open call
// issues exactly one upstream request and owns its connection.
type Transport interface {
	Open(ctx context.Context, req *UpstreamRequest) (core.ChunkStream, error)
}

// Verifier is implemented by transports that can check a key without
// generating text.
type Verifier interface {
	Verify(ctx context.Context, cfg UpstreamConfig) error
}

// TransportOptions are the shared dependencies handed to every transport.
type TransportOptions struct {
	HTTPClient *http.Client
	Hooks      llmclient.Hooks
}

// TransportBuilder constructs a transport.
type TransportBuilder func(opts TransportOptions) Transport

var (
	transportsMu sync.RWMutex
	transports   = map[TransportKind]TransportBuilder{}
)

// RegisterTransport makes a transport available under kind. Vendor packages
// call it from init. Registering a kind twice panics.
func RegisterTransport(kind TransportKind, builder TransportBuilder) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	if _, dup := transports[kind]; dup {
		panic(fmt.Sprintf("transport %q registered twice", kind))
	}
	transports[kind] = builder
}

// NewTransport builds the transport registered under kind.
func NewTransport(kind TransportKind, opts TransportOptions) (Transport, error) {
	transportsMu.RLock()
	builder, ok := transports[kind]
	transportsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no transport registered for %q", kind)
	}
	return builder(opts), nil
}

// RegisteredTransports lists the registered kinds in sorted order.
func RegisteredTransports() []TransportKind {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	kinds := make([]TransportKind, 0, len(transports))
	for k := range transports {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Transports builds every registered transport.
func Transports(opts TransportOptions) (map[TransportKind]Transport, error) {
	out := make(map[TransportKind]Transport)
	for _, kind := range RegisteredTransports() {
		t, err := NewTransport(kind, opts)
		if err != nil {
			return nil, err
		}
		out[kind] = t
	}
	return out, nil
}
