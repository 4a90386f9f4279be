package relay

import (
	"context"
	"sync"
	"time"

	"chatrelay/internal/core"
	"chatrelay/internal/observability"
	"chatrelay/internal/providers"
)

// meteredStream records chunk, token and outcome metrics for a stream. The
// summary is recorded once, when the stream ends or is closed early.
type meteredStream struct {
	Stream
	vendor string
	model  string
	start  time.Time

	mu       sync.Mutex
	usage    *core.Usage
	recorded bool
}

func newMeteredStream(s Stream, cfg providers.UpstreamConfig) *meteredStream {
	return &meteredStream{
		Stream: s,
		vendor: string(cfg.Vendor),
		model:  cfg.ModelID,
		start:  time.Now(),
	}
}

func (m *meteredStream) Next() bool {
	if !m.Stream.Next() {
		m.record(m.Stream.Err())
		return false
	}
	chunk := m.Stream.Chunk()
	if chunk.Text != "" {
		observability.RelayChunks.WithLabelValues(m.vendor, m.model).Inc()
	}
	if chunk.Usage != nil {
		m.mu.Lock()
		m.usage = chunk.Usage
		m.mu.Unlock()
	}
	return true
}

// Close may run concurrently with Next, so it does not read the inner
// stream's error: a stream closed before its end counts as cancelled.
func (m *meteredStream) Close() error {
	err := m.Stream.Close()
	m.record(context.Canceled)
	return err
}

func (m *meteredStream) record(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recorded {
		return
	}
	m.recorded = true

	observability.RelayRequests.WithLabelValues(m.vendor, m.model, outcome(err)).Inc()
	observability.RelayDuration.WithLabelValues(m.vendor, m.model).Observe(time.Since(m.start).Seconds())
	if m.usage != nil {
		observability.RelayTokens.WithLabelValues(m.vendor, m.model, "prompt").Add(float64(m.usage.PromptTokens))
		observability.RelayTokens.WithLabelValues(m.vendor, m.model, "completion").Add(float64(m.usage.CompletionTokens))
	}
}
