// Package observability holds the Prometheus metrics of the relay and the
// llmclient hooks that feed them.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"chatrelay/internal/pkg/llmclient"
)

// Relay outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

var (
	RelayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_requests_total",
			Help: "Relayed completions by vendor, model and outcome",
		},
		[]string{"vendor", "model", "outcome"},
	)

	RelayChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_chunks_total",
			Help: "Text chunks forwarded to clients",
		},
		[]string{"vendor", "model"},
	)

	RelayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_relay_duration_seconds",
			Help:    "Time from opening an upstream stream to its end",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"vendor", "model"},
	)

	RelayTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_tokens_total",
			Help: "Tokens reported by vendors, by kind (prompt or completion)",
		},
		[]string{"vendor", "model", "kind"},
	)

	ModelFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_model_fallbacks_total",
			Help: "Requests for unknown model ids served by the default model",
		},
		[]string{"requested_model"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_upstream_requests_total",
			Help: "HTTP requests sent to vendors by status code",
		},
		[]string{"vendor", "endpoint", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatrelay_upstream_response_seconds",
			Help:    "Time until a vendor returned response headers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"vendor", "endpoint"},
	)
)

// NewPrometheusHooks returns llmclient hooks that record upstream request
// counts and header latency.
func NewPrometheusHooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			status := "error"
			if info.StatusCode > 0 {
				status = strconv.Itoa(info.StatusCode)
			}
			UpstreamRequests.WithLabelValues(info.Vendor, info.Endpoint, status).Inc()
			UpstreamLatency.WithLabelValues(info.Vendor, info.Endpoint).Observe(info.Duration.Seconds())
		},
	}
}
