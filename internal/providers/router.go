package providers

import (
	"log/slog"

	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
)

// UpstreamConfig is everything a transport needs to open one upstream
// request. It carries a secret: log it through its LogValue only.
type UpstreamConfig struct {
	// ModelID is the catalog id actually used.
	ModelID string
	// RequestedModel is the id the caller asked for. It differs from ModelID
	// only when Fallback is set.
	RequestedModel string
	Fallback       bool
	Vendor         credentials.Vendor
	Transport      TransportKind
	Endpoint       string
	UpstreamModel  string
	APIKey         string
}

// LogValue implements slog.LogValuer. The key is reduced to a fingerprint.
func (c UpstreamConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model", c.ModelID),
		slog.String("requested_model", c.RequestedModel),
		slog.Bool("fallback", c.Fallback),
		slog.String("vendor", string(c.Vendor)),
		slog.String("upstream_model", c.UpstreamModel),
		slog.String("endpoint", c.Endpoint),
		slog.String("key_fingerprint", credentials.Fingerprint(c.APIKey)),
	)
}

// Router resolves model ids against the catalog and picks the key to send.
// It holds no mutable state and is safe for concurrent use.
type Router struct {
	registry *Registry
	defaults credentials.DefaultSource
}

// NewRouter creates a router. defaults is consulted on every Resolve; it may
// be nil when no process-wide keys exist.
func NewRouter(registry *Registry, defaults credentials.DefaultSource) *Router {
	return &Router{registry: registry, defaults: defaults}
}

// Registry returns the catalog the router resolves against.
func (r *Router) Registry() *Registry {
	return r.registry
}

// Resolve maps modelID to an upstream configuration.
//
// An unknown id never fails: it resolves the registry's default model with
// Fallback set. A model that requires a key fails with a missing_key
// ConfigurationError when neither caller nor process has one. Vendors that
// do not accept caller keys always use the process key, possibly empty.
func (r *Router) Resolve(modelID string, caller credentials.Bundle) (UpstreamConfig, error) {
	model, found := r.registry.Lookup(modelID)
	if !found {
		model = r.registry.Default()
	}

	cfg := UpstreamConfig{
		ModelID:        model.ID,
		RequestedModel: modelID,
		Fallback:       !found,
		Vendor:         model.Vendor,
		Transport:      model.Transport,
		Endpoint:       r.registry.Endpoint(model),
		UpstreamModel:  model.UpstreamModel,
	}

	key, ok := r.key(model.Vendor, caller)
	if model.RequiresKey && !ok {
		return UpstreamConfig{}, core.NewMissingKeyError(string(model.Vendor))
	}
	cfg.APIKey = key
	return cfg, nil
}

func (r *Router) key(v credentials.Vendor, caller credentials.Bundle) (string, bool) {
	if v.CallerKeyable() {
		if s, ok := caller.Get(v); ok {
			return s, true
		}
	}
	if r.defaults == nil {
		return "", false
	}
	return r.defaults.Default(v)
}
