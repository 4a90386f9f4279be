// Package providers holds the model catalog, the request router that turns a
// model id into an upstream configuration, and the transport registry that
// vendor packages plug into.
package providers

import (
	"fmt"
	"strings"

	"chatrelay/internal/credentials"
)

// Category groups models for display.
type Category string

const (
	CategoryDomesticFree Category = "domestic-free"
	CategoryOverseasFree Category = "overseas-free"
	CategoryPaid         Category = "paid"
)

// Status is the advertised availability of a model.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ModelDescriptor is one entry of the catalog. Descriptors are immutable.
type ModelDescriptor struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Category      Category           `json:"category"`
	Status        Status             `json:"status"`
	Vendor        credentials.Vendor `json:"vendor"`
	UpstreamModel string             `json:"upstream_model"`
	// RequiresKey models fail resolution with missing_key when neither the
	// caller nor the process has a key for the vendor.
	RequiresKey bool `json:"requires_key"`
	// BaseEndpoint overrides the vendor's endpoint for this model only.
	BaseEndpoint string        `json:"-"`
	Transport    TransportKind `json:"-"`
}

// Registry is the immutable model catalog.
type Registry struct {
	models    []ModelDescriptor
	byID      map[string]int
	endpoints map[credentials.Vendor]string
	fallback  int
}

// NewRegistry validates models and builds a registry. The fallback model is
// the first domestic-free entry, or the first entry when there is none.
func NewRegistry(models []ModelDescriptor) (*Registry, error) {
	if len(models) == 0 {
		return nil, fmt.Errorf("registry needs at least one model")
	}

	r := &Registry{
		models:    append([]ModelDescriptor(nil), models...),
		byID:      make(map[string]int, len(models)),
		endpoints: make(map[credentials.Vendor]string, len(defaultEndpoints)),
		fallback:  -1,
	}
	for v, ep := range defaultEndpoints {
		r.endpoints[v] = ep
	}

	for i, m := range r.models {
		if strings.TrimSpace(m.ID) == "" {
			return nil, fmt.Errorf("model at index %d has no id", i)
		}
		if _, dup := r.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		if !m.Vendor.Known() {
			return nil, fmt.Errorf("model %s: unknown vendor %q", m.ID, m.Vendor)
		}
		if m.Transport == "" {
			return nil, fmt.Errorf("model %s: transport is required", m.ID)
		}
		r.byID[m.ID] = i
		if r.fallback < 0 && m.Category == CategoryDomesticFree {
			r.fallback = i
		}
	}
	if r.fallback < 0 {
		r.fallback = 0
	}
	return r, nil
}

// DefaultRegistry returns the built-in catalog.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(builtinCatalog)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return r
}

// WithEndpoints returns a copy of r whose vendor endpoints are replaced by
// the non-empty entries of overrides.
func (r *Registry) WithEndpoints(overrides map[credentials.Vendor]string) *Registry {
	out := &Registry{
		models:    r.models,
		byID:      r.byID,
		endpoints: make(map[credentials.Vendor]string, len(r.endpoints)),
		fallback:  r.fallback,
	}
	for v, ep := range r.endpoints {
		out.endpoints[v] = ep
	}
	for v, ep := range overrides {
		if ep != "" {
			out.endpoints[v] = strings.TrimRight(ep, "/")
		}
	}
	return out
}

// Lookup returns the descriptor for id.
func (r *Registry) Lookup(id string) (ModelDescriptor, bool) {
	i, ok := r.byID[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return r.models[i], true
}

// List returns the catalog in its defined order.
func (r *Registry) List() []ModelDescriptor {
	return append([]ModelDescriptor(nil), r.models...)
}

// Default returns the designated fallback model.
func (r *Registry) Default() ModelDescriptor {
	return r.models[r.fallback]
}

// Endpoint returns the base endpoint used for m.
func (r *Registry) Endpoint(m ModelDescriptor) string {
	if m.BaseEndpoint != "" {
		return m.BaseEndpoint
	}
	return r.endpoints[m.Vendor]
}
