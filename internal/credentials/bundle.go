package credentials

import "strings"

// Bundle maps vendors to caller-supplied secrets. A value that is empty or
// whitespace-only counts as absent.
type Bundle map[Vendor]string

// Get returns the trimmed secret for v and whether one is present.
func (b Bundle) Get(v Vendor) (string, bool) {
	s := strings.TrimSpace(b[v])
	return s, s != ""
}

// Default implements DefaultSource, so a fixed bundle can stand in for
// process defaults.
func (b Bundle) Default(v Vendor) (string, bool) {
	return b.Get(v)
}

// Clone returns an independent copy of b.
func (b Bundle) Clone() Bundle {
	out := make(Bundle, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// DefaultSource supplies process-wide keys. Implementations are consulted
// on every resolution and must be safe for concurrent use.
type DefaultSource interface {
	Default(v Vendor) (string, bool)
}

// Chain consults each source in order and returns the first present key.
type Chain []DefaultSource

// Default implements DefaultSource.
func (c Chain) Default(v Vendor) (string, bool) {
	for _, src := range c {
		if src == nil {
			continue
		}
		if s, ok := src.Default(v); ok {
			return s, true
		}
	}
	return "", false
}
