package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Entry names under which the bundle and the theme flag are persisted.
const (
	KeysEntry  = "ai-app-api-keys"
	ThemeEntry = "ai-app-theme"
)

// Theme is the persisted UI theme flag.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ParseTheme accepts "light" and "dark".
func ParseTheme(s string) (Theme, error) {
	switch t := Theme(strings.ToLower(strings.TrimSpace(s))); t {
	case ThemeLight, ThemeDark:
		return t, nil
	}
	return "", fmt.Errorf("unknown theme %q (valid: light, dark)", s)
}

// ErrUnknownVendor is returned when a key is set for a vendor that does not exist.
var ErrUnknownVendor = errors.New("unknown vendor")

// Snapshot is the persisted state: a flat vendor to secret mapping plus the
// theme flag. Backends must round-trip it losslessly.
type Snapshot struct {
	Keys  map[Vendor]string `json:"ai-app-api-keys"`
	Theme Theme             `json:"ai-app-theme,omitempty"`
}

// Backend persists a Snapshot. Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns the stored snapshot, or nil, nil when nothing was saved yet.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot.
	Save(ctx context.Context, snap *Snapshot) error

	// Close releases any resources held by the backend.
	Close() error
}

// Store is the credential capability: get, set and clear per vendor. It is
// loaded once when opened and written only on an explicit Save. Entries never
// expire.
type Store struct {
	// saveMu serializes writes to the backend; mu guards the in-memory state.
	saveMu  sync.Mutex
	mu      sync.RWMutex
	backend Backend
	keys    map[Vendor]string
	theme   Theme
}

// Open loads the persisted snapshot from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("credentials backend is required")
	}
	snap, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	s := &Store{backend: backend, keys: make(map[Vendor]string), theme: ThemeLight}
	if snap != nil {
		for v, secret := range snap.Keys {
			s.keys[v] = secret
		}
		if snap.Theme != "" {
			s.theme = snap.Theme
		}
	}

	slog.Debug("credentials loaded", "vendors", len(s.keys), "theme", s.theme)
	return s, nil
}

// Get returns the secret for v; empty or whitespace-only values are absent.
func (s *Store) Get(v Vendor) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	secret := strings.TrimSpace(s.keys[v])
	return secret, secret != ""
}

// Set stores a secret for v in memory. Call Save to persist it.
func (s *Store) Set(v Vendor, secret string) error {
	if !v.Known() {
		return fmt.Errorf("%w: %s", ErrUnknownVendor, v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[v] = secret
	return nil
}

// Clear removes the secret for v in memory. Call Save to persist it.
func (s *Store) Clear(v Vendor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, v)
}

// Theme returns the stored theme flag.
func (s *Store) Theme() Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

// SetTheme changes the theme flag in memory.
func (s *Store) SetTheme(t Theme) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.theme = t
}

// Snapshot returns a copy of the in-memory state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make(map[Vendor]string, len(s.keys))
	for v, secret := range s.keys {
		keys[v] = secret
	}
	return &Snapshot{Keys: keys, Theme: s.theme}
}

// Save writes the current state to the backend.
func (s *Store) Save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.backend.Save(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

// Update applies fn to a copy of the current state, saves the copy and only
// then makes it live. If fn or the save fails the store is left unchanged.
func (s *Store) Update(ctx context.Context, fn func(snap *Snapshot) error) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	next := s.Snapshot()
	if err := fn(next); err != nil {
		return err
	}
	for v := range next.Keys {
		if !v.Known() {
			return fmt.Errorf("%w: %s", ErrUnknownVendor, v)
		}
	}
	if err := s.backend.Save(ctx, next); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	s.mu.Lock()
	s.keys = next.Keys
	s.theme = next.Theme
	s.mu.Unlock()
	return nil
}

// Replace swaps in keys as the whole key set, dropping blank secrets, and
// persists it. An empty theme keeps the current one.
func (s *Store) Replace(ctx context.Context, keys map[Vendor]string, theme Theme) error {
	return s.Update(ctx, func(snap *Snapshot) error {
		snap.Keys = make(map[Vendor]string, len(keys))
		for v, secret := range keys {
			if strings.TrimSpace(secret) != "" {
				snap.Keys[v] = secret
			}
		}
		if theme != "" {
			snap.Theme = theme
		}
		return nil
	})
}

// Bundle returns a copy of the stored secrets.
func (s *Store) Bundle() Bundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b := make(Bundle, len(s.keys))
	for v, secret := range s.keys {
		b[v] = secret
	}
	return b
}

// Default implements DefaultSource so a server-side store can stand in for
// process defaults.
func (s *Store) Default(v Vendor) (string, bool) {
	return s.Get(v)
}

// HasValidKey reports whether a non-blank key is stored for v.
func (s *Store) HasValidKey(v Vendor) bool {
	_, ok := s.Get(v)
	return ok
}

// IsConfigured reports whether any caller-keyable vendor has a key.
func (s *Store) IsConfigured() bool {
	for _, v := range CallerVendors() {
		if s.HasValidKey(v) {
			return true
		}
	}
	return false
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// MemoryBackend keeps the snapshot in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements Backend.
func (b *MemoryBackend) Load(_ context.Context) (*Snapshot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snap == nil {
		return nil, nil
	}
	return cloneSnapshot(b.snap), nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = cloneSnapshot(snap)
	return nil
}

// Close is a no-op for the memory backend.
func (b *MemoryBackend) Close() error {
	return nil
}

func cloneSnapshot(src *Snapshot) *Snapshot {
	if src == nil {
		return nil
	}
	keys := make(map[Vendor]string, len(src.Keys))
	for v, secret := range src.Keys {
		keys[v] = secret
	}
	return &Snapshot{Keys: keys, Theme: src.Theme}
}
