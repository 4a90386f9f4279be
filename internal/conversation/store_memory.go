package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps sessions in process memory. Data survives across
// requests but not process restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*Session)}
}

// Create stores a new session.
func (s *MemoryStore) Create(_ context.Context, session *Session) error {
	c, err := cloneSession(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.ID]; exists {
		return fmt.Errorf("session already exists: %s", c.ID)
	}
	s.items[c.ID] = c
	return nil
}

// Get retrieves one session by id.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session)
}

// List returns sessions ordered by created_at desc, id desc.
func (s *MemoryStore) List(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	all := make([]*Session, 0, len(s.items))
	for _, session := range s.items {
		c, err := cloneSession(session)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		all = append(all, c)
	}
	s.mu.RUnlock()

	sortNewestFirst(all)
	return all, nil
}

// Update replaces an existing session.
func (s *MemoryStore) Update(_ context.Context, session *Session) error {
	c, err := cloneSession(session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.ID]; !exists {
		return ErrNotFound
	}
	s.items[c.ID] = c
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[id]; !exists {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

// Close releases resources (no-op for memory store).
func (s *MemoryStore) Close() error {
	return nil
}

func sortNewestFirst(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID > sessions[j].ID
		}
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}
