package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/core"
)

// Snapshot is a point-in-time copy of one session.
type Snapshot struct {
	Summary
	Messages []core.Message `json:"messages"`
}

type entry struct {
	mu      sync.Mutex
	session *Session
	deleted bool
}

func (e *entry) snapshot() Snapshot {
	c := e.session.clone()
	return Snapshot{Summary: c.summary(), Messages: c.Messages}
}

// Manager owns the set of sessions and the active selection.
//
// Lock order is structural (mu) then per-session (entry.mu). Message
// mutations only take the session's own lock, so exchanges on different
// sessions never contend.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	order   []string // newest first
	entries map[string]*entry
	active  string
}

// NewManager restores the stored sessions. If there are none, one empty
// session is created so the list is never empty.
func NewManager(ctx context.Context, store Store, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		store:   store,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
	}

	sessions, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore conversations: %w", err)
	}
	for _, s := range sessions {
		// an exchange interrupted by shutdown is finished as-is
		for i := range s.Messages {
			s.Messages[i].Streaming = false
		}
		m.order = append(m.order, s.ID)
		m.entries[s.ID] = &entry{session: s}
	}

	if len(m.order) == 0 {
		if _, err := m.Create(ctx); err != nil {
			return nil, err
		}
	} else {
		m.active = m.order[0]
	}

	logger.Info("conversations restored", "count", len(sessions), "active", m.active)
	return m, nil
}

func (m *Manager) newSession() *Session {
	now := m.now().UTC()
	return &Session{
		ID:         uuid.NewString(),
		Title:      DefaultTitle,
		TitleState: TitleDefault,
		Messages:   []core.Message{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Create starts an empty session, makes it active and puts it first in the
// list. Other sessions are untouched.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	s := m.newSession()
	if err := m.store.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	m.mu.Lock()
	m.order = slices.Insert(m.order, 0, s.ID)
	m.entries[s.ID] = &entry{session: s}
	m.active = s.ID
	m.mu.Unlock()

	return s.clone(), nil
}

func (m *Manager) entry(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, core.NewNotFoundError("conversation not found: " + id)
	}
	return e, nil
}

// Select makes id the active session and returns a snapshot of it.
func (m *Manager) Select(_ context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		m.active = id
	}
	m.mu.Unlock()
	if !ok {
		return Snapshot{}, core.NewNotFoundError("conversation not found: " + id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Snapshot{}, core.NewNotFoundError("conversation not found: " + id)
	}
	return e.snapshot(), nil
}

// Get returns a snapshot of one session without changing the selection.
func (m *Manager) Get(_ context.Context, id string) (Snapshot, error) {
	e, err := m.entry(id)
	if err != nil {
		return Snapshot{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return Snapshot{}, core.NewNotFoundError("conversation not found: " + id)
	}
	return e.snapshot(), nil
}

// Active returns the id of the active session.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// List returns summaries newest first along with the active id.
func (m *Manager) List() ([]Summary, string) {
	m.mu.RLock()
	ids := slices.Clone(m.order)
	entries := make([]*entry, len(ids))
	for i, id := range ids {
		entries[i] = m.entries[id]
	}
	active := m.active
	m.mu.RUnlock()

	out := make([]Summary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.deleted {
			out = append(out, e.session.summary())
		}
		e.mu.Unlock()
	}
	return out, active
}

// Append adds msg to the session. The first user message of a session whose
// title was never set replaces the default title.
func (m *Manager) Append(ctx context.Context, sessionID string, msg core.Message) (core.Message, error) {
	if !msg.Role.Valid() {
		return core.Message{}, core.NewInvalidRequestError(fmt.Sprintf("invalid role: %q", msg.Role), nil)
	}
	e, err := m.entry(sessionID)
	if err != nil {
		return core.Message{}, err
	}

	now := m.now().UTC()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return core.Message{}, core.NewNotFoundError("conversation not found: " + sessionID)
	}

	prev := e.session.clone()
	s := e.session
	s.Messages = append(s.Messages, msg)
	if s.TitleState == TitleDefault && msg.Role == core.RoleUser {
		if title := DeriveTitle(msg.Content); title != "" {
			s.Title = title
			s.TitleState = TitleDerived
		}
	}
	s.UpdatedAt = now

	if err := m.store.Update(ctx, s); err != nil {
		e.session = prev
		return core.Message{}, fmt.Errorf("persist conversation: %w", err)
	}
	return msg, nil
}

// Rename sets a user-chosen title. Later messages never change it.
func (m *Manager) Rename(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return core.NewInvalidRequestError("title must not be empty", nil)
	}
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return core.NewNotFoundError("conversation not found: " + id)
	}

	prev := e.session.clone()
	e.session.Title = title
	e.session.TitleState = TitleRenamed
	e.session.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, e.session); err != nil {
		e.session = prev
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}

// Reset clears every message of a session. The title is kept.
func (m *Manager) Reset(ctx context.Context, id string) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return core.NewNotFoundError("conversation not found: " + id)
	}

	prev := e.session.clone()
	e.session.Messages = []core.Message{}
	e.session.UpdatedAt = m.now().UTC()
	if err := m.store.Update(ctx, e.session); err != nil {
		e.session = prev
		return fmt.Errorf("persist conversation: %w", err)
	}
	return nil
}

// Delete removes a session. When it was active, the first remaining session
// becomes active; when none remain, a fresh one is created. The replacement
// is stored before anything is removed, so a failed call changes nothing.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return core.NewNotFoundError("conversation not found: " + id)
	}

	var replacement *Session
	if len(m.order) == 1 {
		replacement = m.newSession()
		if err := m.store.Create(ctx, replacement); err != nil {
			return fmt.Errorf("create replacement conversation: %w", err)
		}
	}
	if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		if replacement != nil {
			if rmErr := m.store.Delete(ctx, replacement.ID); rmErr != nil {
				m.logger.WarnContext(ctx, "failed to remove unused replacement conversation", "id", replacement.ID, "error", rmErr)
			}
		}
		return fmt.Errorf("delete conversation: %w", err)
	}

	e.mu.Lock()
	e.deleted = true
	e.mu.Unlock()

	delete(m.entries, id)
	m.order = slices.DeleteFunc(m.order, func(v string) bool { return v == id })

	if replacement != nil {
		m.order = []string{replacement.ID}
		m.entries[replacement.ID] = &entry{session: replacement}
		m.active = replacement.ID
		return nil
	}
	if m.active == id {
		m.active = m.order[0]
	}
	return nil
}

// History returns the messages of a session in the form sent upstream.
func (m *Manager) History(_ context.Context, id string) ([]core.Message, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, core.NewNotFoundError("conversation not found: " + id)
	}
	return ForUpstream(e.session.Messages), nil
}

// BeginAssistant appends an empty assistant message that is filled by the
// returned Pending as chunks arrive.
func (m *Manager) BeginAssistant(_ context.Context, sessionID string) (*Pending, error) {
	e, err := m.entry(sessionID)
	if err != nil {
		return nil, err
	}

	msg := core.Message{
		ID:        uuid.NewString(),
		Role:      core.RoleAssistant,
		CreatedAt: m.now().UTC(),
		Streaming: true,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return nil, core.NewNotFoundError("conversation not found: " + sessionID)
	}
	e.session.Messages = append(e.session.Messages, msg)
	return &Pending{manager: m, entry: e, sessionID: sessionID, messageID: msg.ID}, nil
}
