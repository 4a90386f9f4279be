package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotFound indicates a requested session was not found.
var ErrNotFound = errors.New("conversation not found")

// Store persists sessions. List returns sessions newest first.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context) ([]*Session, error)
	Update(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	Close() error
}

func serializeSession(session *Session) ([]byte, error) {
	if session == nil {
		return nil, fmt.Errorf("session is nil")
	}
	if session.ID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	b, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return b, nil
}

func deserializeSession(raw []byte) (*Session, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty session payload")
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &session, nil
}

func cloneSession(src *Session) (*Session, error) {
	b, err := serializeSession(src)
	if err != nil {
		return nil, err
	}
	return deserializeSession(b)
}
