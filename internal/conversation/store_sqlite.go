package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLiteStore stores sessions in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the conversations table and indexes if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			data TEXT NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create conversations created_at index: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Create inserts a new session.
func (s *SQLiteStore) Create(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, created_at, updated_at, data)
		VALUES (?, ?, ?, ?)
	`, session.ID, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(), string(payload))
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM conversations WHERE id = ?", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	session, err := deserializeSession([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return session, nil
}

// List returns sessions ordered by created_at desc, id desc.
func (s *SQLiteStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data
		FROM conversations
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var items []*Session
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		session, err := deserializeSession([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode conversation row: %w", err)
		}
		items = append(items, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return items, nil
}

// Update replaces a stored session.
func (s *SQLiteStore) Update(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET updated_at = ?, data = ?
		WHERE id = ?
	`, session.UpdatedAt.UnixNano(), string(payload), session.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read update rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read delete rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; DB lifecycle is managed by storage layer.
func (s *SQLiteStore) Close() error {
	return nil
}
