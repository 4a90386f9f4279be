package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLStore stores sessions in PostgreSQL.
type PostgreSQLStore struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLStore creates the conversations table and indexes if needed.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool) (*PostgreSQLStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			data JSONB NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversations table: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE INDEX IF NOT EXISTS idx_conversations_created_at ON conversations(created_at DESC)"); err != nil {
		return nil, fmt.Errorf("failed to create conversations created_at index: %w", err)
	}

	return &PostgreSQLStore{pool: pool}, nil
}

// Create inserts a new session.
func (s *PostgreSQLStore) Create(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conversations (id, created_at, updated_at, data)
		VALUES ($1, $2, $3, $4::jsonb)
	`, session.ID, session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(), payload)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// Get returns a session by id.
func (s *PostgreSQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM conversations WHERE id = $1", id).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	session, err := deserializeSession(payload)
	if err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return session, nil
}

// List returns sessions ordered by created_at desc, id desc.
func (s *PostgreSQLStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, `
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
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		session, err := deserializeSession(payload)
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
func (s *PostgreSQLStore) Update(ctx context.Context, session *Session) error {
	payload, err := serializeSession(session)
	if err != nil {
		return err
	}

	cmd, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET updated_at = $1, data = $2::jsonb
		WHERE id = $3
	`, session.UpdatedAt.UnixNano(), payload, session.ID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session.
func (s *PostgreSQLStore) Delete(ctx context.Context, id string) error {
	cmd, err := s.pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close is a no-op; pool lifecycle is managed by storage layer.
func (s *PostgreSQLStore) Close() error {
	return nil
}
