package conversation

import (
	"context"
	"errors"
	"fmt"

	"chatrelay/config"
	"chatrelay/internal/storage"
)

// Result holds the initialized conversation store and optional owned storage.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the conversation store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// NewStore creates a conversation store from storage configuration.
// The "memory" type needs no backing storage.
func NewStore(ctx context.Context, cfg config.StorageConfig) (*Result, error) {
	if cfg.Type == config.StorageMemory {
		return &Result{Store: NewMemoryStore()}, nil
	}

	shared, err := storage.New(ctx, storage.FromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	store, err := createStore(ctx, shared)
	if err != nil {
		_ = shared.Close()
		return nil, err
	}

	return &Result{
		Store:   store,
		Storage: shared,
	}, nil
}

// NewWithSharedStorage creates a conversation store using a shared storage connection.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	store, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Store: store}, nil
}

func createStore(ctx context.Context, store storage.Storage) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB())
	case storage.TypePostgreSQL:
		pool := store.PostgreSQLPool()
		if pool == nil {
			return nil, fmt.Errorf("PostgreSQL pool is nil")
		}
		return NewPostgreSQLStore(ctx, pool)
	case storage.TypeMongoDB:
		db := store.MongoDatabase()
		if db == nil {
			return nil, fmt.Errorf("MongoDB database is nil")
		}
		return NewMongoDBStore(db)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
