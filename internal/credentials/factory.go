package credentials

import (
	"context"
	"fmt"

	"chatrelay/config"
)

// Default paths per backend when credentials.path is empty.
const (
	DefaultFilePath = "data/credentials.json"
	DefaultBoltPath = "data/credentials.db"
)

// New opens the credential store configured in cfg.
func New(ctx context.Context, cfg config.CredentialsConfig) (*Store, error) {
	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	store, err := Open(ctx, backend)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return store, nil
}

func newBackend(cfg config.CredentialsConfig) (Backend, error) {
	switch cfg.Backend {
	case config.CredentialsFile, "":
		path := cfg.Path
		if path == "" {
			path = DefaultFilePath
		}
		return NewFileBackend(path), nil
	case config.CredentialsBolt:
		path := cfg.Path
		if path == "" {
			path = DefaultBoltPath
		}
		return NewBoltBackend(path)
	case config.CredentialsRedis:
		return NewRedisBackend(RedisConfig{URL: cfg.Redis.URL, Key: cfg.Redis.Key})
	case config.CredentialsMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown credentials backend: %s", cfg.Backend)
	}
}
