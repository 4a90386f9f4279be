package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding the snapshot in Redis.
const DefaultRedisKey = "chatrelay:credentials"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379" or "redis://:password@host:6379/0")
	URL string

	// Key is the hash key (defaults to "chatrelay:credentials")
	Key string
}

// RedisBackend stores the snapshot in a Redis hash with the fields KeysEntry
// and ThemeEntry. Nothing is stored with a TTL.
type RedisBackend struct {
	client *redis.Client
	key    string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = DefaultRedisKey
	}

	slog.Info("redis credentials backend connected", "key", key)

	return &RedisBackend{client: client, key: key}, nil
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context) (*Snapshot, error) {
	fields, err := b.client.HGetAll(ctx, b.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get credentials from redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	return &Snapshot{
		Keys:  decodeKeys([]byte(fields[KeysEntry]), "redis"),
		Theme: decodeTheme(fields[ThemeEntry], "redis"),
	}, nil
}

// Save implements Backend. Both fields are replaced in one transaction.
func (b *RedisBackend) Save(ctx context.Context, snap *Snapshot) error {
	keys, err := json.Marshal(snap.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.key)
		values := map[string]any{KeysEntry: string(keys)}
		if snap.Theme != "" {
			values[ThemeEntry] = string(snap.Theme)
		}
		pipe.HSet(ctx, b.key, values)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials in redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	if b.client != nil {
		return b.client.Close()
	}
	return nil
}
