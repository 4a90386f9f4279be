package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var credentialsBucket = []byte("credentials")

// BoltBackend persists the snapshot in a bbolt database: the key bundle as a
// JSON object under KeysEntry and the theme as plain text under ThemeEntry.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens (creating if needed) the database at path. The file
// lock is held until Close.
func NewBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create credentials directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials database: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

// Load implements Backend.
func (b *BoltBackend) Load(_ context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(credentialsBucket)
		if bucket == nil {
			return nil
		}
		snap = &Snapshot{
			Keys:  decodeKeys(bucket.Get([]byte(KeysEntry)), "bolt"),
			Theme: decodeTheme(string(bucket.Get([]byte(ThemeEntry))), "bolt"),
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials database: %w", err)
	}
	return snap, nil
}

// Save implements Backend. The bucket is recreated so it reflects the
// snapshot exactly.
func (b *BoltBackend) Save(_ context.Context, snap *Snapshot) error {
	keys, err := json.Marshal(snap.Keys)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(credentialsBucket) != nil {
			if err := tx.DeleteBucket(credentialsBucket); err != nil {
				return err
			}
		}
		bucket, err := tx.CreateBucket(credentialsBucket)
		if err != nil {
			return err
		}
		if err := bucket.Put([]byte(KeysEntry), keys); err != nil {
			return err
		}
		if snap.Theme != "" {
			return bucket.Put([]byte(ThemeEntry), []byte(snap.Theme))
		}
		return nil
	})
}

// Close releases the database file lock.
func (b *BoltBackend) Close() error {
	return b.db.Close()
}
