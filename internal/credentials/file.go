package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend persists the snapshot as a JSON document on local disk.
// This is suitable for a single user on a single machine.
type FileBackend struct {
	mu       sync.RWMutex
	filePath string
}

// NewFileBackend creates a file backend at filePath. The file is created on
// the first Save.
func NewFileBackend(filePath string) *FileBackend {
	return &FileBackend{filePath: filePath}
}

// Load reads the snapshot from disk.
func (b *FileBackend) Load(_ context.Context) (*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, err := os.ReadFile(b.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // Nothing saved yet, not an error
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	return decodeSnapshot(data, b.filePath), nil
}

// Save writes the snapshot atomically using a temp file and rename. The file
// holds secrets, so it is only readable by the owner.
func (b *FileBackend) Save(_ context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir := filepath.Dir(b.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmpFile := b.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credentials file: %w", err)
	}
	if err := os.Rename(tmpFile, b.filePath); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("failed to rename credentials file: %w", err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error {
	return nil
}
