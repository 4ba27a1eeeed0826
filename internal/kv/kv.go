// Package kv is the persisted key-value store behind clipboard history and
// relay rooms. Backends: in-memory, SQLite (modernc, no cgo) and Redis.
package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("kv: not found")

// Store is a minimal byte-oriented key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Open selects a backend from a store URL:
//
//	""  or "memory://"           in-memory
//	"redis://..." / "rediss://"  Redis
//	"sqlite://<path>" or a path  SQLite file
func Open(ctx context.Context, url string) (Store, error) {
	switch {
	case url == "" || url == "memory://":
		return NewMemory(), nil
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedis(ctx, url, "corridor:")
	case strings.HasPrefix(url, "sqlite://"):
		return OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("kv: unsupported store %q", url)
	default:
		return OpenSQLite(url)
	}
}

// DefaultPath is the SQLite file used by the sync daemon when no store is
// configured.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".corridor", "corridor.db"), nil
}
