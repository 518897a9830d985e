package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/snapvault/backend/internal/config"
)

// Client is the storage router contract. Keys are opaque to callers: a key
// returned by NewObjectKey and persisted on a Photo works against whichever
// backend the process was started with, and callers never interpret it.
type Client interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// New resolves the configured backend once at startup.
func New(ctx context.Context, cfg config.StorageConfig) (Client, error) {
	switch cfg.Backend {
	case config.StorageBackendMinIO:
		client, err := NewMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return client, nil
	case config.StorageBackendLocal:
		return NewLocalClient(cfg.Local)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// NewObjectKey generates a collision-free key under the given prefix,
// preserving the original file extension.
func NewObjectKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	return fmt.Sprintf("%s/%s%s", strings.Trim(prefix, "/"), uuid.New().String(), ext)
}
