package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snapvault/backend/internal/config"
	"github.com/snapvault/backend/pkg/logger"
)

// LocalClient stores objects under a configured root directory. URLs are
// relative to a configured base path and are expected to be served by a
// fronting web server; expiry is ignored.
type LocalClient struct {
	root    string
	baseURL string
}

func NewLocalClient(cfg config.LocalStorageConfig) (*LocalClient, error) {
	if cfg.RootDir == "" {
		return nil, errors.New("local storage root directory is required")
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed creating storage root %s: %w", cfg.RootDir, err)
	}
	return &LocalClient{
		root:    cfg.RootDir,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}, nil
}

func (l *LocalClient) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// Write to a temp file and rename so a failed write never leaves a
	// half-written object at the final key.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		logger.Error("local_upload_failed", err, map[string]interface{}{
			"object_name": key,
			"size":        size,
		})
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	logger.Info("local_upload_success", map[string]interface{}{
		"object_name":  key,
		"size":         size,
		"content_type": contentType,
	})
	return nil
}

func (l *LocalClient) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

func (l *LocalClient) Delete(ctx context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Error("local_delete_failed", err, map[string]interface{}{
			"object_name": key,
		})
		return err
	}
	return nil
}

func (l *LocalClient) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := l.resolve(key); err != nil {
		return "", err
	}
	return l.baseURL + "/" + strings.TrimLeft(key, "/"), nil
}

// resolve maps an opaque key to a path under the root, rejecting keys that
// would escape it.
func (l *LocalClient) resolve(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(l.root, cleaned), nil
}
