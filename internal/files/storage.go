package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"chatcompose/internal/config"
)

// Storage reads stored file bytes.
type Storage interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// LocalStorage serves files below a root directory.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates a storage rooted at root.
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: filepath.Clean(root)}
}

// ReadFile implements Storage. Paths escaping the root are rejected.
func (s *LocalStorage) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	full := filepath.Join(s.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: path %q escapes storage root", ErrPermissionDenied, path)
	}

	data, err := os.ReadFile(full)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	}
	return nil, fmt.Errorf("failed to read %s: %w", path, err)
}

// Providers maps storage provider ids to backends.
type Providers map[string]Storage

// NewProviders builds the storage backends from configuration.
func NewProviders(cfg config.StorageConfig) (Providers, error) {
	providers := make(Providers, len(cfg.Providers))
	for id, p := range cfg.Providers {
		switch p.Kind {
		case "local", "":
			providers[id] = NewLocalStorage(p.Root)
		default:
			return nil, fmt.Errorf("storage provider %s: unsupported kind %q", id, p.Kind)
		}
	}
	return providers, nil
}

// Get returns the backend for id.
func (p Providers) Get(id string) (Storage, error) {
	s, ok := p[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStorageProviderNotFound, id)
	}
	return s, nil
}
