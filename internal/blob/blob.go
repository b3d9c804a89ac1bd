// Package blob is the object storage used for project file contents.
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("blob: not found")

// ErrInvalidKey is returned for keys that are empty, absolute or escape the namespace.
var ErrInvalidKey = errors.New("blob: invalid key")

// Store is a flat key/value object store.
type Store interface {
	// Put writes data under key, replacing any previous value
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the value stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes key; deleting a missing key returns ErrNotFound
	Delete(ctx context.Context, key string) error
	// List returns all keys starting with prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
}

// FileKey returns the storage key of a project file.
func FileKey(projectID, filePath string) string {
	return ProjectPrefix(projectID) + "files/" + strings.TrimPrefix(filePath, "/")
}

// ProjectPrefix returns the key prefix holding everything of a project.
func ProjectPrefix(projectID string) string {
	return "projects/" + projectID + "/"
}

// DeletePrefix removes every key below prefix. Missing keys are ignored.
func DeletePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}
	var errs []error
	deleted := 0
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

func validateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." || part == "." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
