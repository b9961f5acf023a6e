package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	dirPermissions  = 0o750
	filePermissions = 0o600
)

// FSStore implements ArtifactStore on a local directory. Keys are relative
// paths under the root; Save returns the absolute path so the manifest can
// reference artifacts directly.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at the given directory.
func NewFSStore(root string) (*FSStore, error) {
	absRoot, absErr := filepath.Abs(root)
	if absErr != nil {
		return nil, fmt.Errorf("failed to resolve store root %q: %w", root, absErr)
	}

	mkdirErr := os.MkdirAll(absRoot, dirPermissions)
	if mkdirErr != nil {
		return nil, fmt.Errorf("failed to create store root %q: %w", absRoot, mkdirErr)
	}

	return &FSStore{root: absRoot}, nil
}

// Save writes the artifact under the root and returns its absolute path.
func (s *FSStore) Save(_ context.Context, key string, data []byte) (string, error) {
	path := filepath.Join(s.root, key)

	mkdirErr := os.MkdirAll(filepath.Dir(path), dirPermissions)
	if mkdirErr != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", mkdirErr)
	}

	writeErr := os.WriteFile(path, data, filePermissions)
	if writeErr != nil {
		return "", fmt.Errorf("failed to write artifact %q: %w", key, writeErr)
	}

	return path, nil
}

// Load reads an artifact previously saved under key.
func (s *FSStore) Load(_ context.Context, key string) ([]byte, error) {
	data, readErr := os.ReadFile(filepath.Join(s.root, key))
	if readErr != nil {
		return nil, fmt.Errorf("failed to read artifact %q: %w", key, readErr)
	}

	return data, nil
}

// Exists reports whether an artifact is present under key.
func (s *FSStore) Exists(_ context.Context, key string) (bool, error) {
	_, statErr := os.Stat(filepath.Join(s.root, key))
	if statErr == nil {
		return true, nil
	}

	if os.IsNotExist(statErr) {
		return false, nil
	}

	return false, fmt.Errorf("failed to check artifact %q: %w", key, statErr)
}

// Path resolves a key to its absolute location without touching the disk.
func (s *FSStore) Path(key string) string {
	return filepath.Join(s.root, key)
}
