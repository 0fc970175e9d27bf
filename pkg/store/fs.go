// Package store persists workflow graphs and session documents on the local
// filesystem. Graph documents are replaced atomically; session documents are
// written once and never overwritten.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound is returned when no document exists for an id.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when appending a session that was already stored.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned internally when a graph changed between load and commit.
	ErrConflict = errors.New("store: concurrent update conflict")
)

// checkID rejects ids that would escape the store directory.
func checkID(kind, id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("store: invalid %s id %q", kind, id)
	}
	return nil
}

// writeTemp writes data next to path and returns the temp file name.
func writeTemp(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tempPath, nil
}

// writeAtomic replaces path with data.
func writeAtomic(path string, data []byte) error {
	tempPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// writeOnce creates path with data, failing with ErrAlreadyExists if it is
// already present. The hard link makes creation atomic.
func writeOnce(path string, data []byte) error {
	tempPath, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tempPath)

	if err := os.Link(tempPath, path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrAlreadyExists, filepath.Base(path))
		}
		return fmt.Errorf("failed to link %s: %w", filepath.Base(path), err)
	}
	return nil
}
