/*
Package localstore provides the client's durable key-value state.

This file defines FileStore, the default backend: a single JSON document on
disk, rewritten atomically (write-then-rename) on every mutation so a crash
mid-write can never corrupt the stored state.
*/
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"shopsync/internal/pkg/logx"
)

// FileStore persists the key-value state as one JSON file.
type FileStore struct {
	// path is the location of the state file.
	path string

	// mu protects values and the file itself.
	mu sync.Mutex

	// values is the in-memory copy of the stored document.
	values map[string]string
}

// NewFileStore opens (or creates) the state file at path and loads its
// contents. A missing file starts empty; an unreadable or malformed file is
// treated as empty with a warning rather than failing startup, since the
// stored state is a recoverable cache of server truth.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state file path must not be empty")
	}

	s := &FileStore{
		path:   path,
		values: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logx.Warn("State file unreadable. Starting with empty local state.", "path", path, "error", err.Error())
		}
		return s, nil
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		logx.Warn("State file malformed. Starting with empty local state.", "path", path)
		s.values = make(map[string]string)
	}

	return s, nil
}

// Get returns the value for key and whether the key was present.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.values[key]
	return value, ok, nil
}

// Set writes the value for key and flushes the document to disk.
func (s *FileStore) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.flushLocked()
}

// Delete removes the key and flushes the document to disk.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}

	delete(s.values, key)
	return s.flushLocked()
}

// Close flushes the document a final time.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flushLocked()
}

// flushLocked rewrites the state file atomically. Callers must hold mu.
func (s *FileStore) flushLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode local state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write local state: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace local state file: %w", err)
	}

	return nil
}

// Path returns the resolved absolute path of the state file, for logging.
func (s *FileStore) Path() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return s.path
	}
	return abs
}
