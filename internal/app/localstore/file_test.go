package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok, _ := s.Get(context.Background(), KeySessionToken); ok {
		t.Fatalf("fresh store must be empty")
	}

	if err := s.Set(context.Background(), KeySessionToken, "sess_abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	value, ok, err := s.Get(context.Background(), KeySessionToken)
	if err != nil || !ok || value != "sess_abc" {
		t.Fatalf("unexpected read: %q %v %v", value, ok, err)
	}

	// A second store on the same path sees the flushed state.
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	value, ok, _ = s2.Get(context.Background(), KeySessionToken)
	if !ok || value != "sess_abc" {
		t.Fatalf("persisted value not reloaded: %q %v", value, ok)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Set(context.Background(), KeyUserID, "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete(context.Background(), KeyUserID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := s.Get(context.Background(), KeyUserID); ok {
		t.Fatalf("deleted key still present")
	}

	// Deleting an absent key is not an error.
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFileStoreMalformedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{corrupt"), 0o600); err != nil {
		t.Fatalf("failed to seed file: %v", err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("malformed file must not fail startup: %v", err)
	}
	if _, ok, _ := s.Get(context.Background(), KeySessionToken); ok {
		t.Fatalf("malformed file must start empty")
	}

	// The store remains usable and repairs the file on the next write.
	if err := s.Set(context.Background(), KeySessionToken, "sess_new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value, ok, _ := s2.Get(context.Background(), KeySessionToken); !ok || value != "sess_new" {
		t.Fatalf("repaired state not reloaded: %q %v", value, ok)
	}
}

func TestFileStoreRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Fatalf("empty path must be rejected")
	}
}
