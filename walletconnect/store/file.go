package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// FileStore keeps the saved session as a JSON file named after the slot.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore stores the session in dir/<slot>.json, creating dir if needed.
func NewFileStore(dir, slot string) (*FileStore, error) {
	if slot == "" {
		slot = DefaultSlot
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{path: filepath.Join(dir, slot+".json")}, nil
}

// Path returns the file backing the store.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(ctx context.Context) (*wcproto.SavedSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var session wcproto.SavedSession
	found, err := readJSON(f.path, &session)
	if err != nil {
		return nil, fmt.Errorf("read saved session: %w", err)
	}
	if !found {
		return nil, wcproto.ErrNoSavedSession
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	return &session, nil
}

func (f *FileStore) Save(ctx context.Context, session *wcproto.SavedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	// the file holds the session key
	return writeJSON(f.path, session, 0o600)
}

func (f *FileStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove saved session: %w", err)
	}
	return nil
}

// readJSON reads path into out. found is false when the file does not exist.
func readJSON(path string, out any) (found bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

// writeJSON writes JSON via a temp file then rename.
func writeJSON(path string, v any, mode os.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, mode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
