// Package store provides SessionStore backends for saved sessions: in memory,
// a JSON file, and a pebble key-value database. Each store holds one slot.
package store

import (
	"context"
	"sync"

	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// DefaultSlot is the key a saved session is stored under.
const DefaultSlot = "walletconnect.session"

var (
	_ walletconnect.SessionStore = (*MemoryStore)(nil)
	_ walletconnect.SessionStore = (*FileStore)(nil)
	_ walletconnect.SessionStore = (*PebbleStore)(nil)
)

// MemoryStore keeps the saved session in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	session *wcproto.SavedSession
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(ctx context.Context) (*wcproto.SavedSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, wcproto.ErrNoSavedSession
	}
	return m.session.Clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, session *wcproto.SavedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.session = session.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()
	return nil
}
