package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// PebbleStore keeps the saved session under one key of a pebble database.
// Several stores may share a database by using different slots.
type PebbleStore struct {
	db   *pebble.DB
	key  []byte
	owns bool
}

// NewPebbleStore uses an already open database. Close does not close db.
func NewPebbleStore(db *pebble.DB, slot string) *PebbleStore {
	if slot == "" {
		slot = DefaultSlot
	}
	return &PebbleStore{db: db, key: []byte(slot)}
}

// OpenPebbleStore opens (or creates) a database in dir owned by the store.
func OpenPebbleStore(dir, slot string, opts *pebble.Options) (*PebbleStore, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	if opts.Logger == nil {
		opts.Logger = pebbleLogger{}
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	s := NewPebbleStore(db, slot)
	s.owns = true
	return s, nil
}

func (p *PebbleStore) Load(ctx context.Context) (*wcproto.SavedSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := p.db.Get(p.key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, wcproto.ErrNoSavedSession
	}
	if err != nil {
		return nil, fmt.Errorf("read saved session: %w", err)
	}
	defer closer.Close()

	var session wcproto.SavedSession
	if err := json.Unmarshal(value, &session); err != nil {
		return nil, fmt.Errorf("decode saved session: %w", err)
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	return &session, nil
}

func (p *PebbleStore) Save(ctx context.Context, session *wcproto.SavedSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := session.Validate(); err != nil {
		return err
	}
	value, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if err := p.db.Set(p.key, value, pebble.Sync); err != nil {
		return fmt.Errorf("write saved session: %w", err)
	}
	return nil
}

func (p *PebbleStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.db.Delete(p.key, pebble.Sync); err != nil {
		return fmt.Errorf("delete saved session: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (p *PebbleStore) Close() error {
	if !p.owns {
		return nil
	}
	return p.db.Close()
}

// pebbleLogger routes pebble's internal logging through zerolog.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[Store] pebble: "+format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[Store] pebble: "+format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[Store] pebble: "+format, args...)
}
