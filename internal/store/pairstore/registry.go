// Package pairstore keeps one SQLite database per conversation pair.
//
// A Registry maps pair keys to open Stores. The database file for a pair is
// named after its key, so history stays reachable across restarts as long as
// the key derivation in package pair does not change.
package pairstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/pliu/pairchat/internal/apperr"
	"github.com/pliu/pairchat/internal/metrics"
	"github.com/pliu/pairchat/internal/pair"
)

type Registry struct {
	dir string
	now func() time.Time

	mu     sync.Mutex
	stores map[string]*entry
	closed bool
}

// entry serializes provisioning of a single key. The registry lock is never
// held while a database is being opened.
type entry struct {
	mu      sync.Mutex
	store   *Store
	removed bool
}

type Option func(*Registry)

// WithClock overrides the clock used to stamp new records.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(dir string, opts ...Option) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, apperr.Storage("create conversation store directory", errors.Wrap(err, "pairstore.NewRegistry"))
	}
	r := &Registry{
		dir:    dir,
		now:    time.Now,
		stores: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Path returns the database file backing key.
func (r *Registry) Path(key string) string {
	return filepath.Join(r.dir, key+".db")
}

// Open returns the store for key, creating its database and schema on first
// use. Concurrent callers for the same key share one *Store.
func (r *Registry) Open(ctx context.Context, key string) (*Store, error) {
	if _, _, ok := pair.Split(key); !ok {
		return nil, apperr.InvalidArg(fmt.Sprintf("invalid pair key %q", key))
	}
	for {
		e, err := r.entry(key)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		if e.removed {
			// Lost a race with Delete; look the key up again.
			e.mu.Unlock()
			continue
		}
		if e.store != nil {
			s := e.store
			e.mu.Unlock()
			return s, nil
		}
		s, err := openStore(ctx, key, r.Path(key), r.now)
		if err != nil {
			e.mu.Unlock()
			metrics.StoreErrors.WithLabelValues("open").Inc()
			return nil, apperr.Storage("open conversation store", err)
		}
		e.store = s
		e.mu.Unlock()
		metrics.OpenStores.Inc()
		slog.Debug("conversation store opened", "pair", key)
		return s, nil
	}
}

func (r *Registry) entry(key string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, apperr.Storage("open conversation store", errors.New("registry closed"))
	}
	e, ok := r.stores[key]
	if !ok {
		e = &entry{}
		r.stores[key] = e
	}
	return e, nil
}

// Exists reports whether a database file is present for key.
func (r *Registry) Exists(key string) bool {
	if _, _, ok := pair.Split(key); !ok {
		return false
	}
	_, err := os.Stat(r.Path(key))
	return err == nil
}

// Delete closes the store for key and removes its files. Deleting a pair
// that has no store is not an error.
func (r *Registry) Delete(ctx context.Context, key string) error {
	if _, _, ok := pair.Split(key); !ok {
		return apperr.InvalidArg(fmt.Sprintf("invalid pair key %q", key))
	}

	r.mu.Lock()
	e, ok := r.stores[key]
	delete(r.stores, key)
	r.mu.Unlock()

	if ok {
		e.mu.Lock()
		e.removed = true
		if e.store != nil {
			if err := e.store.db.Close(); err != nil {
				slog.Warn("closing conversation store", "pair", key, "err", err)
			}
			e.store = nil
			metrics.OpenStores.Dec()
		}
		e.mu.Unlock()
	}

	path := r.Path(key)
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return apperr.Storage("delete conversation store", errors.Wrap(err, "pairstore.Delete"))
		}
	}
	slog.Info("conversation store deleted", "pair", key)
	return nil
}

// Close closes every open store. The registry is unusable afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.closed = true
	entries := r.stores
	r.stores = make(map[string]*entry)
	r.mu.Unlock()

	var first error
	for key, e := range entries {
		e.mu.Lock()
		e.removed = true
		if e.store != nil {
			if err := e.store.db.Close(); err != nil && first == nil {
				first = errors.Wrapf(err, "pairstore.Close %s", key)
			}
			e.store = nil
			metrics.OpenStores.Dec()
		}
		e.mu.Unlock()
	}
	return first
}

func openStore(ctx context.Context, key, path string, now func() time.Time) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "pairstore.open")
	}
	// One connection per pair: writes to a conversation are applied in the
	// order they reach the store.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pairstore.open.Ping")
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pairstore.open.Schema")
	}

	s := &Store{key: key, db: db, now: now}
	var last int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(created_at), 0) FROM messages").Scan(&last); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pairstore.open.LastCreated")
	}
	if last > 0 {
		s.lastAt = time.Unix(0, last).UTC()
	}
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_filename TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	url TEXT NOT NULL DEFAULT '',
	mime_type TEXT NOT NULL,
	uploader TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sender TEXT NOT NULL,
	receiver TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL CHECK (type IN ('text', 'file')),
	upload_id INTEGER REFERENCES uploads(id),
	created_at INTEGER NOT NULL,
	CHECK ((type = 'file') = (upload_id IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_messages_created ON messages (created_at, id);

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	start_at INTEGER NOT NULL,
	end_at INTEGER,
	created_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	text TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'not-complete' CHECK (status IN ('not-complete', 'complete'))
);
`
