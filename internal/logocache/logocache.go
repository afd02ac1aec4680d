// Package logocache persists logo reachability probe results in sqlite so repeated
// runs don't re-probe the same images.
package logocache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS logo_probe (
	url        TEXT PRIMARY KEY,
	ok         INTEGER NOT NULL,
	checked_at INTEGER NOT NULL
)`

// Store is a sqlite-backed probe cache. Safe for concurrent use.
type Store struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (creating if needed) the cache at path. Entries older than ttl are treated as absent.
func Open(path string, ttl time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("logo cache: open: %w", err)
	}
	// sqlite allows a single writer.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("logo cache: schema: %w", err)
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Get returns the cached result for url. fresh is false when absent or older than the ttl.
func (s *Store) Get(ctx context.Context, url string) (ok, fresh bool, err error) {
	var okInt int
	var at int64
	err = s.db.QueryRowContext(ctx, `SELECT ok, checked_at FROM logo_probe WHERE url = ?`, url).Scan(&okInt, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("logo cache: get: %w", err)
	}
	if s.ttl > 0 && s.now().Sub(time.Unix(at, 0)) > s.ttl {
		return false, false, nil
	}
	return okInt == 1, true, nil
}

// Put records a probe result for url at the current time.
func (s *Store) Put(ctx context.Context, url string, ok bool) error {
	v := 0
	if ok {
		v = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO logo_probe (url, ok, checked_at) VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET ok = excluded.ok, checked_at = excluded.checked_at`,
		url, v, s.now().Unix())
	if err != nil {
		return fmt.Errorf("logo cache: put: %w", err)
	}
	return nil
}

// Prune deletes entries older than the ttl and returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM logo_probe WHERE checked_at < ?`, s.now().Add(-s.ttl).Unix())
	if err != nil {
		return 0, fmt.Errorf("logo cache: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }
