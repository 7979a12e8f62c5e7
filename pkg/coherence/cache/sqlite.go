package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore persists cache entries to SQLite so a storefront client
// can come back up warm after a restart. Values round-trip through JSON,
// so readers see map[string]any / []any shapes.
type SQLiteStore struct {
	db       *sql.DB
	mu       sync.RWMutex
	fetchers *fetcherSet
	stats    *statsTracker
	closed   bool
}

// NewSQLiteStore opens (or creates) a SQLite-backed store. The path
// should be a file path (e.g., "./cache.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT NOT NULL PRIMARY KEY,
			category TEXT NOT NULL,
			value BLOB NOT NULL,
			stale INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_cache_entries_category
		ON cache_entries(category)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{
		db:       db,
		fetchers: newFetcherSet(),
		stats:    newStatsTracker(),
	}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}

	var data []byte
	var stale int
	err := s.db.QueryRowContext(ctx, `
		SELECT value, stale FROM cache_entries WHERE key = ?
	`, key.String()).Scan(&data, &stale)

	if err == sql.ErrNoRows {
		s.stats.miss(key.Category)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cache entry: %w", err)
	}
	if stale != 0 {
		s.stats.miss(key.Category)
		return nil, false, nil
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	s.stats.hit(key.Category)
	return value, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, key Key, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, category, value, stale, updated_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			stale = 0,
			updated_at = excluded.updated_at
	`, key.String(), key.Category, data, time.Now().UTC().Format(time.RFC3339Nano))

	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// Invalidate implements Store.
func (s *SQLiteStore) Invalidate(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	var err error
	if key.IsCategory() {
		_, err = s.db.ExecContext(ctx, `
			UPDATE cache_entries SET stale = 1 WHERE category = ?
		`, key.Category)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE cache_entries SET stale = 1 WHERE key = ?
		`, key.String())
	}
	if err != nil {
		return fmt.Errorf("invalidate %s: %w", key, err)
	}
	s.stats.invalidation(key.Category)
	return nil
}

// Refetch implements Store.
func (s *SQLiteStore) Refetch(ctx context.Context, key Key) (any, error) {
	fetch, ok := s.fetchers.lookup(key.Category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key.Category)
	}

	value, err := fetch(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("refetch %s: %w", key, err)
	}

	if err := s.Set(ctx, key, value); err != nil {
		return nil, err
	}
	s.stats.refetch(key.Category)
	return value, nil
}

// RegisterFetcher implements Store.
func (s *SQLiteStore) RegisterFetcher(category string, fn Fetcher) {
	s.fetchers.register(category, fn)
}

// Stats implements Store.
func (s *SQLiteStore) Stats() map[string]Statistics {
	snapshot := s.stats.snapshot()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return snapshot
	}

	rows, err := s.db.Query(`
		SELECT category, COUNT(*) FROM cache_entries GROUP BY category
	`)
	if err != nil {
		return snapshot
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			continue
		}
		st := snapshot[category]
		st.Entries = count
		snapshot[category] = st
	}
	return snapshot
}

// Close implements Store.
func (s *SQLiteStore) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
