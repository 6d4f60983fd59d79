package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// purgeEvery is how many writes pass between expired-row sweeps.
const purgeEvery = 256

// SQLite persists entries in a local database file so they survive process
// restarts within their TTL.
type SQLite struct {
	db     *sql.DB
	now    func() time.Time
	writes atomic.Int64
}

var _ Cache = (*SQLite)(nil)

// NewSQLite opens (or creates) the cache database at path.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores most DSN params; set pragmas explicitly.
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialise cache database: %w", err)
		}
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Get reads a fresh entry.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?",
		key, s.now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}
	return value, true, nil
}

// Set upserts an entry. Every purgeEvery writes, expired rows are deleted.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, now.Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}

	if s.writes.Add(1)%purgeEvery == 0 {
		if _, err := s.Purge(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Purge deletes expired rows and reports how many were removed.
func (s *SQLite) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
