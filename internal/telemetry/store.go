package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// DefaultPath is ~/.searchidx/telemetry.db.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".searchidx", "telemetry.db")
	}
	return filepath.Join(home, ".searchidx", "telemetry.db")
}

// SQLiteStore persists run events across processes.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// InitSchema creates the telemetry tables if they don't exist.
func InitSchema(db *sql.DB) error {
	// modernc.org/sqlite ignores most DSN params; set pragmas explicitly.
	stmts := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		`CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			query       TEXT NOT NULL DEFAULT '',
			started_at  INTEGER NOT NULL,
			duration_ns INTEGER NOT NULL,
			urls        INTEGER NOT NULL,
			succeeded   INTEGER NOT NULL,
			failed      INTEGER NOT NULL,
			chunks      INTEGER NOT NULL,
			cache_hits  INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)",
		`CREATE TABLE IF NOT EXISTS run_failures (
			run_id TEXT NOT NULL,
			url    TEXT NOT NULL,
			host   TEXT NOT NULL,
			stage  TEXT NOT NULL,
			code   TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_run_failures_run ON run_failures(run_id)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("create telemetry schema: %w", err)
		}
	}
	return nil
}

// Record stores ev and its failures in one transaction.
func (s *SQLiteStore) Record(ctx context.Context, ev RunEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(run_id, query, started_at, duration_ns, urls, succeeded, failed, chunks, cache_hits)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.RunID, ev.Query, ev.Timestamp.UnixNano(), int64(ev.Duration),
		ev.URLs, ev.Succeeded, ev.Failed, ev.Chunks, ev.CacheHits); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_failures WHERE run_id = ?", ev.RunID); err != nil {
		return fmt.Errorf("clear run failures: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO run_failures (run_id, url, host, stage, code) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()
	for _, f := range ev.Failures {
		if _, err := stmt.ExecContext(ctx, ev.RunID, f.URL, f.Host, f.Stage, f.Code); err != nil {
			return fmt.Errorf("insert run failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Summary aggregates runs started at or after since, listing the newest
// recent runs.
func (s *SQLiteStore) Summary(ctx context.Context, since time.Time, recent int) (Summary, error) {
	sum := newSummary()
	from := since.UnixNano()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, query, started_at, duration_ns, urls, succeeded, failed, chunks, cache_hits
		FROM runs WHERE started_at >= ? ORDER BY started_at DESC`, from)
	if err != nil {
		return Summary{}, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev RunEvent
		var started, dur int64
		if err := rows.Scan(&ev.RunID, &ev.Query, &started, &dur,
			&ev.URLs, &ev.Succeeded, &ev.Failed, &ev.Chunks, &ev.CacheHits); err != nil {
			return Summary{}, fmt.Errorf("scan run: %w", err)
		}
		ev.Timestamp = time.Unix(0, started)
		ev.Duration = time.Duration(dur)
		sum.add(ev)
		if len(sum.Recent) < recent {
			sum.Recent = append(sum.Recent, ev)
		}
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate runs: %w", err)
	}

	if err := s.failureCounts(ctx, from, &sum); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (s *SQLiteStore) failureCounts(ctx context.Context, from int64, sum *Summary) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.host, f.stage, f.code, COUNT(*)
		FROM run_failures f JOIN runs r ON r.run_id = f.run_id
		WHERE r.started_at >= ?
		GROUP BY f.host, f.stage, f.code`, from)
	if err != nil {
		return fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	hosts := map[string]int64{}
	for rows.Next() {
		var host, stage, code string
		var n int64
		if err := rows.Scan(&host, &stage, &code, &n); err != nil {
			return fmt.Errorf("scan failure: %w", err)
		}
		hosts[host] += n
		sum.FailedStages[stage] += n
		sum.ErrorCodes[code] += n
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate failures: %w", err)
	}

	list := make([]HostCount, 0, len(hosts))
	for h, n := range hosts {
		list = append(list, HostCount{Host: h, Failures: n})
	}
	sum.FailingHosts = sortHosts(list, topHosts)
	return nil
}

// Prune deletes runs started before cutoff. Returns the number removed.
func (s *SQLiteStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM run_failures WHERE run_id IN
			(SELECT run_id FROM runs WHERE started_at < ?)`, cutoff.UnixNano()); err != nil {
		return 0, fmt.Errorf("prune failures: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
