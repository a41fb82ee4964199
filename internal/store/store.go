package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	-- unit_cache is the durable tier of the unit result cache; times are unix milliseconds
	CREATE TABLE IF NOT EXISTS unit_cache (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expiry INTEGER NOT NULL,
		last_access INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS refinement_runs (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		language TEXT NOT NULL,
		declared_type TEXT NOT NULL,
		mode TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS refinement_passes (
		run_id TEXT NOT NULL,
		pass_number INTEGER NOT NULL,
		text TEXT NOT NULL,
		overall_score REAL,
		scores TEXT,
		change_ratio REAL,
		issues INTEGER,
		duration_ms INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (run_id, pass_number),
		FOREIGN KEY (run_id) REFERENCES refinement_runs(id)
	);

	CREATE TABLE IF NOT EXISTS refinement_outcomes (
		run_id TEXT PRIMARY KEY,
		final_text TEXT NOT NULL,
		passes_run INTEGER NOT NULL,
		converged BOOLEAN NOT NULL,
		reason TEXT NOT NULL,
		degraded BOOLEAN DEFAULT FALSE,
		final_score REAL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (run_id) REFERENCES refinement_runs(id)
	);

	-- batch_checkpoints tracks progress of CSV refinement jobs for resume support
	CREATE TABLE IF NOT EXISTS batch_checkpoints (
		id TEXT PRIMARY KEY,
		input_file TEXT NOT NULL,
		output_file TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT DEFAULT 'running',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS batch_checkpoint_cells (
		checkpoint_id TEXT NOT NULL,
		row_idx INTEGER NOT NULL,
		col_idx INTEGER NOT NULL,
		refined_text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (checkpoint_id, row_idx, col_idx),
		FOREIGN KEY (checkpoint_id) REFERENCES batch_checkpoints(id)
	);

	CREATE TABLE IF NOT EXISTS guidelines (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		locator TEXT,
		language TEXT,
		topics TEXT,
		text TEXT NOT NULL,
		weight REAL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_unit_cache_expiry ON unit_cache(expiry);
	CREATE INDEX IF NOT EXISTS idx_passes_run ON refinement_passes(run_id);
	CREATE INDEX IF NOT EXISTS idx_checkpoint_cells ON batch_checkpoint_cells(checkpoint_id);
	CREATE INDEX IF NOT EXISTS idx_guidelines_language ON guidelines(language);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get implements the durable cache tier. It refreshes last_access on hits.
func (s *Store) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	var value []byte
	var expiry int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expiry FROM unit_cache WHERE key = ?`, key).Scan(&value, &expiry)
	if err == sql.ErrNoRows {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE unit_cache SET last_access = ? WHERE key = ?`, time.Now().UnixMilli(), key)
	return value, time.UnixMilli(expiry), true, err
}

func (s *Store) Put(ctx context.Context, key string, value []byte, expiry time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO unit_cache (key, value, expiry, last_access) VALUES (?, ?, ?, ?)`,
		key, value, expiry.UnixMilli(), time.Now().UnixMilli())
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM unit_cache WHERE key = ?`, key)
	return err
}

// CacheEntry is a row of the unit_cache table without its value.
type CacheEntry struct {
	Key        string
	Size       int
	Expiry     time.Time
	LastAccess time.Time
}

// CacheStats summarises the durable cache tier.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	ExpiredEntries int
	TotalBytes     int64
}

// ListCache returns all cache entries ordered by most recently accessed.
func (s *Store) ListCache(ctx context.Context) ([]CacheEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, length(value), expiry, last_access FROM unit_cache ORDER BY last_access DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		var e CacheEntry
		var expiry, lastAccess int64
		if err := rows.Scan(&e.Key, &e.Size, &expiry, &lastAccess); err != nil {
			return nil, err
		}
		e.Expiry, e.LastAccess = time.UnixMilli(expiry), time.UnixMilli(lastAccess)
		results = append(results, e)
	}

	return results, rows.Err()
}

// CacheStats counts entries, splitting them by expiry relative to now.
func (s *Store) CacheStats(ctx context.Context, now time.Time) (*CacheStats, error) {
	stats := &CacheStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN expiry > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN expiry <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(length(value)), 0)
		FROM unit_cache`, now.UnixMilli(), now.UnixMilli()).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.ExpiredEntries,
		&stats.TotalBytes,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DeleteCacheByPrefix removes the entries whose key starts with prefix, so
// the abbreviated keys printed by ListCache can be used.
func (s *Store) DeleteCacheByPrefix(ctx context.Context, prefix string) (int64, error) {
	if prefix == "" {
		return 0, fmt.Errorf("empty key prefix")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM unit_cache WHERE substr(key, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearCache removes all cache entries.
func (s *Store) ClearCache(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM unit_cache`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired removes entries that expired at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM unit_cache WHERE expiry <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
