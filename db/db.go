// Package db provides the SQLite-backed rate-limit store, for deployments
// where several gate processes share one lockout state.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"jackpotgate/models"

	_ "github.com/mattn/go-sqlite3"
)

// Open opens (creating if needed) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		// immediate transactions take the write lock up front, so two
		// processes never both read an entry and then race to upgrade.
		dsn = "file:" + filepath.ToSlash(path) + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	createTables := `
	CREATE TABLE IF NOT EXISTS rate_limits (
		key TEXT PRIMARY KEY,
		attempts INTEGER NOT NULL,
		window_end REAL NOT NULL,
		reset_time REAL
	);
	`
	if _, err := db.Exec(createTables); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return db, nil
}

// RateLimitStore implements ratelimit.Store on the rate_limits table.
type RateLimitStore struct {
	db *sql.DB
}

func NewRateLimitStore(db *sql.DB) *RateLimitStore {
	return &RateLimitStore{db: db}
}

func (s *RateLimitStore) Get(ctx context.Context, key string) (models.RateLimitEntry, bool, error) {
	var e models.RateLimitEntry
	var reset sql.NullFloat64
	err := s.db.QueryRowContext(ctx, "SELECT attempts, window_end, reset_time FROM rate_limits WHERE key = ?", key).
		Scan(&e.Attempts, &e.WindowEnd, &reset)
	if err == sql.ErrNoRows {
		return models.RateLimitEntry{}, false, nil
	}
	if err != nil {
		return models.RateLimitEntry{}, false, err
	}
	if reset.Valid {
		e.ResetTime = &reset.Float64
	}
	return e, true, nil
}

func (s *RateLimitStore) All(ctx context.Context) (map[string]models.RateLimitEntry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, attempts, window_end, reset_time FROM rate_limits")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]models.RateLimitEntry{}
	for rows.Next() {
		var key string
		var e models.RateLimitEntry
		var reset sql.NullFloat64
		if err := rows.Scan(&key, &e.Attempts, &e.WindowEnd, &reset); err != nil {
			return nil, err
		}
		if reset.Valid {
			v := reset.Float64
			e.ResetTime = &v
		}
		out[key] = e
	}
	return out, rows.Err()
}

func (s *RateLimitStore) Update(ctx context.Context, keys []string, fn func(map[string]models.RateLimitEntry)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	entries := make(map[string]models.RateLimitEntry, len(keys))
	for _, key := range keys {
		var e models.RateLimitEntry
		var reset sql.NullFloat64
		err := tx.QueryRowContext(ctx, "SELECT attempts, window_end, reset_time FROM rate_limits WHERE key = ?", key).
			Scan(&e.Attempts, &e.WindowEnd, &reset)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		if reset.Valid {
			v := reset.Float64
			e.ResetTime = &v
		}
		entries[key] = e
	}

	fn(entries)

	for _, key := range keys {
		e, ok := entries[key]
		if !ok {
			if _, err := tx.ExecContext(ctx, "DELETE FROM rate_limits WHERE key = ?", key); err != nil {
				return err
			}
			continue
		}
		var reset sql.NullFloat64
		if e.ResetTime != nil {
			reset = sql.NullFloat64{Float64: *e.ResetTime, Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rate_limits (key, attempts, window_end, reset_time) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET attempts = excluded.attempts, window_end = excluded.window_end, reset_time = excluded.reset_time`,
			key, e.Attempts, e.WindowEnd, reset)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *RateLimitStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM rate_limits")
	return err
}
