package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteConfig holds SQLite backend configuration.
type SQLiteConfig struct {
	Path string // database file; parent directories are created
	Area string // storage area sharing the file with other areas
}

// SQLite is the durable backend. Several areas may share one database
// file; each backend instance owns its own connection pool.
type SQLite struct {
	db     *sql.DB
	area   string
	hooks  storeHooks
	closed atomic.Bool
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	query   func(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *SQLite) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *SQLite) queryHook(ctx context.Context, db queryer, query string, args ...any) (*sql.Rows, error) {
	if s.hooks.query != nil {
		return s.hooks.query(ctx, db, query, args...)
	}
	return db.QueryContext(ctx, query, args...)
}

func (s *SQLite) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *SQLite) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// NewSQLite opens (or creates) the database with WAL mode and runs
// migrations.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Area == "" {
		return nil, errors.New("kv: sqlite area is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("kv: create data dir: %w", err)
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("kv: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("kv: pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db, area: cfg.Area}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv_items (
			area       TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (area, key)
		);
	`)
	return err
}

func (s *SQLite) Name() string { return KindSQLite + ":" + s.area }

func (s *SQLite) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrContextInvalidated
	}
	return ctx.Err()
}

// mapErr turns use of a closed pool into ErrContextInvalidated.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%w: %v", ErrContextInvalidated, err)
	}
	return err
}

func (s *SQLite) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	query := "SELECT key, value FROM kv_items WHERE area = ?"
	args := []any{s.area}
	if len(keys) > 0 {
		query += " AND key IN (" + placeholders(len(keys)) + ")"
		for _, k := range keys {
			args = append(args, k)
		}
	}

	rows, err := s.queryHook(ctx, s.db, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]json.RawMessage, len(keys))
	for rows.Next() {
		var (
			k string
			v []byte
		)
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *SQLite) Set(ctx context.Context, items map[string]json.RawMessage) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	for k, v := range items {
		if _, err := s.execHook(ctx, tx,
			`INSERT INTO kv_items (area, key, value, updated_at)
			 VALUES (?, ?, ?, datetime('now'))
			 ON CONFLICT(area, key) DO UPDATE
			 SET value = excluded.value, updated_at = excluded.updated_at`,
			s.area, k, []byte(v),
		); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(s.commitHook(tx))
}

func (s *SQLite) Remove(ctx context.Context, keys ...string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	args := []any{s.area}
	for _, k := range keys {
		args = append(args, k)
	}
	_, err := s.execHook(ctx, s.db,
		"DELETE FROM kv_items WHERE area = ? AND key IN ("+placeholders(len(keys))+")",
		args...,
	)
	return mapErr(err)
}

func (s *SQLite) BytesInUse(ctx context.Context, keys ...string) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	query := "SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(value)), 0) FROM kv_items WHERE area = ?"
	args := []any{s.area}
	if len(keys) > 0 {
		query += " AND key IN (" + placeholders(len(keys)) + ")"
		for _, k := range keys {
			args = append(args, k)
		}
	}
	var total int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, mapErr(err)
	}
	return total, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
