// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is the system of record for the observation
// pipeline. One SQLite file holds registered services, parsed log
// entries (with a full-text index over messages), health snapshots,
// rolling metric baselines, detected anomalies, and the feedback and
// audit trails written around them.
//
// Every mutating operation commits its own transaction; batch inserts
// use a single IMMEDIATE transaction so readers never observe a
// partially-written batch. Referential integrity is enforced by the
// database: rows referencing a service are deleted with it.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/sqlitepool"
)

// Store manages SQLite persistence for vigil. Open it once per
// process; it is safe for concurrent use through its connection pool.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file. The parent directory is
	// created if absent.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock provides the current time for record timestamps and
	// window cutoffs. Required.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// Open creates the database file if needed, ensures the schema
// exists, and applies any pending migrations. A missing migration
// step between the recorded and target versions is a fatal
// configuration error.
func Open(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("store: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: Logger is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("store: creating database directory: %w", err)
		}
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	s := &Store{pool: pool, clock: cfg.Clock, logger: cfg.Logger}

	if err := s.ensureSchema(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool. Any store operation
// after Close is a programming error and fails.
func (s *Store) Close() error {
	return s.pool.Close()
}

// GetMeta returns the value for a metadata key, or "" when unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("store: get meta: %w", err)
	}
	defer s.pool.Put(conn)
	return getMeta(conn, key)
}

// SetMeta writes a metadata key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: set meta: %w", err)
	}
	defer s.pool.Put(conn)
	return setMeta(conn, key, value)
}

func getMeta(conn *sqlite.Conn, key string) (string, error) {
	var value string
	err := sqlitex.Execute(conn,
		"SELECT value FROM vigil_meta WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("store: reading meta %q: %w", key, err)
	}
	return value, nil
}

func setMeta(conn *sqlite.Conn, key, value string) error {
	err := sqlitex.Execute(conn,
		"INSERT OR REPLACE INTO vigil_meta(key, value) VALUES (?, ?)",
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("store: writing meta %q: %w", key, err)
	}
	return nil
}
