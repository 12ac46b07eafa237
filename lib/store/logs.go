// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// InsertLogEntries inserts a batch of log entries in a single
// IMMEDIATE transaction and returns the count inserted. An empty
// batch is a no-op that opens no transaction. Entries without an
// IngestedAt are stamped with the current time.
func (s *Store) InsertLogEntries(ctx context.Context, entries []observe.LogEntry) (count int, err error) {
	if len(entries) == 0 {
		return 0, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: insert log entries: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	now := s.clock.Now()
	for i := range entries {
		ingestedAt := entries[i].IngestedAt
		if ingestedAt.IsZero() {
			ingestedAt = now
		}
		err = sqlitex.Execute(conn,
			`INSERT INTO log_entries(service_name, timestamp, level, message, source_file, raw_line, ingested_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{
					entries[i].ServiceName,
					nanosOrNil(entries[i].Timestamp),
					string(entries[i].Level),
					entries[i].Message,
					entries[i].SourceFile,
					entries[i].RawLine,
					ingestedAt.UnixNano(),
				},
			})
		if err != nil {
			return 0, fmt.Errorf("store: insert log entry: %w", err)
		}
	}
	return len(entries), nil
}

// SearchLogs runs a full-text query over log messages. The query uses
// FTS5 syntax, so phrases, AND/OR/NOT, and prefix terms all work.
// Results are newest-ingested-first, bounded by limit (default 50).
func (s *Store) SearchLogs(ctx context.Context, query, serviceName string, level observe.LogLevel, limit int) ([]observe.LogEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: search logs: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 50
	}

	sql := `SELECT le.service_name, le.timestamp, le.level, le.message,
	               le.source_file, le.raw_line, le.ingested_at
	        FROM log_fts
	        JOIN log_entries le ON le.id = log_fts.rowid
	        WHERE log_fts MATCH ?`
	args := []any{query}

	if serviceName != "" {
		sql += " AND le.service_name = ?"
		args = append(args, serviceName)
	}
	if level != "" {
		sql += " AND le.level = ?"
		args = append(args, string(level))
	}
	sql += " ORDER BY le.ingested_at DESC, le.id DESC LIMIT ?"
	args = append(args, limit)

	entries, err := scanLogEntries(conn, sql, args)
	if err != nil {
		return nil, fmt.Errorf("store: search logs %q: %w", query, err)
	}
	return entries, nil
}

// RecentErrors returns error and critical entries ingested within the
// trailing window, newest first, optionally filtered by service.
func (s *Store) RecentErrors(ctx context.Context, serviceName string, window time.Duration, limit int) ([]observe.LogEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: recent errors: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 50
	}
	cutoff := s.clock.Now().Add(-window)

	sql := `SELECT service_name, timestamp, level, message, source_file, raw_line, ingested_at
	        FROM log_entries
	        WHERE level IN ('critical', 'error') AND ingested_at >= ?`
	args := []any{cutoff.UnixNano()}

	if serviceName != "" {
		sql += " AND service_name = ?"
		args = append(args, serviceName)
	}
	sql += " ORDER BY ingested_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	entries, err := scanLogEntries(conn, sql, args)
	if err != nil {
		return nil, fmt.Errorf("store: recent errors: %w", err)
	}
	return entries, nil
}

// CountErrorsSince counts error and critical entries for a service
// ingested at or after the given instant.
func (s *Store) CountErrorsSince(ctx context.Context, serviceName string, since time.Time) (int, error) {
	return s.countLogs(ctx, serviceName, since, true)
}

// CountLogsSince counts all entries for a service ingested at or
// after the given instant. Used for log-rate computation.
func (s *Store) CountLogsSince(ctx context.Context, serviceName string, since time.Time) (int, error) {
	return s.countLogs(ctx, serviceName, since, false)
}

func (s *Store) countLogs(ctx context.Context, serviceName string, since time.Time, errorsOnly bool) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: count logs: %w", err)
	}
	defer s.pool.Put(conn)

	sql := "SELECT COUNT(*) FROM log_entries WHERE service_name = ? AND ingested_at >= ?"
	if errorsOnly {
		sql = strings.Replace(sql, "WHERE", "WHERE level IN ('critical', 'error') AND", 1)
	}

	var count int
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: []any{serviceName, since.UnixNano()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("store: count logs for %q: %w", serviceName, err)
	}
	return count, nil
}

func scanLogEntries(conn *sqlite.Conn, sql string, args []any) ([]observe.LogEntry, error) {
	var entries []observe.LogEntry
	err := sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry := observe.LogEntry{
				ServiceName: stmt.ColumnText(0),
				Level:       observe.LogLevel(stmt.ColumnText(2)),
				Message:     stmt.ColumnText(3),
				SourceFile:  stmt.ColumnText(4),
				RawLine:     stmt.ColumnText(5),
				IngestedAt:  timeFromNanos(stmt.ColumnInt64(6)),
			}
			if !stmt.ColumnIsNull(1) {
				entry.Timestamp = timeFromNanos(stmt.ColumnInt64(1))
			}
			entries = append(entries, entry)
			return nil
		},
	})
	return entries, err
}
