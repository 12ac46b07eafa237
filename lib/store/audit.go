// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// SaveFeedback appends a feedback record.
func (s *Store) SaveFeedback(ctx context.Context, feedback observe.Feedback) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save feedback: %w", err)
	}
	defer s.pool.Put(conn)

	createdAt := feedback.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO feedback(target_id, target_type, outcome, context, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				feedback.TargetID,
				feedback.TargetType,
				feedback.Outcome,
				feedback.Context,
				createdAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: save feedback for %q: %w", feedback.TargetID, err)
	}
	return nil
}

// ListFeedback returns feedback newest first, bounded by limit
// (default 50). A non-empty targetID filters by id prefix so feedback
// recorded against a full snapshot id is found via its short form.
func (s *Store) ListFeedback(ctx context.Context, targetID string, limit int) ([]observe.Feedback, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list feedback: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 50
	}

	sql := "SELECT target_id, target_type, outcome, context, created_at FROM feedback"
	var args []any
	if targetID != "" {
		sql += " WHERE target_id LIKE ?"
		args = append(args, targetID+"%")
	}
	sql += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var records []observe.Feedback
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			records = append(records, observe.Feedback{
				TargetID:   stmt.ColumnText(0),
				TargetType: stmt.ColumnText(1),
				Outcome:    stmt.ColumnText(2),
				Context:    stmt.ColumnText(3),
				CreatedAt:  timeFromNanos(stmt.ColumnInt64(4)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list feedback: %w", err)
	}
	return records, nil
}

// AppendAudit records one external tool invocation.
func (s *Store) AppendAudit(ctx context.Context, entry observe.AuditEntry) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	defer s.pool.Put(conn)

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.clock.Now()
	}
	parameters := entry.Parameters
	if parameters == "" {
		parameters = "{}"
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO audit_log(tool_name, parameters, result_summary, created_at)
		 VALUES (?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{entry.ToolName, parameters, entry.ResultSummary, createdAt.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("store: append audit for %q: %w", entry.ToolName, err)
	}
	return nil
}

// QueryAudit returns audit entries newest first, optionally filtered
// by tool name and a trailing window (zero window means unbounded),
// bounded by limit (default 50).
func (s *Store) QueryAudit(ctx context.Context, toolName string, window time.Duration, limit int) ([]observe.AuditEntry, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: query audit: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 50
	}

	sql := "SELECT tool_name, parameters, result_summary, created_at FROM audit_log WHERE 1=1"
	var args []any
	if toolName != "" {
		sql += " AND tool_name = ?"
		args = append(args, toolName)
	}
	if window > 0 {
		sql += " AND created_at >= ?"
		args = append(args, s.clock.Now().Add(-window).UnixNano())
	}
	sql += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var entries []observe.AuditEntry
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, observe.AuditEntry{
				ToolName:      stmt.ColumnText(0),
				Parameters:    stmt.ColumnText(1),
				ResultSummary: stmt.ColumnText(2),
				CreatedAt:     timeFromNanos(stmt.ColumnInt64(3)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: query audit: %w", err)
	}
	return entries, nil
}
