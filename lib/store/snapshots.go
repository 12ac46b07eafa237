// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// SaveSnapshot persists a health snapshot. Snapshots are insert-only;
// re-using an existing id is an error.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot observe.HealthSnapshot) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	defer s.pool.Put(conn)

	var metricsJSON any
	if snapshot.Metrics != nil {
		data, err := json.Marshal(snapshot.Metrics)
		if err != nil {
			return fmt.Errorf("store: marshal snapshot metrics: %w", err)
		}
		metricsJSON = string(data)
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO snapshots(snapshot_id, service_name, snapshot_at, metrics, error_count, log_rate)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				snapshot.SnapshotID,
				snapshot.ServiceName,
				snapshot.SnapshotAt.UnixNano(),
				metricsJSON,
				snapshot.ErrorCount,
				snapshot.LogRate,
			},
		})
	if err != nil {
		return fmt.Errorf("store: save snapshot %s: %w", snapshot.SnapshotID, err)
	}
	return nil
}

// GetSnapshot fetches a snapshot by id or id prefix. When several
// snapshots share the prefix, the most recent one wins. Returns nil
// when nothing matches.
func (s *Store) GetSnapshot(ctx context.Context, idPrefix string) (*observe.HealthSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot: %w", err)
	}
	defer s.pool.Put(conn)

	var snapshot *observe.HealthSnapshot
	err = sqlitex.Execute(conn,
		`SELECT snapshot_id, service_name, snapshot_at, metrics, error_count, log_rate
		 FROM snapshots WHERE snapshot_id LIKE ?
		 ORDER BY snapshot_at DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			Args: []any{idPrefix + "%"},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanSnapshot(stmt)
				if err != nil {
					return err
				}
				snapshot = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get snapshot %q: %w", idPrefix, err)
	}
	return snapshot, nil
}

// ListSnapshots returns snapshots newest first, optionally filtered
// by service, bounded by limit (default 20).
func (s *Store) ListSnapshots(ctx context.Context, serviceName string, limit int) ([]observe.HealthSnapshot, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 20
	}

	sql := `SELECT snapshot_id, service_name, snapshot_at, metrics, error_count, log_rate
	        FROM snapshots`
	var args []any
	if serviceName != "" {
		sql += " WHERE service_name = ?"
		args = append(args, serviceName)
	}
	sql += " ORDER BY snapshot_at DESC LIMIT ?"
	args = append(args, limit)

	var snapshots []observe.HealthSnapshot
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			snapshot, err := scanSnapshot(stmt)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, snapshot)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list snapshots: %w", err)
	}
	return snapshots, nil
}

func scanSnapshot(stmt *sqlite.Stmt) (observe.HealthSnapshot, error) {
	snapshot := observe.HealthSnapshot{
		SnapshotID:  stmt.ColumnText(0),
		ServiceName: stmt.ColumnText(1),
		SnapshotAt:  timeFromNanos(stmt.ColumnInt64(2)),
		ErrorCount:  stmt.ColumnInt(4),
		LogRate:     stmt.ColumnFloat(5),
	}
	if !stmt.ColumnIsNull(3) {
		var metrics observe.ProcessMetrics
		if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &metrics); err != nil {
			return snapshot, fmt.Errorf("unmarshal snapshot metrics: %w", err)
		}
		snapshot.Metrics = &metrics
	}
	return snapshot, nil
}
