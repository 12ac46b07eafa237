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

// UpsertBaseline inserts or replaces the baseline for the
// (service, metric) pair. The unique index guarantees one row per
// pair.
func (s *Store) UpsertBaseline(ctx context.Context, baseline observe.MetricBaseline) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: upsert baseline: %w", err)
	}
	defer s.pool.Put(conn)

	updatedAt := baseline.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.clock.Now()
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO metric_baselines(service_name, metric, mean, stddev, sample_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(service_name, metric)
		 DO UPDATE SET mean=excluded.mean, stddev=excluded.stddev,
		               sample_count=excluded.sample_count, updated_at=excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				baseline.ServiceName,
				baseline.Metric,
				baseline.Mean,
				baseline.Stddev,
				baseline.SampleCount,
				updatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: upsert baseline %s/%s: %w", baseline.ServiceName, baseline.Metric, err)
	}
	return nil
}

// GetBaseline returns the baseline for a (service, metric) pair, or
// nil when no samples have been recorded.
func (s *Store) GetBaseline(ctx context.Context, serviceName, metric string) (*observe.MetricBaseline, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get baseline: %w", err)
	}
	defer s.pool.Put(conn)

	var baseline *observe.MetricBaseline
	err = sqlitex.Execute(conn,
		`SELECT service_name, metric, mean, stddev, sample_count, updated_at
		 FROM metric_baselines WHERE service_name = ? AND metric = ?`,
		&sqlitex.ExecOptions{
			Args: []any{serviceName, metric},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanBaseline(stmt)
				baseline = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get baseline %s/%s: %w", serviceName, metric, err)
	}
	return baseline, nil
}

// ListBaselines returns all baselines for a service ordered by metric
// name.
func (s *Store) ListBaselines(ctx context.Context, serviceName string) ([]observe.MetricBaseline, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list baselines: %w", err)
	}
	defer s.pool.Put(conn)

	var baselines []observe.MetricBaseline
	err = sqlitex.Execute(conn,
		`SELECT service_name, metric, mean, stddev, sample_count, updated_at
		 FROM metric_baselines WHERE service_name = ? ORDER BY metric`,
		&sqlitex.ExecOptions{
			Args: []any{serviceName},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				baselines = append(baselines, scanBaseline(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list baselines for %q: %w", serviceName, err)
	}
	return baselines, nil
}

func scanBaseline(stmt *sqlite.Stmt) observe.MetricBaseline {
	return observe.MetricBaseline{
		ServiceName: stmt.ColumnText(0),
		Metric:      stmt.ColumnText(1),
		Mean:        stmt.ColumnFloat(2),
		Stddev:      stmt.ColumnFloat(3),
		SampleCount: stmt.ColumnInt(4),
		UpdatedAt:   timeFromNanos(stmt.ColumnInt64(5)),
	}
}

// SaveAnomaly appends a detected anomaly. Anomalies are never
// mutated.
func (s *Store) SaveAnomaly(ctx context.Context, anomaly observe.Anomaly) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: save anomaly: %w", err)
	}
	defer s.pool.Put(conn)

	detectedAt := anomaly.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = s.clock.Now()
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO anomalies(service_name, metric, current_value, baseline_mean,
		                       baseline_stddev, deviation, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				anomaly.ServiceName,
				anomaly.Metric,
				anomaly.CurrentValue,
				anomaly.BaselineMean,
				anomaly.BaselineStddev,
				anomaly.Deviation,
				detectedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: save anomaly %s/%s: %w", anomaly.ServiceName, anomaly.Metric, err)
	}
	return nil
}

// RecentAnomalies returns anomalies detected within the trailing
// window, newest first, optionally filtered by service, bounded by
// limit (default 50).
func (s *Store) RecentAnomalies(ctx context.Context, serviceName string, window time.Duration, limit int) ([]observe.Anomaly, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: recent anomalies: %w", err)
	}
	defer s.pool.Put(conn)

	if limit <= 0 {
		limit = 50
	}
	cutoff := s.clock.Now().Add(-window)

	sql := `SELECT service_name, metric, current_value, baseline_mean,
	               baseline_stddev, deviation, detected_at
	        FROM anomalies WHERE detected_at >= ?`
	args := []any{cutoff.UnixNano()}

	if serviceName != "" {
		sql += " AND service_name = ?"
		args = append(args, serviceName)
	}
	sql += " ORDER BY detected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var anomalies []observe.Anomaly
	err = sqlitex.Execute(conn, sql, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			anomalies = append(anomalies, observe.Anomaly{
				ServiceName:    stmt.ColumnText(0),
				Metric:         stmt.ColumnText(1),
				CurrentValue:   stmt.ColumnFloat(2),
				BaselineMean:   stmt.ColumnFloat(3),
				BaselineStddev: stmt.ColumnFloat(4),
				Deviation:      stmt.ColumnFloat(5),
				DetectedAt:     timeFromNanos(stmt.ColumnInt64(6)),
			})
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: recent anomalies: %w", err)
	}
	return anomalies, nil
}
