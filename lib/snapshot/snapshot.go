// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapshot aggregates a service's current state — fresh log
// ingest, process metrics, error counts, log rate — into a persisted
// health snapshot, and derives comparisons between snapshots.
package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vigil-obs/vigil/lib/anomaly"
	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/ingest"
	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/store"
)

// DefaultErrorWindow is the trailing window used for the snapshot's
// error count and log rate.
const DefaultErrorWindow = 5 * time.Minute

// Capturer reads process metrics for a service. Implementations
// return (nil, nil) when the process cannot be observed; a snapshot is
// still taken without metrics.
type Capturer interface {
	Capture(ctx context.Context, service observe.ServiceInfo, interval time.Duration) (*observe.ProcessMetrics, error)
}

// Config tunes snapshot capture.
type Config struct {
	// ErrorWindow is the trailing window for error count and log
	// rate. Zero means DefaultErrorWindow.
	ErrorWindow time.Duration

	// CPUSampleInterval is how long the capturer samples CPU usage.
	CPUSampleInterval time.Duration

	// Ingest bounds the log ingest performed before each snapshot.
	Ingest ingest.Config
}

func (c Config) errorWindow() time.Duration {
	if c.ErrorWindow > 0 {
		return c.ErrorWindow
	}
	return DefaultErrorWindow
}

// Orchestrator captures and compares health snapshots.
type Orchestrator struct {
	store    *store.Store
	ingester *ingest.Ingester
	detector *anomaly.Detector
	capturer Capturer
	clock    clock.Clock
	logger   *slog.Logger
	config   Config
}

// New wires an orchestrator. capturer may be nil, in which case
// snapshots are taken without process metrics.
func New(st *store.Store, ingester *ingest.Ingester, detector *anomaly.Detector, capturer Capturer, clk clock.Clock, logger *slog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:    st,
		ingester: ingester,
		detector: detector,
		capturer: capturer,
		clock:    clk,
		logger:   logger,
		config:   cfg,
	}
}

// CreateSnapshot takes one health snapshot of a registered service:
// ingest its logs, capture process metrics, count recent errors,
// compute the log rate, persist, then fold the values into the
// baselines and run detection. Baseline or detection failures are
// logged, never propagated; the snapshot itself is already durable by
// then.
func (o *Orchestrator) CreateSnapshot(ctx context.Context, serviceName string) (*observe.HealthSnapshot, error) {
	service, err := o.store.GetService(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if service == nil {
		return nil, fmt.Errorf("snapshot: service %q is not registered", serviceName)
	}

	if len(service.LogPaths) > 0 {
		if _, err := o.ingester.IngestOnce(ctx, service.Name, service.LogPaths, o.config.Ingest); err != nil {
			return nil, fmt.Errorf("snapshot: %w", err)
		}
	}

	var metrics *observe.ProcessMetrics
	if o.capturer != nil {
		metrics, err = o.capturer.Capture(ctx, *service, o.config.CPUSampleInterval)
		if err != nil {
			return nil, fmt.Errorf("snapshot: capture metrics: %w", err)
		}
	}

	now := o.clock.Now()
	window := o.config.errorWindow()
	since := now.Add(-window)

	errorCount, err := o.store.CountErrorsSince(ctx, service.Name, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	totalLogs, err := o.store.CountLogsSince(ctx, service.Name, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	logRate := 0.0
	if seconds := window.Seconds(); seconds > 0 {
		logRate = math.Round(float64(totalLogs)/seconds*100) / 100
	}

	snapshot := observe.HealthSnapshot{
		SnapshotID:  newSnapshotID(),
		ServiceName: service.Name,
		SnapshotAt:  now,
		Metrics:     metrics,
		ErrorCount:  errorCount,
		LogRate:     logRate,
	}
	if err := o.store.SaveSnapshot(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	// Baselines absorb the new observation before detection runs, so
	// the flagged deviation is measured against a baseline that
	// already includes the value.
	if err := o.detector.UpdateBaselines(ctx, snapshot); err != nil {
		o.logger.Warn("baseline update failed", "service", service.Name, "error", err)
	} else if _, err := o.detector.Detect(ctx, snapshot); err != nil {
		o.logger.Warn("anomaly detection failed", "service", service.Name, "error", err)
	}

	return &snapshot, nil
}

// CreateAllSnapshots snapshots every registered service. A failing
// service is logged and skipped; the rest still get snapshots.
func (o *Orchestrator) CreateAllSnapshots(ctx context.Context) ([]observe.HealthSnapshot, error) {
	services, err := o.store.ListServices(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	var snapshots []observe.HealthSnapshot
	for _, service := range services {
		snapshot, err := o.CreateSnapshot(ctx, service.Name)
		if err != nil {
			o.logger.Warn("snapshot failed", "service", service.Name, "error", err)
			continue
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, nil
}

// CompareSnapshots diffs two snapshots addressed by id or id prefix.
// Returns nil when either id matches nothing or the snapshots belong
// to different services. CPU and memory deltas are computed only when
// both snapshots carry process metrics.
func (o *Orchestrator) CompareSnapshots(ctx context.Context, beforeID, afterID string) (*observe.SnapshotDiff, error) {
	before, err := o.store.GetSnapshot(ctx, beforeID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compare: %w", err)
	}
	after, err := o.store.GetSnapshot(ctx, afterID)
	if err != nil {
		return nil, fmt.Errorf("snapshot: compare: %w", err)
	}
	if before == nil || after == nil || before.ServiceName != after.ServiceName {
		return nil, nil
	}

	diff := &observe.SnapshotDiff{
		ServiceName:     before.ServiceName,
		Before:          *before,
		After:           *after,
		ErrorCountDelta: after.ErrorCount - before.ErrorCount,
		LogRateDelta:    after.LogRate - before.LogRate,
	}
	if before.Metrics != nil && after.Metrics != nil {
		diff.CPUDelta = after.Metrics.CPUPercent - before.Metrics.CPUPercent
		diff.MemoryDeltaMB = after.Metrics.MemoryMB - before.Metrics.MemoryMB
		diff.StatusChanged = before.Metrics.Status != after.Metrics.Status
	}
	return diff, nil
}

// newSnapshotID returns a 32-character lowercase hex id.
func newSnapshotID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
