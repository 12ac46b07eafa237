// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package observe defines the data model shared by the observation
// pipeline: registered services, parsed log entries, health
// snapshots, rolling metric baselines, detected anomalies, and the
// feedback/audit records written around them.
package observe

import "time"

// LogLevel is a normalized log severity. Every parsed line carries
// one of these values; tokens the parser does not recognize map to
// LevelUnknown rather than failing the line.
type LogLevel string

const (
	LevelCritical LogLevel = "critical"
	LevelError    LogLevel = "error"
	LevelWarning  LogLevel = "warning"
	LevelInfo     LogLevel = "info"
	LevelDebug    LogLevel = "debug"
	LevelUnknown  LogLevel = "unknown"
)

// ProcessStatus is the observed scheduler state of a service process.
type ProcessStatus string

const (
	StatusRunning  ProcessStatus = "running"
	StatusSleeping ProcessStatus = "sleeping"
	StatusStopped  ProcessStatus = "stopped"
	StatusZombie   ProcessStatus = "zombie"
	StatusDead     ProcessStatus = "dead"
	StatusUnknown  ProcessStatus = "unknown"
)

// ServiceInfo is a registered service under observation. Name is the
// unique key; re-registering the same name replaces every field.
type ServiceInfo struct {
	Name         string
	PID          int
	Port         int
	LogPaths     []string
	RegisteredAt time.Time
}

// LogEntry is a single parsed log line. Immutable once written to the
// store. Timestamp is the instant parsed out of the line itself and
// may be zero when the line carried none; IngestedAt is always set.
type LogEntry struct {
	ServiceName string
	Level       LogLevel
	Message     string
	SourceFile  string
	RawLine     string
	Timestamp   time.Time
	IngestedAt  time.Time
}

// ProcessMetrics is a point-in-time reading of a service process.
// MemoryMB is resident set size in mebibytes.
type ProcessMetrics struct {
	PID            int           `json:"pid"`
	Status         ProcessStatus `json:"status"`
	CPUPercent     float64       `json:"cpu_percent"`
	MemoryMB       float64       `json:"memory_mb"`
	NumThreads     int           `json:"num_threads"`
	NumConnections int           `json:"num_connections"`
	CapturedAt     time.Time     `json:"captured_at"`
}

// HealthSnapshot is one aggregated observation of a service: process
// metrics (nil when the process could not be observed), the error
// count in the trailing window, and the log ingestion rate over that
// same window. SnapshotID is 32 hex characters and prefix-addressable
// from 8 characters on.
type HealthSnapshot struct {
	SnapshotID  string
	ServiceName string
	SnapshotAt  time.Time
	Metrics     *ProcessMetrics
	ErrorCount  int
	LogRate     float64
}

// SnapshotDiff is the derived comparison of two same-service
// snapshots. Never persisted. The CPU/memory deltas and StatusChanged
// are only meaningful when both snapshots carried process metrics.
type SnapshotDiff struct {
	ServiceName     string
	Before          HealthSnapshot
	After           HealthSnapshot
	CPUDelta        float64
	MemoryDeltaMB   float64
	ErrorCountDelta int
	LogRateDelta    float64
	StatusChanged   bool
}

// MetricBaseline is the rolling mean and standard deviation for one
// (service, metric) pair, updated online on every snapshot. There is
// exactly one row per tracked metric per service; SampleCount never
// decreases and Stddev is never negative.
type MetricBaseline struct {
	ServiceName string
	Metric      string
	Mean        float64
	Stddev      float64
	SampleCount int
	UpdatedAt   time.Time
}

// Anomaly records one metric value that deviated from its baseline.
// Deviation is signed and expressed in standard deviations; it is
// ±Inf when the baseline stddev was exactly zero and the value
// differed from the mean. Append-only.
type Anomaly struct {
	ServiceName    string
	Metric         string
	CurrentValue   float64
	BaselineMean   float64
	BaselineStddev float64
	Deviation      float64
	DetectedAt     time.Time
}

// Feedback is a human judgment recorded against a snapshot or a
// comparison. TargetType distinguishes what TargetID refers to.
type Feedback struct {
	TargetID   string
	TargetType string
	Outcome    string
	Context    string
	CreatedAt  time.Time
}

// AuditEntry records one external tool invocation against the store.
// Parameters is the JSON-encoded argument object.
type AuditEntry struct {
	ToolName      string
	Parameters    string
	ResultSummary string
	CreatedAt     time.Time
}
