// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolserver exposes the observation pipeline over the Model
// Context Protocol so AI assistants can query service health. Every
// tool invocation is recorded in the store's audit trail, parameters
// included.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/snapshot"
	"github.com/vigil-obs/vigil/lib/store"
)

// Server wraps the store and orchestrator as MCP tools.
type Server struct {
	server       *gomcp.Server
	store        *store.Store
	orchestrator *snapshot.Orchestrator
	logger       *slog.Logger
}

// NewServer creates the MCP server. version is reported to clients;
// empty means "dev".
func NewServer(st *store.Store, orchestrator *snapshot.Orchestrator, logger *slog.Logger, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		store:        st,
		orchestrator: orchestrator,
		logger:       logger,
	}
	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "vigil", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio, blocking until the client disconnects or
// ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type listServicesInput struct{}

type serviceOutput struct {
	Name         string   `json:"name"`
	PID          int      `json:"pid,omitempty"`
	Port         int      `json:"port,omitempty"`
	LogPaths     []string `json:"log_paths,omitempty"`
	RegisteredAt string   `json:"registered_at"`
}

type listServicesOutput struct {
	Services []serviceOutput `json:"services"`
	Count    int             `json:"count"`
}

type searchLogsInput struct {
	Query   string `json:"query" jsonschema:"required,FTS5 query over log messages (phrases, AND/OR/NOT, prefix* all work)"`
	Service string `json:"service,omitempty" jsonschema:"restrict results to one registered service"`
	Level   string `json:"level,omitempty" jsonschema:"restrict to one level (critical, error, warning, info, debug, unknown)"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum results, default 50"`
}

type logEntryOutput struct {
	Service    string `json:"service"`
	Level      string `json:"level"`
	Message    string `json:"message"`
	SourceFile string `json:"source_file,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	IngestedAt string `json:"ingested_at"`
}

type logEntriesOutput struct {
	Entries []logEntryOutput `json:"entries"`
	Count   int              `json:"count"`
}

type recentErrorsInput struct {
	Service       string `json:"service,omitempty" jsonschema:"restrict results to one registered service"`
	WindowMinutes int    `json:"window_minutes,omitempty" jsonschema:"trailing window in minutes, default 60"`
	Limit         int    `json:"limit,omitempty" jsonschema:"maximum results, default 50"`
}

type createSnapshotInput struct {
	Service string `json:"service,omitempty" jsonschema:"service to snapshot; empty snapshots every registered service"`
}

type snapshotOutput struct {
	SnapshotID  string                  `json:"snapshot_id"`
	Service     string                  `json:"service"`
	SnapshotAt  string                  `json:"snapshot_at"`
	Metrics     *observe.ProcessMetrics `json:"metrics,omitempty"`
	ErrorCount  int                     `json:"error_count"`
	LogRate     float64                 `json:"log_rate"`
}

type createSnapshotOutput struct {
	Snapshots []snapshotOutput `json:"snapshots"`
	Count     int              `json:"count"`
}

type listSnapshotsInput struct {
	Service string `json:"service,omitempty" jsonschema:"restrict results to one registered service"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum results, default 20"`
}

type compareSnapshotsInput struct {
	BeforeID string `json:"before_id" jsonschema:"required,earlier snapshot id or id prefix (8+ hex chars)"`
	AfterID  string `json:"after_id" jsonschema:"required,later snapshot id or id prefix (8+ hex chars)"`
}

type compareSnapshotsOutput struct {
	Service         string         `json:"service"`
	Before          snapshotOutput `json:"before"`
	After           snapshotOutput `json:"after"`
	CPUDelta        float64        `json:"cpu_delta"`
	MemoryDeltaMB   float64        `json:"memory_delta_mb"`
	ErrorCountDelta int            `json:"error_count_delta"`
	LogRateDelta    float64        `json:"log_rate_delta"`
	StatusChanged   bool           `json:"status_changed"`
}

type recentAnomaliesInput struct {
	Service     string `json:"service,omitempty" jsonschema:"restrict results to one registered service"`
	WindowHours int    `json:"window_hours,omitempty" jsonschema:"trailing window in hours, default 24"`
	Limit       int    `json:"limit,omitempty" jsonschema:"maximum results, default 50"`
}

type anomalyOutput struct {
	Service        string  `json:"service"`
	Metric         string  `json:"metric"`
	CurrentValue   float64 `json:"current_value"`
	BaselineMean   float64 `json:"baseline_mean"`
	BaselineStddev float64 `json:"baseline_stddev"`
	Deviation      string  `json:"deviation"`
	DetectedAt     string  `json:"detected_at"`
}

type recentAnomaliesOutput struct {
	Anomalies []anomalyOutput `json:"anomalies"`
	Count     int             `json:"count"`
}

type recordFeedbackInput struct {
	TargetID   string `json:"target_id" jsonschema:"required,snapshot or comparison id the judgment refers to"`
	TargetType string `json:"target_type,omitempty" jsonschema:"what the target id refers to (snapshot, comparison); default snapshot"`
	Outcome    string `json:"outcome" jsonschema:"required,judgment to record (e.g. accurate, noisy, missed)"`
	Context    string `json:"context,omitempty" jsonschema:"free-form context for the judgment"`
}

type recordFeedbackOutput struct {
	Message string `json:"message"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_services",
		Description: "List the services registered for observation, with their pids, ports, and log files.",
	}, s.handleListServices)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "search_logs",
		Description: "Full-text search over ingested log messages using FTS5 query syntax. Returns newest matches first.",
	}, s.handleSearchLogs)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "recent_errors",
		Description: "Return error and critical log entries ingested within a trailing window.",
	}, s.handleRecentErrors)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_snapshot",
		Description: "Capture a health snapshot (fresh log ingest, process metrics, error count, log rate) of one service or all of them. Updates baselines and runs anomaly detection.",
	}, s.handleCreateSnapshot)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_snapshots",
		Description: "List captured health snapshots, newest first.",
	}, s.handleListSnapshots)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "compare_snapshots",
		Description: "Diff two snapshots of the same service: CPU, memory, error count, and log rate deltas.",
	}, s.handleCompareSnapshots)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "recent_anomalies",
		Description: "Return metric anomalies detected within a trailing window.",
	}, s.handleRecentAnomalies)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "record_feedback",
		Description: "Record a human judgment about a snapshot or comparison, used to assess detection quality.",
	}, s.handleRecordFeedback)
}

// --- Tool handlers ---

func (s *Server) handleListServices(ctx context.Context, _ *gomcp.CallToolRequest, input listServicesInput) (*gomcp.CallToolResult, listServicesOutput, error) {
	defer s.audit(ctx, "list_services", input)

	services, err := s.store.ListServices(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("listing services: %s", err)), listServicesOutput{}, nil
	}

	out := listServicesOutput{
		Services: make([]serviceOutput, len(services)),
		Count:    len(services),
	}
	for i, service := range services {
		out.Services[i] = serviceOutput{
			Name:         service.Name,
			PID:          service.PID,
			Port:         service.Port,
			LogPaths:     service.LogPaths,
			RegisteredAt: service.RegisteredAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleSearchLogs(ctx context.Context, _ *gomcp.CallToolRequest, input searchLogsInput) (*gomcp.CallToolResult, logEntriesOutput, error) {
	defer s.audit(ctx, "search_logs", input)

	if input.Query == "" {
		return errorResult("query is required"), logEntriesOutput{}, nil
	}
	entries, err := s.store.SearchLogs(ctx, input.Query, input.Service, observe.LogLevel(input.Level), input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("searching logs: %s", err)), logEntriesOutput{}, nil
	}
	return nil, logEntriesToOutput(entries), nil
}

func (s *Server) handleRecentErrors(ctx context.Context, _ *gomcp.CallToolRequest, input recentErrorsInput) (*gomcp.CallToolResult, logEntriesOutput, error) {
	defer s.audit(ctx, "recent_errors", input)

	window := time.Duration(input.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Hour
	}
	entries, err := s.store.RecentErrors(ctx, input.Service, window, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("fetching recent errors: %s", err)), logEntriesOutput{}, nil
	}
	return nil, logEntriesToOutput(entries), nil
}

func (s *Server) handleCreateSnapshot(ctx context.Context, _ *gomcp.CallToolRequest, input createSnapshotInput) (*gomcp.CallToolResult, createSnapshotOutput, error) {
	defer s.audit(ctx, "create_snapshot", input)

	var snapshots []observe.HealthSnapshot
	if input.Service == "" {
		all, err := s.orchestrator.CreateAllSnapshots(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("creating snapshots: %s", err)), createSnapshotOutput{}, nil
		}
		snapshots = all
	} else {
		one, err := s.orchestrator.CreateSnapshot(ctx, input.Service)
		if err != nil {
			return errorResult(fmt.Sprintf("creating snapshot: %s", err)), createSnapshotOutput{}, nil
		}
		snapshots = []observe.HealthSnapshot{*one}
	}

	out := createSnapshotOutput{
		Snapshots: make([]snapshotOutput, len(snapshots)),
		Count:     len(snapshots),
	}
	for i, snap := range snapshots {
		out.Snapshots[i] = snapshotToOutput(snap)
	}
	return nil, out, nil
}

func (s *Server) handleListSnapshots(ctx context.Context, _ *gomcp.CallToolRequest, input listSnapshotsInput) (*gomcp.CallToolResult, createSnapshotOutput, error) {
	defer s.audit(ctx, "list_snapshots", input)

	snapshots, err := s.store.ListSnapshots(ctx, input.Service, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("listing snapshots: %s", err)), createSnapshotOutput{}, nil
	}
	out := createSnapshotOutput{
		Snapshots: make([]snapshotOutput, len(snapshots)),
		Count:     len(snapshots),
	}
	for i, snap := range snapshots {
		out.Snapshots[i] = snapshotToOutput(snap)
	}
	return nil, out, nil
}

func (s *Server) handleCompareSnapshots(ctx context.Context, _ *gomcp.CallToolRequest, input compareSnapshotsInput) (*gomcp.CallToolResult, compareSnapshotsOutput, error) {
	defer s.audit(ctx, "compare_snapshots", input)

	if input.BeforeID == "" || input.AfterID == "" {
		return errorResult("before_id and after_id are required"), compareSnapshotsOutput{}, nil
	}
	diff, err := s.orchestrator.CompareSnapshots(ctx, input.BeforeID, input.AfterID)
	if err != nil {
		return errorResult(fmt.Sprintf("comparing snapshots: %s", err)), compareSnapshotsOutput{}, nil
	}
	if diff == nil {
		return errorResult("snapshots not found or belong to different services"), compareSnapshotsOutput{}, nil
	}

	out := compareSnapshotsOutput{
		Service:         diff.ServiceName,
		Before:          snapshotToOutput(diff.Before),
		After:           snapshotToOutput(diff.After),
		CPUDelta:        diff.CPUDelta,
		MemoryDeltaMB:   diff.MemoryDeltaMB,
		ErrorCountDelta: diff.ErrorCountDelta,
		LogRateDelta:    diff.LogRateDelta,
		StatusChanged:   diff.StatusChanged,
	}
	return nil, out, nil
}

func (s *Server) handleRecentAnomalies(ctx context.Context, _ *gomcp.CallToolRequest, input recentAnomaliesInput) (*gomcp.CallToolResult, recentAnomaliesOutput, error) {
	defer s.audit(ctx, "recent_anomalies", input)

	window := time.Duration(input.WindowHours) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}
	anomalies, err := s.store.RecentAnomalies(ctx, input.Service, window, input.Limit)
	if err != nil {
		return errorResult(fmt.Sprintf("fetching anomalies: %s", err)), recentAnomaliesOutput{}, nil
	}

	out := recentAnomaliesOutput{
		Anomalies: make([]anomalyOutput, len(anomalies)),
		Count:     len(anomalies),
	}
	for i, anomaly := range anomalies {
		out.Anomalies[i] = anomalyOutput{
			Service:        anomaly.ServiceName,
			Metric:         anomaly.Metric,
			CurrentValue:   anomaly.CurrentValue,
			BaselineMean:   anomaly.BaselineMean,
			BaselineStddev: anomaly.BaselineStddev,
			Deviation:      formatDeviation(anomaly.Deviation),
			DetectedAt:     anomaly.DetectedAt.Format(time.RFC3339),
		}
	}
	return nil, out, nil
}

func (s *Server) handleRecordFeedback(ctx context.Context, _ *gomcp.CallToolRequest, input recordFeedbackInput) (*gomcp.CallToolResult, recordFeedbackOutput, error) {
	defer s.audit(ctx, "record_feedback", input)

	if input.TargetID == "" {
		return errorResult("target_id is required"), recordFeedbackOutput{}, nil
	}
	if input.Outcome == "" {
		return errorResult("outcome is required"), recordFeedbackOutput{}, nil
	}
	targetType := input.TargetType
	if targetType == "" {
		targetType = "snapshot"
	}

	err := s.store.SaveFeedback(ctx, observe.Feedback{
		TargetID:   input.TargetID,
		TargetType: targetType,
		Outcome:    input.Outcome,
		Context:    input.Context,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("recording feedback: %s", err)), recordFeedbackOutput{}, nil
	}
	return nil, recordFeedbackOutput{
		Message: fmt.Sprintf("feedback recorded for %s", input.TargetID),
	}, nil
}

// --- Helpers ---

// audit records the invocation in the store's audit trail. Audit
// failures are logged, never surfaced to the client.
func (s *Server) audit(ctx context.Context, toolName string, input any) {
	parameters, err := json.Marshal(input)
	if err != nil {
		parameters = []byte("{}")
	}
	err = s.store.AppendAudit(ctx, observe.AuditEntry{
		ToolName:   toolName,
		Parameters: string(parameters),
	})
	if err != nil {
		s.logger.Warn("audit append failed", "tool", toolName, "error", err)
	}
}

func logEntriesToOutput(entries []observe.LogEntry) logEntriesOutput {
	out := logEntriesOutput{
		Entries: make([]logEntryOutput, len(entries)),
		Count:   len(entries),
	}
	for i, entry := range entries {
		converted := logEntryOutput{
			Service:    entry.ServiceName,
			Level:      string(entry.Level),
			Message:    entry.Message,
			SourceFile: entry.SourceFile,
			IngestedAt: entry.IngestedAt.Format(time.RFC3339),
		}
		if !entry.Timestamp.IsZero() {
			converted.Timestamp = entry.Timestamp.Format(time.RFC3339)
		}
		out.Entries[i] = converted
	}
	return out
}

func snapshotToOutput(snap observe.HealthSnapshot) snapshotOutput {
	return snapshotOutput{
		SnapshotID: snap.SnapshotID,
		Service:    snap.ServiceName,
		SnapshotAt: snap.SnapshotAt.Format(time.RFC3339),
		Metrics:    snap.Metrics,
		ErrorCount: snap.ErrorCount,
		LogRate:    snap.LogRate,
	}
}

// formatDeviation renders the sigma distance as text so the infinite
// zero-stddev case survives JSON encoding.
func formatDeviation(deviation float64) string {
	if math.IsInf(deviation, 1) {
		return "+inf"
	}
	if math.IsInf(deviation, -1) {
		return "-inf"
	}
	return fmt.Sprintf("%+.2f", deviation)
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
