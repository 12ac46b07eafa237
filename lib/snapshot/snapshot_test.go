// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-obs/vigil/lib/anomaly"
	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/ingest"
	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/store"
)

var snapshotTestEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.Default()
}

// stubCapturer returns a fixed CPU reading per call, popping from the
// front of values. After the values run out it reports the process as
// unobservable.
type stubCapturer struct {
	values []float64
}

func (c *stubCapturer) Capture(ctx context.Context, service observe.ServiceInfo, interval time.Duration) (*observe.ProcessMetrics, error) {
	if len(c.values) == 0 {
		return nil, nil
	}
	value := c.values[0]
	c.values = c.values[1:]
	return &observe.ProcessMetrics{
		PID:        service.PID,
		Status:     observe.StatusRunning,
		CPUPercent: value,
		MemoryMB:   128,
		NumThreads: 4,
	}, nil
}

func newTestOrchestrator(t *testing.T, capturer Capturer) (*Orchestrator, *store.Store, *clock.FakeClock) {
	t.Helper()

	fakeClock := clock.Fake(snapshotTestEpoch)
	st, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "snapshot_test.db"),
		PoolSize: 2,
		Clock:    fakeClock,
		Logger:   testLogger(t),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})

	ingester := ingest.New(st, testLogger(t))
	detector := anomaly.New(st, testLogger(t))
	orchestrator := New(st, ingester, detector, capturer, fakeClock, testLogger(t), Config{})
	return orchestrator, st, fakeClock
}

func registerTestService(t *testing.T, st *store.Store, name string, logPaths []string) {
	t.Helper()
	err := st.RegisterService(context.Background(), observe.ServiceInfo{
		Name: name, PID: 1234, LogPaths: logPaths,
	})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
}

func TestCreateSnapshot(t *testing.T) {
	orchestrator, st, fakeClock := newTestOrchestrator(t, &stubCapturer{values: []float64{42}})
	ctx := context.Background()

	logPath := filepath.Join(t.TempDir(), "api.log")
	content := `{"level":"error","message":"payment gateway down"}` + "\n" +
		`{"level":"info","message":"health check ok"}` + "\n"
	if err := os.WriteFile(logPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	registerTestService(t, st, "api", []string{logPath})

	snapshot, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if len(snapshot.SnapshotID) != 32 {
		t.Errorf("SnapshotID %q is not 32 hex chars", snapshot.SnapshotID)
	}
	if !snapshot.SnapshotAt.Equal(fakeClock.Now()) {
		t.Errorf("SnapshotAt = %v, want clock time", snapshot.SnapshotAt)
	}
	if snapshot.Metrics == nil || snapshot.Metrics.CPUPercent != 42 {
		t.Errorf("Metrics = %+v, want the captured reading", snapshot.Metrics)
	}
	// The log batch was ingested first, so the error shows up in the
	// error count and both lines in the log rate.
	if snapshot.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", snapshot.ErrorCount)
	}
	wantRate := 2.0 / (5 * time.Minute).Seconds()
	if diff := snapshot.LogRate - wantRate; diff > 0.01 || diff < -0.01 {
		t.Errorf("LogRate = %v, want ~%v", snapshot.LogRate, wantRate)
	}

	// Persisted and prefix-addressable.
	stored, err := st.GetSnapshot(ctx, snapshot.SnapshotID[:8])
	if err != nil {
		t.Fatalf("GetSnapshot: %v", err)
	}
	if stored == nil || stored.SnapshotID != snapshot.SnapshotID {
		t.Errorf("stored snapshot = %+v", stored)
	}

	// Baselines absorbed the observation.
	baseline, err := st.GetBaseline(ctx, "api", "cpu_percent")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if baseline == nil || baseline.SampleCount != 1 {
		t.Errorf("baseline = %+v, want one sample", baseline)
	}
}

func TestCreateSnapshotUnregisteredService(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, &stubCapturer{})

	_, err := orchestrator.CreateSnapshot(context.Background(), "ghost")
	if err == nil {
		t.Fatal("CreateSnapshot succeeded for an unregistered service")
	}
}

func TestCreateSnapshotUnobservableProcess(t *testing.T) {
	orchestrator, st, _ := newTestOrchestrator(t, &stubCapturer{})

	registerTestService(t, st, "api", nil)

	snapshot, err := orchestrator.CreateSnapshot(context.Background(), "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snapshot.Metrics != nil {
		t.Errorf("Metrics = %+v, want nil for an unobservable process", snapshot.Metrics)
	}
}

func TestSnapshotSpikesProduceAnomaly(t *testing.T) {
	capturer := &stubCapturer{values: []float64{10, 11, 10, 11, 10, 100}}
	orchestrator, st, fakeClock := newTestOrchestrator(t, capturer)
	ctx := context.Background()

	registerTestService(t, st, "api", nil)
	for i := 0; i < 6; i++ {
		if _, err := orchestrator.CreateSnapshot(ctx, "api"); err != nil {
			t.Fatalf("CreateSnapshot %d: %v", i, err)
		}
		fakeClock.Advance(time.Minute)
	}

	anomalies, err := st.RecentAnomalies(ctx, "api", 24*time.Hour, 0)
	if err != nil {
		t.Fatalf("RecentAnomalies: %v", err)
	}
	var cpu *observe.Anomaly
	for i := range anomalies {
		if anomalies[i].Metric == "cpu_percent" {
			cpu = &anomalies[i]
		}
	}
	if cpu == nil {
		t.Fatal("spike to 100 after a stable baseline produced no cpu anomaly")
	}
	if cpu.CurrentValue != 100 {
		t.Errorf("CurrentValue = %v, want 100", cpu.CurrentValue)
	}
	if cpu.Deviation < 2 {
		t.Errorf("Deviation = %v, want >= 2 sigma", cpu.Deviation)
	}
}

func TestCreateAllSnapshots(t *testing.T) {
	orchestrator, st, _ := newTestOrchestrator(t, &stubCapturer{})
	ctx := context.Background()

	registerTestService(t, st, "api", nil)
	registerTestService(t, st, "worker", nil)

	snapshots, err := orchestrator.CreateAllSnapshots(ctx)
	if err != nil {
		t.Fatalf("CreateAllSnapshots: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("len = %d, want 2", len(snapshots))
	}
	names := map[string]bool{}
	for _, snapshot := range snapshots {
		names[snapshot.ServiceName] = true
	}
	if !names["api"] || !names["worker"] {
		t.Errorf("snapshot services = %v", names)
	}
}

func TestCompareSnapshots(t *testing.T) {
	capturer := &stubCapturer{values: []float64{10, 50}}
	orchestrator, st, fakeClock := newTestOrchestrator(t, capturer)
	ctx := context.Background()

	registerTestService(t, st, "api", nil)
	before, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	fakeClock.Advance(time.Minute)
	after, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	diff, err := orchestrator.CompareSnapshots(ctx, before.SnapshotID[:8], after.SnapshotID[:8])
	if err != nil {
		t.Fatalf("CompareSnapshots: %v", err)
	}
	if diff == nil {
		t.Fatal("CompareSnapshots returned nil for two valid snapshots")
	}
	if diff.ServiceName != "api" {
		t.Errorf("ServiceName = %q", diff.ServiceName)
	}
	if diff.CPUDelta != 40 {
		t.Errorf("CPUDelta = %v, want 40", diff.CPUDelta)
	}
	if diff.StatusChanged {
		t.Error("StatusChanged = true for identical statuses")
	}
}

func TestCompareSnapshotsDifferentServices(t *testing.T) {
	capturer := &stubCapturer{values: []float64{10, 10}}
	orchestrator, st, _ := newTestOrchestrator(t, capturer)
	ctx := context.Background()

	registerTestService(t, st, "api", nil)
	registerTestService(t, st, "worker", nil)
	first, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	second, err := orchestrator.CreateSnapshot(ctx, "worker")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	diff, err := orchestrator.CompareSnapshots(ctx, first.SnapshotID, second.SnapshotID)
	if err != nil {
		t.Fatalf("CompareSnapshots: %v", err)
	}
	if diff != nil {
		t.Errorf("diff = %+v, want nil for different services", diff)
	}
}

func TestCompareSnapshotsMissing(t *testing.T) {
	orchestrator, _, _ := newTestOrchestrator(t, &stubCapturer{})

	diff, err := orchestrator.CompareSnapshots(context.Background(), "deadbeef", "cafebabe")
	if err != nil {
		t.Fatalf("CompareSnapshots: %v", err)
	}
	if diff != nil {
		t.Errorf("diff = %+v, want nil when neither id matches", diff)
	}
}

func TestCompareSnapshotsMissingMetrics(t *testing.T) {
	// First snapshot has metrics, second does not: the CPU and memory
	// deltas stay zero, the counter deltas are still computed.
	capturer := &stubCapturer{values: []float64{10}}
	orchestrator, st, fakeClock := newTestOrchestrator(t, capturer)
	ctx := context.Background()

	registerTestService(t, st, "api", nil)
	before, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	fakeClock.Advance(time.Minute)
	after, err := orchestrator.CreateSnapshot(ctx, "api")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if after.Metrics != nil {
		t.Fatal("second capture should be unobservable in this setup")
	}

	diff, err := orchestrator.CompareSnapshots(ctx, before.SnapshotID, after.SnapshotID)
	if err != nil {
		t.Fatalf("CompareSnapshots: %v", err)
	}
	if diff == nil {
		t.Fatal("diff = nil, want a diff with zero metric deltas")
	}
	if diff.CPUDelta != 0 || diff.MemoryDeltaMB != 0 || diff.StatusChanged {
		t.Errorf("metric deltas = %v/%v/%v, want zeros", diff.CPUDelta, diff.MemoryDeltaMB, diff.StatusChanged)
	}
}
