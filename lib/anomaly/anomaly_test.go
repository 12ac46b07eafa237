// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package anomaly

import (
	"context"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/store"
)

var anomalyTestEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.Default()
}

func newTestDetector(t *testing.T) (*Detector, *store.Store, *clock.FakeClock) {
	t.Helper()

	fakeClock := clock.Fake(anomalyTestEpoch)
	st, err := store.Open(store.Config{
		Path:     filepath.Join(t.TempDir(), "anomaly_test.db"),
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

	err = st.RegisterService(context.Background(), observe.ServiceInfo{Name: "api"})
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	return New(st, testLogger(t)), st, fakeClock
}

// snapshotWithCPU builds a snapshot carrying only a CPU reading of
// interest; the other tracked metrics ride along at zero.
func snapshotWithCPU(cpu float64, at time.Time) observe.HealthSnapshot {
	return observe.HealthSnapshot{
		SnapshotID:  "00000000000000000000000000000000",
		ServiceName: "api",
		SnapshotAt:  at,
		Metrics:     &observe.ProcessMetrics{PID: 1, CPUPercent: cpu},
	}
}

func TestUpdateBaselinesWelford(t *testing.T) {
	detector, st, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for _, value := range []float64{10, 11, 10, 11, 10} {
		err := detector.UpdateBaselines(ctx, snapshotWithCPU(value, fakeClock.Now()))
		if err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	baseline, err := st.GetBaseline(ctx, "api", "cpu_percent")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if baseline == nil {
		t.Fatal("no baseline after updates")
	}
	if baseline.SampleCount != 5 {
		t.Errorf("SampleCount = %d, want 5", baseline.SampleCount)
	}
	if baseline.Mean != 10.4 {
		t.Errorf("Mean = %v, want 10.4", baseline.Mean)
	}
	// Population stddev of [10,11,10,11,10] is sqrt(0.24) ~ 0.4899.
	if math.Abs(baseline.Stddev-0.4899) > 0.0001 {
		t.Errorf("Stddev = %v, want ~0.4899", baseline.Stddev)
	}
}

func TestUpdateBaselinesWithoutMetrics(t *testing.T) {
	detector, st, fakeClock := newTestDetector(t)
	ctx := context.Background()

	snapshot := observe.HealthSnapshot{
		SnapshotID:  "00000000000000000000000000000000",
		ServiceName: "api",
		SnapshotAt:  fakeClock.Now(),
		ErrorCount:  3,
		LogRate:     1.5,
	}
	if err := detector.UpdateBaselines(ctx, snapshot); err != nil {
		t.Fatalf("UpdateBaselines: %v", err)
	}

	// No process metrics: cpu and memory get no baseline, the log
	// counters do.
	cpu, err := st.GetBaseline(ctx, "api", "cpu_percent")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if cpu != nil {
		t.Errorf("cpu baseline = %+v, want nil without process metrics", cpu)
	}
	errors, err := st.GetBaseline(ctx, "api", "error_count")
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if errors == nil || errors.Mean != 3 {
		t.Errorf("error_count baseline = %+v, want mean 3", errors)
	}
}

func TestDetectNeedsThreeSamples(t *testing.T) {
	detector, _, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for _, value := range []float64{10, 11} {
		if err := detector.UpdateBaselines(ctx, snapshotWithCPU(value, fakeClock.Now())); err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	found, err := detector.Detect(ctx, snapshotWithCPU(100, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(found) != 0 {
		t.Errorf("Detect flagged %d anomalies with only 2 samples, want 0", len(found))
	}
}

func TestDetectFlagsSpike(t *testing.T) {
	detector, st, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for _, value := range []float64{10, 11, 10, 11, 10} {
		if err := detector.UpdateBaselines(ctx, snapshotWithCPU(value, fakeClock.Now())); err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	found, err := detector.Detect(ctx, snapshotWithCPU(100, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	var cpu *observe.Anomaly
	for i := range found {
		if found[i].Metric == "cpu_percent" {
			cpu = &found[i]
		}
	}
	if cpu == nil {
		t.Fatal("spike to 100 not flagged against a ~10.4 baseline")
	}
	if cpu.Deviation < DefaultSigma {
		t.Errorf("Deviation = %v, want >= %v", cpu.Deviation, DefaultSigma)
	}
	if cpu.CurrentValue != 100 {
		t.Errorf("CurrentValue = %v, want 100", cpu.CurrentValue)
	}

	// The anomaly is persisted too.
	persisted, err := st.RecentAnomalies(ctx, "api", time.Hour, 0)
	if err != nil {
		t.Fatalf("RecentAnomalies: %v", err)
	}
	if len(persisted) == 0 {
		t.Error("detected anomaly was not persisted")
	}
}

func TestDetectWithinThresholdStaysQuiet(t *testing.T) {
	detector, _, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for _, value := range []float64{10, 11, 10, 11, 10} {
		if err := detector.UpdateBaselines(ctx, snapshotWithCPU(value, fakeClock.Now())); err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	found, err := detector.Detect(ctx, snapshotWithCPU(10.5, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, anomaly := range found {
		if anomaly.Metric == "cpu_percent" {
			t.Errorf("value inside the threshold was flagged: %+v", anomaly)
		}
	}
}

func TestDetectZeroStddev(t *testing.T) {
	detector, _, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := detector.UpdateBaselines(ctx, snapshotWithCPU(10, fakeClock.Now())); err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	// Identical value: never an anomaly.
	found, err := detector.Detect(ctx, snapshotWithCPU(10, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	for _, anomaly := range found {
		if anomaly.Metric == "cpu_percent" {
			t.Errorf("identical value flagged against a zero-stddev baseline: %+v", anomaly)
		}
	}

	// Any differing value: flagged with an infinite deviation.
	found, err = detector.Detect(ctx, snapshotWithCPU(10.1, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var cpu *observe.Anomaly
	for i := range found {
		if found[i].Metric == "cpu_percent" {
			cpu = &found[i]
		}
	}
	if cpu == nil {
		t.Fatal("differing value not flagged against a zero-stddev baseline")
	}
	if !math.IsInf(cpu.Deviation, 1) {
		t.Errorf("Deviation = %v, want +Inf", cpu.Deviation)
	}
}

func TestDetectNegativeDeviationSigned(t *testing.T) {
	detector, _, fakeClock := newTestDetector(t)
	ctx := context.Background()

	for _, value := range []float64{50, 52, 48, 51, 49} {
		if err := detector.UpdateBaselines(ctx, snapshotWithCPU(value, fakeClock.Now())); err != nil {
			t.Fatalf("UpdateBaselines: %v", err)
		}
	}

	found, err := detector.Detect(ctx, snapshotWithCPU(1, fakeClock.Now()))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	var cpu *observe.Anomaly
	for i := range found {
		if found[i].Metric == "cpu_percent" {
			cpu = &found[i]
		}
	}
	if cpu == nil {
		t.Fatal("drop to 1 not flagged against a ~50 baseline")
	}
	if cpu.Deviation >= 0 {
		t.Errorf("Deviation = %v, want negative for a drop", cpu.Deviation)
	}
}

func TestFoldFromNilBaseline(t *testing.T) {
	folded := fold(nil, "api", "cpu_percent", 42)
	if folded.SampleCount != 1 {
		t.Errorf("SampleCount = %d, want 1", folded.SampleCount)
	}
	if folded.Mean != 42 {
		t.Errorf("Mean = %v, want 42", folded.Mean)
	}
	if folded.Stddev != 0 {
		t.Errorf("Stddev = %v, want 0 for a single sample", folded.Stddev)
	}
}
