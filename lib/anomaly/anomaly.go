// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package anomaly maintains per-service metric baselines with
// Welford's online algorithm and flags observations that deviate from
// them. Baselines live in the store, so detection works across
// process restarts without replaying history.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/store"
)

// DefaultSigma is the deviation threshold, in standard deviations,
// above which an observation is flagged.
const DefaultSigma = 2.0

// minSamples is the baseline size below which detection stays quiet.
// With fewer observations the stddev estimate is too noisy to act on.
const minSamples = 3

// trackedMetrics are the snapshot fields baselines are kept for.
var trackedMetrics = []string{"cpu_percent", "memory_mb", "error_count", "log_rate"}

// Detector updates baselines and reports deviations.
type Detector struct {
	store  *store.Store
	logger *slog.Logger

	// Sigma is the detection threshold. Zero means DefaultSigma.
	Sigma float64
}

// New returns a detector backed by the given store.
func New(st *store.Store, logger *slog.Logger) *Detector {
	return &Detector{store: st, logger: logger}
}

func (d *Detector) sigma() float64 {
	if d.Sigma > 0 {
		return d.Sigma
	}
	return DefaultSigma
}

// UpdateBaselines folds a snapshot's metric values into the stored
// baselines. Every observation updates its baseline unconditionally,
// outliers included; a drifting workload therefore pulls the baseline
// along rather than being flagged forever.
func (d *Detector) UpdateBaselines(ctx context.Context, snapshot observe.HealthSnapshot) error {
	metrics := extractMetrics(snapshot)
	for _, metric := range trackedMetrics {
		value, ok := metrics[metric]
		if !ok {
			continue
		}
		baseline, err := d.store.GetBaseline(ctx, snapshot.ServiceName, metric)
		if err != nil {
			return fmt.Errorf("anomaly: update %s: %w", metric, err)
		}

		updated := fold(baseline, snapshot.ServiceName, metric, value)
		if err := d.store.UpsertBaseline(ctx, updated); err != nil {
			return fmt.Errorf("anomaly: update %s: %w", metric, err)
		}
	}
	return nil
}

// fold applies one Welford step. The running M2 is reconstructed from
// the stored stddev and count, so the stored pair stays the only state.
func fold(baseline *observe.MetricBaseline, serviceName, metric string, value float64) observe.MetricBaseline {
	if baseline == nil {
		baseline = &observe.MetricBaseline{ServiceName: serviceName, Metric: metric}
	}

	n := baseline.SampleCount + 1
	delta := value - baseline.Mean
	mean := baseline.Mean + delta/float64(n)
	m2 := baseline.Stddev*baseline.Stddev*float64(baseline.SampleCount) + delta*(value-mean)
	stddev := math.Sqrt(math.Max(0, m2/float64(n)))

	return observe.MetricBaseline{
		ServiceName: serviceName,
		Metric:      metric,
		Mean:        round(mean, 4),
		Stddev:      round(stddev, 4),
		SampleCount: n,
	}
}

// Detect compares a snapshot's metrics against their baselines and
// persists any deviations found. Metrics without a baseline, or with
// fewer than three samples, are skipped. A zero-stddev baseline flags
// any differing value with an infinite deviation.
func (d *Detector) Detect(ctx context.Context, snapshot observe.HealthSnapshot) ([]observe.Anomaly, error) {
	var found []observe.Anomaly
	metrics := extractMetrics(snapshot)
	for _, metric := range trackedMetrics {
		value, ok := metrics[metric]
		if !ok {
			continue
		}
		baseline, err := d.store.GetBaseline(ctx, snapshot.ServiceName, metric)
		if err != nil {
			return nil, fmt.Errorf("anomaly: detect %s: %w", metric, err)
		}
		if baseline == nil || baseline.SampleCount < minSamples {
			continue
		}

		var deviation float64
		if baseline.Stddev == 0 {
			if value == baseline.Mean {
				continue
			}
			deviation = math.Inf(1)
			if value < baseline.Mean {
				deviation = math.Inf(-1)
			}
		} else {
			z := (value - baseline.Mean) / baseline.Stddev
			if math.Abs(z) < d.sigma() {
				continue
			}
			deviation = round(z, 2)
		}

		anomaly := observe.Anomaly{
			ServiceName:    snapshot.ServiceName,
			Metric:         metric,
			CurrentValue:   value,
			BaselineMean:   baseline.Mean,
			BaselineStddev: baseline.Stddev,
			Deviation:      deviation,
			DetectedAt:     snapshot.SnapshotAt,
		}
		if err := d.store.SaveAnomaly(ctx, anomaly); err != nil {
			return nil, fmt.Errorf("anomaly: save %s: %w", metric, err)
		}
		d.logger.Info("anomaly detected",
			"service", snapshot.ServiceName, "metric", metric,
			"value", value, "mean", baseline.Mean, "deviation", deviation)
		found = append(found, anomaly)
	}
	return found, nil
}

// extractMetrics pulls the tracked values out of a snapshot. CPU and
// memory are absent when the snapshot has no process metrics;
// error_count and log_rate are always present.
func extractMetrics(snapshot observe.HealthSnapshot) map[string]float64 {
	metrics := map[string]float64{
		"error_count": float64(snapshot.ErrorCount),
		"log_rate":    snapshot.LogRate,
	}
	if snapshot.Metrics != nil {
		metrics["cpu_percent"] = snapshot.Metrics.CPUPercent
		metrics["memory_mb"] = snapshot.Metrics.MemoryMB
	}
	return metrics
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
