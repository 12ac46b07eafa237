// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package procmon captures process metrics for registered services,
// resolving the process by PID or by listening port. Capture is best
// effort: an unobservable process yields nil metrics, not an error,
// so snapshots degrade instead of failing.
package procmon

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/vigil-obs/vigil/lib/clock"
	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// Monitor implements snapshot.Capturer on top of the host process
// table.
type Monitor struct {
	clock  clock.Clock
	logger *slog.Logger
}

// New returns a monitor stamping captures with the given clock.
func New(clk clock.Clock, logger *slog.Logger) *Monitor {
	return &Monitor{clock: clk, logger: logger}
}

// Capture reads point-in-time metrics for the service's process. The
// process is found by the registered PID, or by scanning listening
// sockets when only a port is known. Returns (nil, nil) when no
// process can be resolved or it disappears mid-read.
func (m *Monitor) Capture(ctx context.Context, service observe.ServiceInfo, interval time.Duration) (*observe.ProcessMetrics, error) {
	pid := service.PID
	if pid <= 0 && service.Port > 0 {
		pid = m.findByPort(ctx, service.Port)
	}
	if pid <= 0 {
		return nil, nil
	}

	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		m.logger.Debug("process not found", "service", service.Name, "pid", pid)
		return nil, nil
	}

	metrics := &observe.ProcessMetrics{
		PID:        pid,
		Status:     observe.StatusUnknown,
		CapturedAt: m.clock.Now(),
	}

	// Percent blocks for the sample interval to measure a rate rather
	// than a lifetime average.
	if cpu, err := proc.PercentWithContext(ctx, interval); err == nil {
		metrics.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		metrics.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		metrics.NumThreads = int(threads)
	}
	if conns, err := proc.ConnectionsWithContext(ctx); err == nil {
		metrics.NumConnections = len(conns)
	}
	if status, err := proc.StatusWithContext(ctx); err == nil {
		metrics.Status = normalizeStatus(status)
	}
	return metrics, nil
}

// findByPort scans inet sockets for a listener on the port and
// returns its pid, or 0 when none is found.
func (m *Monitor) findByPort(ctx context.Context, port int) int {
	conns, err := net.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		m.logger.Debug("connection scan failed", "port", port, "error", err)
		return 0
	}
	for _, conn := range conns {
		if conn.Status == "LISTEN" && int(conn.Laddr.Port) == port && conn.Pid > 0 {
			return int(conn.Pid)
		}
	}
	return 0
}

func normalizeStatus(statuses []string) observe.ProcessStatus {
	if len(statuses) == 0 {
		return observe.StatusUnknown
	}
	switch statuses[0] {
	case process.Running:
		return observe.StatusRunning
	case process.Sleep, process.Idle:
		return observe.StatusSleeping
	case process.Stop:
		return observe.StatusStopped
	case process.Zombie:
		return observe.StatusZombie
	case process.Wait, process.Lock:
		return observe.StatusSleeping
	default:
		return observe.StatusUnknown
	}
}
