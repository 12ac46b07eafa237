// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vigil-obs/vigil/lib/logparse"
	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/store"
)

// Ingester pulls log lines from files and writes them to the store.
type Ingester struct {
	store  *store.Store
	logger *slog.Logger
}

// New returns an ingester writing to the given store.
func New(st *store.Store, logger *slog.Logger) *Ingester {
	return &Ingester{store: st, logger: logger}
}

// IngestOnce tails each path, parses the lines, and inserts them as
// one batch per file. A missing or unreadable file is logged and
// skipped; it contributes zero without aborting the remaining paths.
// Returns the total number of entries inserted.
func (in *Ingester) IngestOnce(ctx context.Context, serviceName string, paths []string, cfg Config) (int, error) {
	cfg = cfg.withDefaults()

	total := 0
	for _, path := range paths {
		lines, err := Tail(path, cfg.TailLines, cfg.MaxLineLength)
		if err != nil {
			in.logger.Warn("skipping unreadable log file",
				"service", serviceName, "path", path, "error", err)
			continue
		}
		if len(lines) == 0 {
			continue
		}

		entries := parseLines(lines, serviceName, path)
		count, err := in.store.InsertLogEntries(ctx, entries)
		if err != nil {
			return total, fmt.Errorf("ingest: %s: %w", path, err)
		}
		total += count
	}
	return total, nil
}

// parseLines parses a batch of lines from one file. The format is
// detected once from the first non-blank line and used as the hint for
// the whole batch, so a file of uniform shape is not re-detected per
// line. Blank lines are dropped.
func parseLines(lines []string, serviceName, sourceFile string) []observe.LogEntry {
	hint := logparse.FormatAuto
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			hint = logparse.DetectFormat(line)
			break
		}
	}

	entries := make([]observe.LogEntry, 0, len(lines))
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entries = append(entries, logparse.ParseLine(line, serviceName, sourceFile, hint))
	}
	return entries
}
