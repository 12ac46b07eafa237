// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigil-obs/vigil/lib/schema/observe"
	"github.com/vigil-obs/vigil/lib/testutil"
)

const followTimeout = 5 * time.Second

func TestFollowIngestsAppendedLines(t *testing.T) {
	ingester, st := newTestIngester(t)

	path := filepath.Join(t.TempDir(), "api.log")
	if err := os.WriteFile(path, []byte("existing line\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	counts, err := ingester.Follow(ctx, "api", []string{path}, Config{})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := file.WriteString(`{"level":"error","message":"appended failure"}` + "\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	count := testutil.RequireReceive(t, counts, followTimeout, "waiting for appended ingest")
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	// Only the appended line was ingested; the pre-existing content
	// stayed out.
	entries, err := st.SearchLogs(context.Background(), "appended", "", "", 0)
	if err != nil {
		t.Fatalf("SearchLogs: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("SearchLogs = %d entries, want 1", len(entries))
	}
	if entries[0].Level != observe.LevelError {
		t.Errorf("Level = %v, want error", entries[0].Level)
	}
	existing, err := st.SearchLogs(context.Background(), "existing", "", "", 0)
	if err != nil {
		t.Fatalf("SearchLogs: %v", err)
	}
	if len(existing) != 0 {
		t.Errorf("pre-existing content was ingested: %+v", existing)
	}
}

func TestFollowClosesOnCancel(t *testing.T) {
	ingester, _ := newTestIngester(t)

	path := filepath.Join(t.TempDir(), "api.log")
	if err := os.WriteFile(path, []byte(""), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	counts, err := ingester.Follow(ctx, "api", []string{path}, Config{})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}

	cancel()
	testutil.RequireClosed(t, counts, followTimeout, "channel close after cancel")
}

func TestFollowNoWatchableFiles(t *testing.T) {
	ingester, _ := newTestIngester(t)

	counts, err := ingester.Follow(context.Background(), "api",
		[]string{filepath.Join(t.TempDir(), "absent.log")}, Config{})
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	testutil.RequireClosed(t, counts, followTimeout, "closed channel for no watchable files")
}
