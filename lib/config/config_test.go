// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Ingest.TailLines != 100 {
		t.Errorf("TailLines = %d, want 100", cfg.Ingest.TailLines)
	}
	if cfg.Ingest.MaxLineLength != 8192 {
		t.Errorf("MaxLineLength = %d, want 8192", cfg.Ingest.MaxLineLength)
	}
	if cfg.Snapshot.ErrorWindowMinutes != 5 {
		t.Errorf("ErrorWindowMinutes = %d, want 5", cfg.Snapshot.ErrorWindowMinutes)
	}
	if cfg.ErrorWindow() != 5*time.Minute {
		t.Errorf("ErrorWindow = %v, want 5m", cfg.ErrorWindow())
	}
	if cfg.CPUSampleInterval() != 500*time.Millisecond {
		t.Errorf("CPUSampleInterval = %v, want 500ms", cfg.CPUSampleInterval())
	}
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := `
ingest:
  tail_lines: 250
snapshot:
  error_window_minutes: 10
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.TailLines != 250 {
		t.Errorf("TailLines = %d, want 250 from the file", cfg.Ingest.TailLines)
	}
	if cfg.Snapshot.ErrorWindowMinutes != 10 {
		t.Errorf("ErrorWindowMinutes = %d, want 10 from the file", cfg.Snapshot.ErrorWindowMinutes)
	}
	// Untouched knobs keep their defaults.
	if cfg.Ingest.MaxLineLength != 8192 {
		t.Errorf("MaxLineLength = %d, want the default", cfg.Ingest.MaxLineLength)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, DataDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("ingest:\n  tail_lines: 250\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("VIGIL_TAIL_LINES", "500")

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.TailLines != 500 {
		t.Errorf("TailLines = %d, want the env override 500", cfg.Ingest.TailLines)
	}
}

func TestEnvUnparseableIgnored(t *testing.T) {
	t.Setenv("VIGIL_TAIL_LINES", "not a number")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ingest.TailLines != 100 {
		t.Errorf("TailLines = %d, want the default when the env value is junk", cfg.Ingest.TailLines)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Ingest.TailLines = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted tail_lines = 0")
	}

	cfg = Default()
	cfg.Paths.DBName = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Validate accepted an empty db name")
	}
}

func TestDBPath(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = "/srv/app"

	want := filepath.Join("/srv/app", DataDirName, "vigil.db")
	if got := cfg.DBPath(); got != want {
		t.Errorf("DBPath = %q, want %q", got, want)
	}
}
