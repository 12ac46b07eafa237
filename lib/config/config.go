// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Vigil.
//
// Configuration is resolved in three layers: built-in defaults, a
// .vigil/config.yaml file under the data root, and VIGIL_* environment
// variables. Later layers win. Every knob has a working default, so a
// missing config file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DataDirName is the directory under the root holding the database
// and config file.
const DataDirName = ".vigil"

// Config is the master configuration for Vigil.
type Config struct {
	// Paths configures file locations.
	Paths PathsConfig `yaml:"paths"`

	// Ingest bounds log reading.
	Ingest IngestConfig `yaml:"ingest"`

	// Snapshot tunes health snapshot capture.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Query sets default result limits.
	Query QueryConfig `yaml:"query"`
}

// PathsConfig configures file locations.
type PathsConfig struct {
	// Root is the directory whose .vigil/ subdirectory holds all
	// Vigil state. Default: current working directory.
	Root string `yaml:"root"`

	// DBName is the database filename inside the data directory.
	DBName string `yaml:"db_name"`
}

// IngestConfig bounds log reading.
type IngestConfig struct {
	// TailLines is the maximum lines read per file per batch.
	TailLines int `yaml:"tail_lines"`

	// MaxLineLength truncates lines to this many bytes.
	MaxLineLength int `yaml:"max_line_length"`
}

// SnapshotConfig tunes health snapshot capture.
type SnapshotConfig struct {
	// ErrorWindowMinutes is the trailing window for error counts and
	// log rate.
	ErrorWindowMinutes int `yaml:"error_window_minutes"`

	// CPUSampleSeconds is how long the CPU usage sample blocks.
	CPUSampleSeconds float64 `yaml:"cpu_sample_seconds"`
}

// QueryConfig sets default result limits.
type QueryConfig struct {
	// SearchLimit bounds log search results.
	SearchLimit int `yaml:"search_limit"`

	// ListLimit bounds snapshot and anomaly listings.
	ListLimit int `yaml:"list_limit"`
}

// Default returns the built-in configuration. Every field is usable
// without a config file.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Root:   ".",
			DBName: "vigil.db",
		},
		Ingest: IngestConfig{
			TailLines:     100,
			MaxLineLength: 8192,
		},
		Snapshot: SnapshotConfig{
			ErrorWindowMinutes: 5,
			CPUSampleSeconds:   0.5,
		},
		Query: QueryConfig{
			SearchLimit: 50,
			ListLimit:   20,
		},
	}
}

// Load resolves configuration for the given root directory: defaults,
// then <root>/.vigil/config.yaml when present, then VIGIL_*
// environment variables. An empty root falls back to VIGIL_ROOT, then
// the current directory.
func Load(root string) (*Config, error) {
	cfg := Default()

	if root == "" {
		root = os.Getenv("VIGIL_ROOT")
	}
	if root != "" {
		cfg.Paths.Root = root
	}

	path := filepath.Join(cfg.Paths.Root, DataDirName, "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Defaults apply.
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies VIGIL_* environment overrides. Unparseable values
// are ignored rather than failing startup.
func (c *Config) applyEnv() {
	if v := os.Getenv("VIGIL_DB_NAME"); v != "" {
		c.Paths.DBName = v
	}
	if v, ok := envInt("VIGIL_TAIL_LINES"); ok {
		c.Ingest.TailLines = v
	}
	if v, ok := envInt("VIGIL_MAX_LINE_LENGTH"); ok {
		c.Ingest.MaxLineLength = v
	}
	if v, ok := envInt("VIGIL_ERROR_WINDOW_MINUTES"); ok {
		c.Snapshot.ErrorWindowMinutes = v
	}
	if v := os.Getenv("VIGIL_CPU_SAMPLE_SECONDS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			c.Snapshot.CPUSampleSeconds = parsed
		}
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.DBName == "" {
		errs = append(errs, fmt.Errorf("paths.db_name is required"))
	}
	if c.Ingest.TailLines <= 0 {
		errs = append(errs, fmt.Errorf("ingest.tail_lines must be positive"))
	}
	if c.Ingest.MaxLineLength <= 0 {
		errs = append(errs, fmt.Errorf("ingest.max_line_length must be positive"))
	}
	if c.Snapshot.ErrorWindowMinutes <= 0 {
		errs = append(errs, fmt.Errorf("snapshot.error_window_minutes must be positive"))
	}
	if c.Snapshot.CPUSampleSeconds < 0 {
		errs = append(errs, fmt.Errorf("snapshot.cpu_sample_seconds must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// DBPath returns the full path of the SQLite database file.
func (c *Config) DBPath() string {
	return filepath.Join(c.Paths.Root, DataDirName, c.Paths.DBName)
}

// ErrorWindow returns the snapshot error window as a duration.
func (c *Config) ErrorWindow() time.Duration {
	return time.Duration(c.Snapshot.ErrorWindowMinutes) * time.Minute
}

// CPUSampleInterval returns the CPU sampling interval as a duration.
func (c *Config) CPUSampleInterval() time.Duration {
	return time.Duration(c.Snapshot.CPUSampleSeconds * float64(time.Second))
}
