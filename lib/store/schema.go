// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"strconv"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// schemaVersion is the version this build of the store targets. The
// recorded version lives in vigil_meta under "schema_version",
// deliberately separate from table structure so that a brand-new
// database and a freshly-migrated old one converge to the same
// observable state.
const schemaVersion = 2

// baseSchema is the version-1 schema: services, log entries with the
// FTS5 message index, and snapshots. All timestamps are Unix
// nanoseconds (UTC); nullable ones are NULL when absent.
//
// The FTS index is external-content over log_entries and kept
// faithful by the insert/delete/update triggers, including deletes
// cascaded from service unregistration.
const baseSchema = `
CREATE TABLE IF NOT EXISTS vigil_meta (
	key   TEXT PRIMARY KEY,
	value TEXT
);

CREATE TABLE IF NOT EXISTS services (
	name          TEXT PRIMARY KEY,
	pid           INTEGER,
	port          INTEGER,
	log_paths     TEXT NOT NULL DEFAULT '[]',
	registered_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS log_entries (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
	timestamp    INTEGER,
	level        TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	source_file  TEXT NOT NULL DEFAULT '',
	raw_line     TEXT NOT NULL DEFAULT '',
	ingested_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_logs_service_ingested
	ON log_entries(service_name, ingested_at);
CREATE INDEX IF NOT EXISTS idx_logs_level
	ON log_entries(level);

CREATE VIRTUAL TABLE IF NOT EXISTS log_fts USING fts5(
	message,
	content='log_entries',
	content_rowid='id',
	tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS log_fts_insert AFTER INSERT ON log_entries BEGIN
	INSERT INTO log_fts(rowid, message) VALUES (new.id, new.message);
END;
CREATE TRIGGER IF NOT EXISTS log_fts_delete AFTER DELETE ON log_entries BEGIN
	INSERT INTO log_fts(log_fts, rowid, message) VALUES ('delete', old.id, old.message);
END;
CREATE TRIGGER IF NOT EXISTS log_fts_update AFTER UPDATE ON log_entries BEGIN
	INSERT INTO log_fts(log_fts, rowid, message) VALUES ('delete', old.id, old.message);
	INSERT INTO log_fts(rowid, message) VALUES (new.id, new.message);
END;

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id  TEXT PRIMARY KEY,
	service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
	snapshot_at  INTEGER NOT NULL,
	metrics      TEXT,
	error_count  INTEGER NOT NULL DEFAULT 0,
	log_rate     REAL NOT NULL DEFAULT 0.0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_service_time
	ON snapshots(service_name, snapshot_at);
`

// migrations maps a target version to the step that migrates from the
// previous version. Steps are idempotent and applied strictly in
// sequence; a gap in the chain aborts Open.
var migrations = map[int]func(conn *sqlite.Conn) error{
	2: migrateToV2,
}

// migrateToV2 adds the anomaly-detection and accountability tables:
// metric baselines, anomalies, feedback, and the audit log.
func migrateToV2(conn *sqlite.Conn) error {
	return sqlitex.ExecuteScript(conn, `
CREATE TABLE IF NOT EXISTS metric_baselines (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	service_name TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
	metric       TEXT NOT NULL,
	mean         REAL NOT NULL,
	stddev       REAL NOT NULL,
	sample_count INTEGER NOT NULL DEFAULT 0,
	updated_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_baselines_service_metric
	ON metric_baselines(service_name, metric);

CREATE TABLE IF NOT EXISTS anomalies (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	service_name    TEXT NOT NULL REFERENCES services(name) ON DELETE CASCADE,
	metric          TEXT NOT NULL,
	current_value   REAL NOT NULL,
	baseline_mean   REAL NOT NULL,
	baseline_stddev REAL NOT NULL,
	deviation       REAL NOT NULL,
	detected_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_anomalies_service_time
	ON anomalies(service_name, detected_at);

CREATE TABLE IF NOT EXISTS feedback (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	target_id   TEXT NOT NULL,
	target_type TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	context     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_target
	ON feedback(target_id, target_type);

CREATE TABLE IF NOT EXISTS audit_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_name      TEXT NOT NULL,
	parameters     TEXT NOT NULL DEFAULT '{}',
	result_summary TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_time
	ON audit_log(created_at);
`, nil)
}

// ensureSchema creates the base schema on first open, records the
// starting version, and walks the migration chain up to
// schemaVersion. Runs once during Open, before any other operation.
func (s *Store) ensureSchema(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, baseSchema, nil); err != nil {
		return fmt.Errorf("store: creating schema: %w", err)
	}

	recorded, err := getMeta(conn, "schema_version")
	if err != nil {
		return err
	}
	current := 1
	if recorded == "" {
		if err := setMeta(conn, "schema_version", "1"); err != nil {
			return err
		}
	} else {
		current, err = strconv.Atoi(recorded)
		if err != nil {
			return fmt.Errorf("store: unparseable schema version %q: %w", recorded, err)
		}
	}

	for version := current + 1; version <= schemaVersion; version++ {
		step, ok := migrations[version]
		if !ok {
			return fmt.Errorf("store: missing migration for schema version %d", version)
		}
		s.logger.Info("migrating store schema", "version", version)
		if err := step(conn); err != nil {
			return fmt.Errorf("store: migrating to version %d: %w", version, err)
		}
		if err := setMeta(conn, "schema_version", strconv.Itoa(version)); err != nil {
			return err
		}
	}
	return nil
}
