// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// nanosOrNil converts a timestamp to Unix nanoseconds for storage,
// mapping the zero time to NULL.
func nanosOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func timeFromNanos(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}

// RegisterService registers a service, replacing every field of an
// existing registration with the same name.
func (s *Store) RegisterService(ctx context.Context, service observe.ServiceInfo) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: register service: %w", err)
	}
	defer s.pool.Put(conn)

	paths, err := json.Marshal(service.LogPaths)
	if err != nil {
		return fmt.Errorf("store: marshal log paths: %w", err)
	}

	registeredAt := service.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = s.clock.Now()
	}

	var pid, port any
	if service.PID > 0 {
		pid = service.PID
	}
	if service.Port > 0 {
		port = service.Port
	}

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO services(name, pid, port, log_paths, registered_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{service.Name, pid, port, string(paths), registeredAt.UnixNano()},
		})
	if err != nil {
		return fmt.Errorf("store: register service %q: %w", service.Name, err)
	}
	return nil
}

// UnregisterService deletes a service and, via the schema's cascade
// rules, every log entry, snapshot, baseline, and anomaly that
// references it. Reports whether a registration existed.
func (s *Store) UnregisterService(ctx context.Context, name string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: unregister service: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"DELETE FROM services WHERE name = ?",
		&sqlitex.ExecOptions{Args: []any{name}})
	if err != nil {
		return false, fmt.Errorf("store: unregister service %q: %w", name, err)
	}
	return conn.Changes() > 0, nil
}

// GetService returns a service by name, or nil when not registered.
func (s *Store) GetService(ctx context.Context, name string) (*observe.ServiceInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: get service: %w", err)
	}
	defer s.pool.Put(conn)

	var service *observe.ServiceInfo
	err = sqlitex.Execute(conn,
		"SELECT name, pid, port, log_paths, registered_at FROM services WHERE name = ?",
		&sqlitex.ExecOptions{
			Args: []any{name},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned, err := scanService(stmt)
				if err != nil {
					return err
				}
				service = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get service %q: %w", name, err)
	}
	return service, nil
}

// ListServices returns all registered services ordered by name.
func (s *Store) ListServices(ctx context.Context) ([]observe.ServiceInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list services: %w", err)
	}
	defer s.pool.Put(conn)

	var services []observe.ServiceInfo
	err = sqlitex.Execute(conn,
		"SELECT name, pid, port, log_paths, registered_at FROM services ORDER BY name",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				service, err := scanService(stmt)
				if err != nil {
					return err
				}
				services = append(services, service)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list services: %w", err)
	}
	return services, nil
}

func scanService(stmt *sqlite.Stmt) (observe.ServiceInfo, error) {
	service := observe.ServiceInfo{
		Name:         stmt.ColumnText(0),
		PID:          stmt.ColumnInt(1),
		Port:         stmt.ColumnInt(2),
		RegisteredAt: timeFromNanos(stmt.ColumnInt64(4)),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &service.LogPaths); err != nil {
		return service, fmt.Errorf("unmarshal log paths for %q: %w", service.Name, err)
	}
	return service, nil
}
