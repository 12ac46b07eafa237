// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
	"github.com/vigil-obs/vigil/lib/schema/observe"
)

// lookupService fetches a registered service or fails with a clear
// error.
func lookupService(ctx context.Context, a *app, name string) (*observe.ServiceInfo, error) {
	service, err := a.store.GetService(ctx, name)
	if err != nil {
		return nil, err
	}
	if service == nil {
		return nil, fmt.Errorf("service %q is not registered", name)
	}
	return service, nil
}

func newIngestCommand() *cli.Command {
	return &cli.Command{
		Name:    "ingest",
		Summary: "Read the tail of a service's log files into the store.",
		Usage:   "vigil ingest <service>",
		Flags:   func() *pflag.FlagSet { return newFlagSet("ingest") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			service, err := lookupService(ctx, a, args[0])
			if err != nil {
				return err
			}
			count, err := a.ingester.IngestOnce(ctx, service.Name, service.LogPaths, ingestConfig(a.cfg))
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d entries from %d files\n", count, len(service.LogPaths))
			return nil
		},
	}
}

func newFollowCommand() *cli.Command {
	return &cli.Command{
		Name:    "follow",
		Summary: "Continuously ingest appended log lines until interrupted.",
		Usage:   "vigil follow <service>",
		Flags:   func() *pflag.FlagSet { return newFlagSet("follow") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := lookupService(ctx, a, args[0])
			if err != nil {
				return err
			}
			counts, err := a.ingester.Follow(ctx, service.Name, service.LogPaths, ingestConfig(a.cfg))
			if err != nil {
				return err
			}

			a.logger.Info("following logs", "service", service.Name, "files", len(service.LogPaths))
			total := 0
			for count := range counts {
				total += count
				if count > 0 {
					a.logger.Info("ingested", "service", service.Name, "entries", count)
				}
			}
			fmt.Printf("ingested %d entries\n", total)
			return nil
		},
	}
}

func newLogsCommand() *cli.Command {
	var (
		serviceName string
		level       string
		limit       int
	)
	return &cli.Command{
		Name:    "logs",
		Summary: "Full-text search over ingested log messages.",
		Usage:   "vigil logs <query> [--service NAME] [--level LEVEL] [--limit N]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("logs")
			fs.StringVar(&serviceName, "service", "", "restrict to one service")
			fs.StringVar(&level, "level", "", "restrict to one level (critical, error, warning, info, debug, unknown)")
			fs.IntVar(&limit, "limit", 0, "maximum results (default from config)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one query string, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if limit <= 0 {
				limit = a.cfg.Query.SearchLimit
			}
			entries, err := a.store.SearchLogs(context.Background(),
				args[0], serviceName, observe.LogLevel(level), limit)
			if err != nil {
				return err
			}
			printLogEntries(entries)
			return nil
		},
	}
}

func newErrorsCommand() *cli.Command {
	var (
		serviceName string
		window      time.Duration
		limit       int
	)
	return &cli.Command{
		Name:    "errors",
		Summary: "Show recently ingested error and critical entries.",
		Usage:   "vigil errors [--service NAME] [--window DUR] [--limit N]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("errors")
			fs.StringVar(&serviceName, "service", "", "restrict to one service")
			fs.DurationVar(&window, "window", time.Hour, "trailing window to report")
			fs.IntVar(&limit, "limit", 0, "maximum results (default from config)")
			return fs
		},
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if limit <= 0 {
				limit = a.cfg.Query.SearchLimit
			}
			entries, err := a.store.RecentErrors(context.Background(), serviceName, window, limit)
			if err != nil {
				return err
			}
			printLogEntries(entries)
			return nil
		},
	}
}

func printLogEntries(entries []observe.LogEntry) {
	if len(entries) == 0 {
		fmt.Println("no matching entries")
		return
	}
	for _, entry := range entries {
		timestamp := entry.IngestedAt
		if !entry.Timestamp.IsZero() {
			timestamp = entry.Timestamp
		}
		fmt.Printf("%s  %-8s %-12s %s\n",
			timestamp.Format(time.RFC3339), entry.Level, entry.ServiceName, entry.Message)
	}
}
