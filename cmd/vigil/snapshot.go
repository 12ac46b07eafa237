// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
)

func newSnapshotCommand() *cli.Command {
	var all bool
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Capture a health snapshot of a service (or all services).",
		Usage:   "vigil snapshot <service> | vigil snapshot --all",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("snapshot")
			fs.BoolVar(&all, "all", false, "snapshot every registered service")
			return fs
		},
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			if all {
				if len(args) != 0 {
					return fmt.Errorf("--all takes no service argument")
				}
				snapshots, err := a.orchestrator.CreateAllSnapshots(ctx)
				if err != nil {
					return err
				}
				for _, snapshot := range snapshots {
					fmt.Printf("%s  %s\n", snapshot.SnapshotID[:8], snapshot.ServiceName)
				}
				fmt.Printf("%d snapshots captured\n", len(snapshots))
				return nil
			}

			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			snapshot, err := a.orchestrator.CreateSnapshot(ctx, args[0])
			if err != nil {
				return err
			}
			return cli.PrintJSON(os.Stdout, snapshot)
		},
	}
}

func newSnapshotsCommand() *cli.Command {
	var (
		serviceName string
		limit       int
	)
	return &cli.Command{
		Name:    "snapshots",
		Summary: "List captured snapshots, newest first.",
		Usage:   "vigil snapshots [--service NAME] [--limit N]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("snapshots")
			fs.StringVar(&serviceName, "service", "", "restrict to one service")
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
				limit = a.cfg.Query.ListLimit
			}
			snapshots, err := a.store.ListSnapshots(context.Background(), serviceName, limit)
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println("no snapshots")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVICE\tAT\tERRORS\tLOG RATE\tCPU%\tMEM MB")
			for _, snapshot := range snapshots {
				cpu, mem := "-", "-"
				if snapshot.Metrics != nil {
					cpu = fmt.Sprintf("%.1f", snapshot.Metrics.CPUPercent)
					mem = fmt.Sprintf("%.1f", snapshot.Metrics.MemoryMB)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%s\t%s\n",
					snapshot.SnapshotID[:8],
					snapshot.ServiceName,
					snapshot.SnapshotAt.Format(time.RFC3339),
					snapshot.ErrorCount,
					snapshot.LogRate,
					cpu, mem,
				)
			}
			return tw.Flush()
		},
	}
}

func newCompareCommand() *cli.Command {
	return &cli.Command{
		Name:    "compare",
		Summary: "Diff two snapshots of the same service by id or id prefix.",
		Usage:   "vigil compare <before-id> <after-id>",
		Flags:   func() *pflag.FlagSet { return newFlagSet("compare") },
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected two snapshot ids, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			diff, err := a.orchestrator.CompareSnapshots(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			if diff == nil {
				return fmt.Errorf("snapshots not found or belong to different services")
			}
			return cli.PrintJSON(os.Stdout, diff)
		},
	}
}
