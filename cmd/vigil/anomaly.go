// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
)

func newAnomaliesCommand() *cli.Command {
	var (
		serviceName string
		window      time.Duration
		limit       int
	)
	return &cli.Command{
		Name:    "anomalies",
		Summary: "Show recently detected metric anomalies.",
		Usage:   "vigil anomalies [--service NAME] [--window DUR] [--limit N]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("anomalies")
			fs.StringVar(&serviceName, "service", "", "restrict to one service")
			fs.DurationVar(&window, "window", 24*time.Hour, "trailing window to report")
			fs.IntVar(&limit, "limit", 50, "maximum results")
			return fs
		},
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			anomalies, err := a.store.RecentAnomalies(context.Background(), serviceName, window, limit)
			if err != nil {
				return err
			}
			if len(anomalies) == 0 {
				fmt.Println("no anomalies")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "AT\tSERVICE\tMETRIC\tVALUE\tMEAN\tDEVIATION")
			for _, anomaly := range anomalies {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%s\n",
					anomaly.DetectedAt.Format(time.RFC3339),
					anomaly.ServiceName,
					anomaly.Metric,
					anomaly.CurrentValue,
					anomaly.BaselineMean,
					formatDeviation(anomaly.Deviation),
				)
			}
			return tw.Flush()
		},
	}
}

func newBaselinesCommand() *cli.Command {
	return &cli.Command{
		Name:    "baselines",
		Summary: "Show a service's rolling metric baselines.",
		Usage:   "vigil baselines <service>",
		Flags:   func() *pflag.FlagSet { return newFlagSet("baselines") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			baselines, err := a.store.ListBaselines(context.Background(), args[0])
			if err != nil {
				return err
			}
			if len(baselines) == 0 {
				fmt.Println("no baselines yet; capture some snapshots first")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "METRIC\tMEAN\tSTDDEV\tSAMPLES\tUPDATED")
			for _, baseline := range baselines {
				fmt.Fprintf(tw, "%s\t%.4f\t%.4f\t%d\t%s\n",
					baseline.Metric,
					baseline.Mean,
					baseline.Stddev,
					baseline.SampleCount,
					baseline.UpdatedAt.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}

// formatDeviation renders the signed sigma distance, including the
// infinite case produced by zero-stddev baselines.
func formatDeviation(deviation float64) string {
	if math.IsInf(deviation, 1) {
		return "+inf"
	}
	if math.IsInf(deviation, -1) {
		return "-inf"
	}
	return fmt.Sprintf("%+.2fσ", deviation)
}
