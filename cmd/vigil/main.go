// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

// Command vigil observes local services: it registers them, tails and
// indexes their logs, captures health snapshots with process metrics,
// and flags metric anomalies against rolling baselines. State lives in
// a single SQLite file under <root>/.vigil/.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
)

// Flags shared by every data-touching subcommand.
var (
	flagRoot    string
	flagVerbose bool
)

// newFlagSet returns a flag set pre-loaded with the shared flags.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVar(&flagRoot, "root", "", "data root directory (default: $VIGIL_ROOT or .)")
	fs.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	return fs
}

func main() {
	root := &cli.Command{
		Name:    "vigil",
		Summary: "Local service observation: log ingest, health snapshots, anomaly detection.",
		Subcommands: []*cli.Command{
			newRegisterCommand(),
			newUnregisterCommand(),
			newServicesCommand(),
			newIngestCommand(),
			newFollowCommand(),
			newLogsCommand(),
			newErrorsCommand(),
			newSnapshotCommand(),
			newSnapshotsCommand(),
			newCompareCommand(),
			newAnomaliesCommand(),
			newBaselinesCommand(),
			newFeedbackCommand(),
			newAuditCommand(),
			newMCPCommand(),
			newVersionCommand(),
		},
	}

	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "vigil: %v\n", err)
		os.Exit(1)
	}
}
