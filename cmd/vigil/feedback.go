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
	"github.com/vigil-obs/vigil/lib/schema/observe"
)

func newFeedbackCommand() *cli.Command {
	var (
		targetType string
		outcome    string
		note       string
		list       bool
		limit      int
	)
	return &cli.Command{
		Name:    "feedback",
		Summary: "Record or list judgments about snapshots and comparisons.",
		Usage:   "vigil feedback <target-id> --outcome OUTCOME [--note TEXT] | vigil feedback --list [target-id]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("feedback")
			fs.StringVar(&targetType, "type", "snapshot", "what the target id refers to (snapshot, comparison)")
			fs.StringVar(&outcome, "outcome", "", "judgment to record (e.g. accurate, noisy, missed)")
			fs.StringVar(&note, "note", "", "free-form context for the judgment")
			fs.BoolVar(&list, "list", false, "list recorded feedback instead of writing")
			fs.IntVar(&limit, "limit", 50, "maximum results when listing")
			return fs
		},
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()
			ctx := context.Background()

			if list {
				targetID := ""
				if len(args) > 0 {
					targetID = args[0]
				}
				records, err := a.store.ListFeedback(ctx, targetID, limit)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Println("no feedback recorded")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
				fmt.Fprintln(tw, "AT\tTARGET\tTYPE\tOUTCOME\tCONTEXT")
				for _, record := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						record.CreatedAt.Format(time.RFC3339),
						shortID(record.TargetID),
						record.TargetType,
						record.Outcome,
						record.Context,
					)
				}
				return tw.Flush()
			}

			if len(args) != 1 {
				return fmt.Errorf("expected exactly one target id, got %d args", len(args))
			}
			if outcome == "" {
				return fmt.Errorf("--outcome is required when recording feedback")
			}
			err = a.store.SaveFeedback(ctx, observe.Feedback{
				TargetID:   args[0],
				TargetType: targetType,
				Outcome:    outcome,
				Context:    note,
			})
			if err != nil {
				return err
			}
			fmt.Printf("feedback recorded for %s\n", shortID(args[0]))
			return nil
		},
	}
}

func newAuditCommand() *cli.Command {
	var (
		toolName string
		window   time.Duration
		limit    int
	)
	return &cli.Command{
		Name:    "audit",
		Summary: "Show the audit trail of tool invocations.",
		Usage:   "vigil audit [--tool NAME] [--window DUR] [--limit N]",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("audit")
			fs.StringVar(&toolName, "tool", "", "restrict to one tool")
			fs.DurationVar(&window, "window", 0, "trailing window (0 = unbounded)")
			fs.IntVar(&limit, "limit", 50, "maximum results")
			return fs
		},
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.store.QueryAudit(context.Background(), toolName, window, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no audit entries")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "AT\tTOOL\tPARAMETERS\tRESULT")
			for _, entry := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					entry.CreatedAt.Format(time.RFC3339),
					entry.ToolName,
					entry.Parameters,
					entry.ResultSummary,
				)
			}
			return tw.Flush()
		},
	}
}

// shortID abbreviates 32-hex ids to their 8-character prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
