// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesSubcommand(t *testing.T) {
	var ran []string
	root := &Command{
		Name: "vigil",
		Subcommands: []*Command{
			{
				Name: "services",
				Run: func(args []string) error {
					ran = append(ran, "services")
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"services"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(ran) != 1 || ran[0] != "services" {
		t.Errorf("ran = %v", ran)
	}
}

func TestExecuteUnknownSubcommand(t *testing.T) {
	root := &Command{
		Name:        "vigil",
		Subcommands: []*Command{{Name: "services", Run: func([]string) error { return nil }}},
	}

	err := root.Execute([]string{"servicez"})
	if err == nil {
		t.Fatal("Execute accepted an unknown subcommand")
	}
	if !strings.Contains(err.Error(), "servicez") {
		t.Errorf("error %q does not name the unknown command", err)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var limit int
	var got []string
	cmd := &Command{
		Name: "logs",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			fs.IntVar(&limit, "limit", 50, "")
			return fs
		},
		Run: func(args []string) error {
			got = args
			return nil
		},
	}

	if err := cmd.Execute([]string{"--limit", "10", "timeout"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if limit != 10 {
		t.Errorf("limit = %d, want 10", limit)
	}
	if len(got) != 1 || got[0] != "timeout" {
		t.Errorf("positional args = %v", got)
	}
}

func TestExecuteRequiresSubcommand(t *testing.T) {
	root := &Command{
		Name:        "vigil",
		Subcommands: []*Command{{Name: "services", Run: func([]string) error { return nil }}},
	}

	if err := root.Execute(nil); err == nil {
		t.Fatal("Execute with no args and no Run did not fail")
	}
}
