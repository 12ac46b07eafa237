// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
	"github.com/vigil-obs/vigil/lib/toolserver"
	"github.com/vigil-obs/vigil/lib/version"
)

func newMCPCommand() *cli.Command {
	return &cli.Command{
		Name:    "mcp",
		Summary: "Serve the observation tools over the Model Context Protocol on stdio.",
		Usage:   "vigil mcp",
		Flags:   func() *pflag.FlagSet { return newFlagSet("mcp") },
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := toolserver.NewServer(a.store, a.orchestrator, a.logger, version.Version)
			a.logger.Info("serving MCP on stdio")
			return server.Run(ctx)
		},
	}
}
