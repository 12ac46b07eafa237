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

func newRegisterCommand() *cli.Command {
	var (
		pid      int
		port     int
		logPaths []string
	)
	return &cli.Command{
		Name:    "register",
		Summary: "Register a service for observation.",
		Usage:   "vigil register <name> [--pid N] [--port N] [--log PATH]...",
		Flags: func() *pflag.FlagSet {
			fs := newFlagSet("register")
			fs.IntVar(&pid, "pid", 0, "process id of the service")
			fs.IntVar(&port, "port", 0, "listening port used to resolve the process")
			fs.StringArrayVar(&logPaths, "log", nil, "log file to ingest (repeatable)")
			return fs
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			service := observe.ServiceInfo{
				Name:     args[0],
				PID:      pid,
				Port:     port,
				LogPaths: logPaths,
			}
			if err := a.store.RegisterService(context.Background(), service); err != nil {
				return err
			}
			fmt.Printf("registered %s\n", service.Name)
			return nil
		},
	}
}

func newUnregisterCommand() *cli.Command {
	return &cli.Command{
		Name:    "unregister",
		Summary: "Remove a service and all its stored observations.",
		Usage:   "vigil unregister <name>",
		Flags:   func() *pflag.FlagSet { return newFlagSet("unregister") },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one service name, got %d args", len(args))
			}
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			removed, err := a.store.UnregisterService(context.Background(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("service %q is not registered", args[0])
			}
			fmt.Printf("unregistered %s\n", args[0])
			return nil
		},
	}
}

func newServicesCommand() *cli.Command {
	return &cli.Command{
		Name:    "services",
		Summary: "List registered services.",
		Usage:   "vigil services",
		Flags:   func() *pflag.FlagSet { return newFlagSet("services") },
		Run: func(args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			services, err := a.store.ListServices(context.Background())
			if err != nil {
				return err
			}
			if len(services) == 0 {
				fmt.Println("no services registered")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPID\tPORT\tLOGS\tREGISTERED")
			for _, service := range services {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					service.Name,
					orDash(service.PID),
					orDash(service.Port),
					len(service.LogPaths),
					service.RegisteredAt.Format(time.RFC3339),
				)
			}
			return tw.Flush()
		},
	}
}

func orDash(value int) string {
	if value <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", value)
}
