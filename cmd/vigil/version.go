// Copyright 2026 The Vigil Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/vigil-obs/vigil/cmd/vigil/cli"
	"github.com/vigil-obs/vigil/lib/version"
)

func newVersionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information.",
		Usage:   "vigil version",
		Run: func(args []string) error {
			fmt.Println(version.Full())
			return nil
		},
	}
}
