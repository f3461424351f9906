// qpformat command
//
// Global flags (--config, --audit-file, --precision) are resolved with
// the environment and the settings file before the command runs.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/agilira/qpformat"
	"github.com/agilira/qpformat/cmd/cli"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	config := qpformat.NewConfigManager("qpformat").
		SetDescription("Quantitative phase imaging format tool").
		SetVersion(cli.Version)

	global, rest := config.SplitArgs(args)
	if err := config.Parse(global); err != nil {
		return err
	}
	settings, err := config.Settings()
	if err != nil {
		return err
	}

	auditLogger, err := settings.OpenAudit()
	if err != nil {
		return err
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}()

	return cli.NewManager().
		WithSettings(settings).
		WithAudit(auditLogger).
		Run(rest)
}
