// Package cli provides the qpformat command-line interface.
//
// The commands detect the format of phase-imaging files, describe the
// datasets they hold and convert them to qpimage series containers.
//
// Architecture:
// - Manager: command registration and routing on top of Orpheus
// - Handlers: one per command, thin wrappers around testable methods
// - Utils: load options and output helpers shared by the handlers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/qpformat"
)

// Version of the qpformat command.
const Version = "0.3.0"

// Manager routes qpformat commands. Output goes to os.Stdout unless
// WithOutput is used.
type Manager struct {
	app         *orpheus.App
	settings    qpformat.Settings
	auditLogger *qpformat.AuditLogger // optional
	out         io.Writer
}

// NewManager creates a manager with default settings and registers all
// commands.
func NewManager() *Manager {
	app := orpheus.New("qpformat").
		SetDescription("Detect, inspect and convert quantitative phase imaging data").
		SetVersion(Version)

	manager := &Manager{
		app:      app,
		settings: qpformat.DefaultSettings(),
		out:      os.Stdout,
	}

	manager.setupDatasetCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithSettings replaces the settings every command loads data with.
func (m *Manager) WithSettings(s qpformat.Settings) *Manager {
	m.settings = s
	return m
}

// WithAudit records command invocations and dataset provenance.
func (m *Manager) WithAudit(auditLogger *qpformat.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// WithOutput redirects command output.
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// Run executes the command line args (without the program name).
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupDatasetCommands registers detect, info and convert.
func (m *Manager) setupDatasetCommands() {
	// detect <path> [--format=]
	detectCmd := orpheus.NewCommand("detect", "Print the format of a file or directory").
		AddFlag("format", "f", "", "Check against this format instead of detecting").
		SetHandler(m.handleDetect)
	m.app.AddCommand(detectCmd)

	// info <path> [--format=] [--meta=] [--meta-file=] [--kw=] [--list]
	infoCmd := orpheus.NewCommand("info", "Describe the dataset in a file or directory").
		AddFlag("format", "f", "", "File format (default: detect)").
		AddFlag("meta", "m", "", "Metadata as key=value pairs, comma separated").
		AddFlag("meta-file", "", "", "Metadata from a YAML file (--meta wins)").
		AddFlag("kw", "k", "", "Retrieve keywords as key=value pairs, comma separated").
		SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("list", "l", false, "List every image with its time")
	m.app.AddCommand(infoCmd)

	// convert <input> <output.qps> [flags]
	convertCmd := orpheus.NewCommand("convert", "Export a dataset to a qpimage series container").
		AddFlag("format", "f", "", "Input format (default: detect)").
		AddFlag("meta", "m", "", "Metadata as key=value pairs, comma separated").
		AddFlag("meta-file", "", "", "Metadata from a YAML file (--meta wins)").
		AddFlag("kw", "k", "", "Retrieve keywords as key=value pairs, comma separated").
		AddFlag("bg", "b", "", "Background file or directory").
		AddFlag("bg-format", "", "", "Background format (default: detect)").
		AddFlag("window", "w", "", "Time window lo:hi in seconds since the epoch").
		AddFlag("crop", "c", "", "Crop window r0:r1:c0:c1").
		AddFlag("compression", "z", "zstd", "Plane compression (none|lz4|zstd|bg8_lz4)").
		SetHandler(m.handleConvert)
	convertCmd.AddIntFlag("start", "s", 0, "First index to export")
	convertCmd.AddIntFlag("stop", "e", 0, "Index after the last one to export (0: end)")
	convertCmd.AddBoolFlag("quiet", "q", false, "Do not report progress")
	m.app.AddCommand(convertCmd)
}

// setupUtilityCommands registers formats and the audit group.
func (m *Manager) setupUtilityCommands() {
	formatsCmd := orpheus.NewCommand("formats", "List the registered formats in dispatch order").
		SetHandler(m.handleFormats)
	m.app.AddCommand(formatsCmd)

	auditCmd := orpheus.NewCommand("audit", "Audit trail management")
	auditCmd.Subcommand("stats", "Summarize the audit trail", m.handleAuditStats)
	auditCmd.Subcommand("history", "List the recorded events of a dataset", m.handleAuditHistory)
	m.app.AddCommand(auditCmd)
}
