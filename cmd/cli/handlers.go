// Command handlers for the qpformat CLI
//
// Each handler reads its arguments from the Orpheus context and calls a
// method that takes plain values, so the commands are testable without
// going through argument parsing.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/qpformat"
	clihelp "github.com/agilira/qpformat/internal/cli"
)

// handleFormats lists the registered formats.
func (m *Manager) handleFormats(ctx *orpheus.Context) error {
	m.auditLogger.LogCommand("formats", "", nil)
	return m.listFormats()
}

func (m *Manager) listFormats() error {
	reg, err := m.settings.Registry()
	if err != nil {
		return err
	}
	for _, f := range reg.Formats() {
		kind := "single"
		if f.IsSeries() {
			kind = "series"
		}
		m.printf("%-28s %4d  %-6s  %s\n", f.Name(), f.Priority(), kind, f.StorageKind())
	}
	return nil
}

// handleDetect prints the format of a path.
func (m *Manager) handleDetect(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	m.auditLogger.LogCommand("detect", path, nil)
	f, err := m.detect(path, ctx.GetFlagString("format"))
	if err != nil {
		return err
	}
	m.printf("%s\n", f.Name())
	return nil
}

func (m *Manager) detect(path, format string) (qpformat.Format, error) {
	if err := requirePath(path, "path"); err != nil {
		return nil, err
	}
	reg, err := m.settings.Registry()
	if err != nil {
		return nil, err
	}
	src, err := qpformat.PathSource(path)
	if err != nil {
		return nil, err
	}
	if format != "" {
		return reg.DispatchNamed(src, format)
	}
	return reg.Dispatch(src)
}

// handleInfo describes a dataset.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	req := loadRequest{
		path:     ctx.GetArg(0),
		format:   ctx.GetFlagString("format"),
		meta:     ctx.GetFlagString("meta"),
		metaFile: ctx.GetFlagString("meta-file"),
		kw:       ctx.GetFlagString("kw"),
	}
	m.auditLogger.LogCommand("info", req.path, nil)
	return m.info(req, ctx.GetFlagBool("list"))
}

func (m *Manager) info(req loadRequest, list bool) error {
	ds, err := m.load(req)
	if err != nil {
		return err
	}
	n, rows, cols, err := ds.Shape()
	if err != nil {
		return err
	}
	kind, err := ds.StorageKind()
	if err != nil {
		return err
	}
	identity, err := ds.Identity()
	if err != nil {
		return err
	}

	m.printf("path:      %s\n", ds.Path())
	m.printf("format:    %s\n", ds.Format().Name())
	m.printf("storage:   %s\n", kind)
	m.printf("images:    %d\n", n)
	m.printf("shape:     %d x %d\n", rows, cols)
	m.printf("precision: %s\n", ds.Precision())
	m.printf("identity:  %s\n", identity)
	if pairs := ds.Meta().Pairs(); len(pairs) > 0 {
		m.printf("meta:      %s\n", strings.Join(pairs, ", "))
	}
	if kw := ds.RetrieveKW(); len(kw) > 0 {
		keys := make([]string, 0, len(kw))
		for k := range kw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for i, k := range keys {
			keys[i] = fmt.Sprintf("%s=%v", k, kw[k])
		}
		m.printf("keywords:  %s\n", strings.Join(keys, ", "))
	}

	if !list {
		return nil
	}
	for idx := 0; idx < n; idx++ {
		t, err := ds.Time(idx)
		if err != nil {
			return err
		}
		name, err := ds.Name(idx)
		if err != nil {
			return err
		}
		m.printf("%6d  %-32s  %s\n", idx, clihelp.FormatTime(t), name)
	}
	return nil
}

// handleConvert exports a dataset to a series container.
func (m *Manager) handleConvert(ctx *orpheus.Context) error {
	req := convertRequest{
		loadRequest: loadRequest{
			path:     ctx.GetArg(0),
			format:   ctx.GetFlagString("format"),
			meta:     ctx.GetFlagString("meta"),
			metaFile: ctx.GetFlagString("meta-file"),
			kw:       ctx.GetFlagString("kw"),
		},
		output:      ctx.GetArg(1),
		bg:          ctx.GetFlagString("bg"),
		bgFormat:    ctx.GetFlagString("bg-format"),
		start:       ctx.GetFlagInt("start"),
		stop:        ctx.GetFlagInt("stop"),
		window:      ctx.GetFlagString("window"),
		crop:        ctx.GetFlagString("crop"),
		compression: ctx.GetFlagString("compression"),
		quiet:       ctx.GetFlagBool("quiet"),
	}
	m.auditLogger.LogCommand("convert", req.path, map[string]interface{}{"output": req.output})
	_, err := m.convert(req)
	return err
}

func (m *Manager) convert(req convertRequest) (int, error) {
	if err := requirePath(req.output, "output"); err != nil {
		return 0, err
	}
	exportOpts, err := m.exportOptions(req)
	if err != nil {
		return 0, err
	}
	var extra []qpformat.LoadOption
	if req.bg != "" {
		extra = append(extra, qpformat.WithBackgroundPath(req.bg, req.bgFormat))
	}
	ds, err := m.load(req.loadRequest, extra...)
	if err != nil {
		return 0, err
	}
	written, err := ds.Export(req.output, exportOpts)
	if err != nil {
		return written, err
	}
	m.printf("Exported %d images from %s (%s) to %s\n", written, ds.Path(), ds.Format().Name(), req.output)
	return written, nil
}

// handleAuditStats summarizes the audit trail.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	return m.auditStats()
}

func (m *Manager) auditStats() error {
	if m.auditLogger == nil {
		return errors.New(qpformat.ErrCodeAuditError, "audit logging not enabled")
	}
	stats, err := m.auditLogger.Stats()
	if err != nil {
		return err
	}
	m.printf("backend:        %s (schema %d)\n", stats.Backend, stats.SchemaVersion)
	m.printf("events:         %d\n", stats.TotalEvents)
	m.printf("sources:        %d\n", stats.Sources)
	m.printf("size:           %d bytes\n", stats.DatabaseSize)
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		m.printf("span:           %s .. %s\n",
			stats.OldestEvent.UTC().Format("2006-01-02 15:04:05"),
			stats.NewestEvent.UTC().Format("2006-01-02 15:04:05"))
	}
	printCounts := func(title string, counts map[string]int64) {
		if len(counts) == 0 {
			return
		}
		keys := make([]string, 0, len(counts))
		for k := range counts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m.printf("%s:\n", title)
		for _, k := range keys {
			m.printf("  %-24s %d\n", k, counts[k])
		}
	}
	printCounts("by level", stats.EventsByLevel)
	printCounts("by event", stats.EventsByName)
	printCounts("by format", stats.EventsByFormat)
	return nil
}

// handleAuditHistory lists what was recorded about one dataset.
func (m *Manager) handleAuditHistory(ctx *orpheus.Context) error {
	return m.auditHistory(ctx.GetArg(0))
}

func (m *Manager) auditHistory(path string) error {
	if m.auditLogger == nil {
		return errors.New(qpformat.ErrCodeAuditError, "audit logging not enabled")
	}
	if err := requirePath(path, "path"); err != nil {
		return err
	}
	// Events are keyed by absolute path; the file itself may be gone.
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, qpformat.ErrCodeIOError, "failed to resolve path").WithContext("path", path)
	}
	events, err := m.auditLogger.History(abs)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		m.printf("no events for %s\n", abs)
		return nil
	}
	for _, ev := range events {
		mark := ""
		if !qpformat.VerifyChecksum(ev) {
			mark = "  [checksum mismatch]"
		}
		m.printf("%s  %-5s  %-20s  %-28s  %s%s\n",
			ev.Timestamp.UTC().Format("2006-01-02 15:04:05"), ev.Level, ev.Event, ev.Format, ev.Target, mark)
	}
	return nil
}
