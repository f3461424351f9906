// Utility functions for the qpformat CLI
//
// This file turns command flags into load and export options on top of
// the manager settings.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat"
	"github.com/agilira/qpformat/internal/compress"
	clihelp "github.com/agilira/qpformat/internal/cli"
	"github.com/agilira/qpformat/qpimage"
)

// loadRequest holds the flags shared by commands that open a dataset.
type loadRequest struct {
	path     string
	format   string
	meta     string // key=value pairs
	metaFile string // YAML, overridden by meta
	kw       string // key=value pairs
}

// convertRequest holds the flags of the convert command.
type convertRequest struct {
	loadRequest
	output      string
	bg          string
	bgFormat    string
	start, stop int
	window      string
	crop        string
	compression string
	quiet       bool
}

// requirePath rejects an empty positional argument.
func requirePath(path, what string) error {
	if path == "" {
		return errors.New(qpformat.ErrCodeInvalidConfig, fmt.Sprintf("missing %s argument", what))
	}
	return nil
}

// effectiveSettings layers the command flags over the manager settings.
func (m *Manager) effectiveSettings(req loadRequest) (qpformat.Settings, error) {
	s := m.settings
	s.Meta = make(map[string]any, len(m.settings.Meta))
	for k, v := range m.settings.Meta {
		s.Meta[k] = v
	}
	s.RetrieveKW = make(map[string]any, len(m.settings.RetrieveKW))
	for k, v := range m.settings.RetrieveKW {
		s.RetrieveKW[k] = v
	}

	if req.metaFile != "" {
		meta, err := clihelp.LoadMetaFile(req.metaFile)
		if err != nil {
			return s, errors.Wrap(err, qpformat.ErrCodeInvalidMetadataKey, "invalid --meta-file").
				WithContext("path", req.metaFile)
		}
		for k, v := range meta {
			s.Meta[k] = v
		}
	}
	if req.meta != "" {
		meta, err := clihelp.ParseMeta(req.meta)
		if err != nil {
			return s, errors.Wrap(err, qpformat.ErrCodeInvalidMetadataKey, "invalid --meta")
		}
		for k, v := range meta {
			s.Meta[k] = v
		}
	}
	if req.kw != "" {
		kw, err := clihelp.ParsePairs(req.kw)
		if err != nil {
			return s, errors.Wrap(err, qpformat.ErrCodeInvalidConfig, "invalid --kw")
		}
		for k, v := range kw {
			s.RetrieveKW[k] = v
		}
	}
	return s, nil
}

// loadOptions returns the options a dataset is opened with.
func (m *Manager) loadOptions(req loadRequest) ([]qpformat.LoadOption, error) {
	s, err := m.effectiveSettings(req)
	if err != nil {
		return nil, err
	}
	opts, err := s.LoadOptions()
	if err != nil {
		return nil, err
	}
	if req.format != "" {
		opts = append(opts, qpformat.WithFormat(req.format))
	}
	return append(opts, qpformat.WithAudit(m.auditLogger)), nil
}

func (m *Manager) load(req loadRequest, extra ...qpformat.LoadOption) (*qpformat.Dataset, error) {
	if err := requirePath(req.path, "path"); err != nil {
		return nil, err
	}
	opts, err := m.loadOptions(req)
	if err != nil {
		return nil, err
	}
	return qpformat.Load(req.path, append(opts, extra...)...)
}

// exportOptions converts the convert flags.
func (m *Manager) exportOptions(req convertRequest) (qpformat.ExportOptions, error) {
	opts := qpformat.ExportOptions{Start: req.start, Stop: req.stop}
	if req.window != "" {
		lo, hi, err := clihelp.ParseWindow(req.window)
		if err != nil {
			return opts, errors.Wrap(err, qpformat.ErrCodeInvalidConfig, "invalid --window")
		}
		opts.Window = &qpformat.TimeWindow{Lo: lo, Hi: hi}
	}
	if req.crop != "" {
		c, err := clihelp.ParseCrop(req.crop)
		if err != nil {
			return opts, errors.Wrap(err, qpformat.ErrCodeInvalidConfig, "invalid --crop")
		}
		opts.Crop = &qpformat.CropRect{R0: c[0], R1: c[1], C0: c[2], C1: c[3]}
	}
	if req.compression != "" {
		tag, err := compress.ParseTag(req.compression)
		if err != nil {
			return opts, errors.Wrap(err, qpformat.ErrCodeInvalidConfig, "invalid --compression")
		}
		opts.Container = []qpimage.ContainerOption{qpimage.WithCompression(tag)}
	}
	if !req.quiet {
		opts.Progress = func(done, total int) {
			m.printf("  %d/%d\n", done, total)
		}
	}
	return opts, nil
}

func (m *Manager) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(m.out, format, args...)
}
