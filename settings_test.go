// settings_test.go: Tests for YAML settings
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agilira/qpformat/qpimage"
)

const sampleSettings = `
precision: float64
meta:
  wavelength: 550.0e-9
  pixel size: 1
retrieve_kw:
  filter_name: disk
disabled_formats:
  - SingleFieldPhaseNumpyNpy
audit:
  enabled: true
  min_level: warn
  buffer_size: 8
`

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(sampleSettings))
	if err != nil {
		t.Fatalf("ParseSettings: %v", err)
	}
	if s.Precision != "float64" {
		t.Errorf("precision = %q", s.Precision)
	}
	meta := s.meta()
	if v, ok := meta.Float(qpimage.MetaPixelSize); !ok || v != 1 {
		t.Errorf("pixel size = %v, %v", v, ok)
	}
	if _, isFloat := meta[qpimage.MetaPixelSize].(float64); !isFloat {
		t.Errorf("pixel size stored as %T, want float64", meta[qpimage.MetaPixelSize])
	}

	cfg, err := s.AuditConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Enabled || cfg.MinLevel != AuditWarn || cfg.BufferSize != 8 {
		t.Errorf("audit config = %+v", cfg)
	}

	reg, err := s.Registry()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.Lookup("SingleFieldPhaseNumpyNpy"); ok {
		t.Error("disabled format still registered")
	}
	if len(reg.Names()) != len(DefaultRegistry().Names())-1 {
		t.Errorf("registry has %d formats", len(reg.Names()))
	}
}

func TestSettingsValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		code string
	}{
		{"bad precision", "precision: half\n", ErrCodeInvalidConfig},
		{"bad meta key", "meta:\n  color: red\n", ErrCodeInvalidMetadataKey},
		{"bad level", "audit:\n  min_level: loud\n", ErrCodeInvalidConfig},
		{"unknown format", "disabled_formats: [NoSuchFormat]\n", ErrCodeInvalidConfig},
		{"bad yaml", "precision: [\n", ErrCodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSettings([]byte(tt.yaml))
			if !HasCode(err, tt.code) {
				t.Fatalf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.Precision != string(qpimage.Float32) || s.Audit.Enabled {
		t.Errorf("unexpected defaults: %+v", s)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("QPFORMAT_PRECISION", "double")
	t.Setenv("QPFORMAT_DISABLED_FORMATS", "SingleRawOAHTif, SeriesRawOAHZipTif")
	t.Setenv("QPFORMAT_AUDIT_ENABLED", "false")

	s := DefaultSettings()
	s.Audit.Enabled = true
	if err := s.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.Precision != "double" || s.Audit.Enabled {
		t.Errorf("settings = %+v", s)
	}
	if len(s.DisabledFormats) != 2 || s.DisabledFormats[1] != "SeriesRawOAHZipTif" {
		t.Errorf("disabled = %q", s.DisabledFormats)
	}

	t.Setenv("QPFORMAT_AUDIT_ENABLED", "perhaps")
	if err := s.ApplyEnv(); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("error = %v, want %s", err, ErrCodeInvalidConfig)
	}
}

func TestSettingsLoadOptionsApplyToLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "phase.npy")
	writeNpy(t, path, 2, 3, []float64{1, 2, 3, 4, 5, 6}, nil)

	s, err := ParseSettings([]byte("precision: float64\nmeta:\n  wavelength: 5.5e-7\n"))
	if err != nil {
		t.Fatal(err)
	}
	opts, err := s.LoadOptions()
	if err != nil {
		t.Fatal(err)
	}
	ds, err := Load(path, opts...)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ds.Precision() != qpimage.Float64 {
		t.Errorf("precision = %q", ds.Precision())
	}
	if wl, ok := ds.Meta().Float(qpimage.MetaWavelength); !ok || wl != 5.5e-7 {
		t.Errorf("wavelength = %v, %v", wl, ok)
	}
}

func TestLoadSettingsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	if err := os.WriteFile(path, []byte(sampleSettings), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := LoadSettings(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.RetrieveKW["filter_name"] != "disk" {
		t.Errorf("retrieve_kw = %v", s.RetrieveKW)
	}
}
