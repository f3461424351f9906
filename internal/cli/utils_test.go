// Tests for the CLI parsing helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/agilira/qpformat/qpimage"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		input    string
		expected interface{}
	}{
		{"true", true},
		{"FALSE", false},
		{"42", int64(42)},
		{"0", int64(0)},
		{"5.5e-7", 5.5e-7},
		{"disk", "disk"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ParseValue(tt.input); got != tt.expected {
			t.Errorf("ParseValue(%q) = %v (%T), want %v (%T)", tt.input, got, got, tt.expected, tt.expected)
		}
	}
}

func TestParsePairs(t *testing.T) {
	got, err := ParsePairs("filter_name=disk, filter_size = 0.5,,padding=true")
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{"filter_name": "disk", "filter_size": 0.5, "padding": true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePairs = %v, want %v", got, want)
	}
	for _, bad := range []string{"novalue", "=1"} {
		if _, err := ParsePairs(bad); err == nil {
			t.Errorf("ParsePairs(%q) accepted", bad)
		}
	}
}

func TestParseMeta(t *testing.T) {
	meta, err := ParseMeta("wavelength=5.5e-7,pixel size=1")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := meta[qpimage.MetaPixelSize].(float64); !ok || v != 1 {
		t.Errorf("pixel size = %v (%T)", meta[qpimage.MetaPixelSize], meta[qpimage.MetaPixelSize])
	}
	if _, err := ParseMeta("exposure=3"); err == nil {
		t.Error("unknown metadata key accepted")
	}
}

func TestLoadMetaFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meta.yaml")
	if err := os.WriteFile(path, []byte("wavelength: 550e-9\npixel size: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	meta, err := LoadMetaFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := meta.Float(qpimage.MetaWavelength); !ok || v != 550e-9 {
		t.Errorf("wavelength = %v, %v", v, ok)
	}
	if v, ok := meta[qpimage.MetaPixelSize].(float64); !ok || v != 1 {
		t.Errorf("pixel size = %v (%T)", meta[qpimage.MetaPixelSize], meta[qpimage.MetaPixelSize])
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("exposure: 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadMetaFile(bad); err == nil {
		t.Error("unknown metadata key accepted")
	}
	if _, err := LoadMetaFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
}

func TestParseCrop(t *testing.T) {
	got, err := ParseCrop("0:10:5:15")
	if err != nil || got != [4]int{0, 10, 5, 15} {
		t.Errorf("ParseCrop = %v, %v", got, err)
	}
	for _, bad := range []string{"0:10:5", "a:1:2:3", "5:5:0:1"} {
		if _, err := ParseCrop(bad); err == nil {
			t.Errorf("ParseCrop(%q) accepted", bad)
		}
	}
}

func TestParseWindow(t *testing.T) {
	lo, hi, err := ParseWindow("10:")
	if err != nil || lo != 10 || !math.IsInf(hi, 1) {
		t.Errorf("ParseWindow = %v, %v, %v", lo, hi, err)
	}
	if _, _, err := ParseWindow("3:1"); err == nil {
		t.Error("reversed window accepted")
	}
	if _, _, err := ParseWindow("7"); err == nil {
		t.Error("window without colon accepted")
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(math.NaN()); got != "unknown" {
		t.Errorf("FormatTime(NaN) = %q", got)
	}
	if got := FormatTime(1460556755.5); got != "2016-04-13T14:12:35.5Z" {
		t.Errorf("FormatTime = %q", got)
	}
}
