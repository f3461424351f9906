// Parsing and formatting helpers for the qpformat CLI
//
// Command flags carry lists as comma-separated "key=value" pairs; these
// helpers turn them into metadata, retrieve keywords and crop windows.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/qpformat/qpimage"
	"go.yaml.in/yaml/v3"
)

// ParseValue parses a string to bool, int64, float64 or string, in that
// order of preference. Only "true" and "false" are booleans.
func ParseValue(value string) interface{} {
	lowerValue := strings.ToLower(value)
	if lowerValue == "true" || lowerValue == "false" {
		return lowerValue == "true"
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}

// ParsePairs splits "a=1,b=x" into a map of parsed values. Keys are
// trimmed; empty items are skipped.
func ParsePairs(s string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		key, value, ok := strings.Cut(item, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", item)
		}
		out[key] = ParseValue(strings.TrimSpace(value))
	}
	return out, nil
}

// ParseMeta parses metadata pairs. Integers become float64 so that
// numeric metadata has a single type; keys are validated.
func ParseMeta(s string) (qpimage.Meta, error) {
	pairs, err := ParsePairs(s)
	if err != nil {
		return nil, err
	}
	meta := qpimage.Meta{}
	for k, v := range pairs {
		if i, ok := v.(int64); ok {
			v = float64(i)
		}
		meta[k] = v
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// LoadMetaFile reads metadata from a YAML mapping such as
//
//	wavelength: 550e-9
//	pixel size: 0.34e-6
func LoadMetaFile(path string) (qpimage.Meta, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- user supplied metadata file
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid metadata file %s: %w", path, err)
	}
	meta := qpimage.Meta{}
	for k, v := range raw {
		if i, ok := v.(int); ok {
			v = float64(i)
		}
		meta[k] = v
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	return meta, nil
}

// ParseCrop parses "r0:r1:c0:c1".
func ParseCrop(s string) ([4]int, error) {
	var out [4]int
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return out, fmt.Errorf("crop must be r0:r1:c0:c1, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return out, fmt.Errorf("invalid crop bound %q: %w", p, err)
		}
		out[i] = v
	}
	if out[0] >= out[1] || out[2] >= out[3] {
		return out, fmt.Errorf("empty crop window %q", s)
	}
	return out, nil
}

// ParseWindow parses "lo:hi" in seconds since the epoch. Either bound may
// be omitted.
func ParseWindow(s string) (lo, hi float64, err error) {
	a, b, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("time window must be lo:hi, got %q", s)
	}
	lo, hi = math.Inf(-1), math.Inf(1)
	if a = strings.TrimSpace(a); a != "" {
		if lo, err = strconv.ParseFloat(a, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid window start %q: %w", a, err)
		}
	}
	if b = strings.TrimSpace(b); b != "" {
		if hi, err = strconv.ParseFloat(b, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid window end %q: %w", b, err)
		}
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("window start %v after end %v", lo, hi)
	}
	return lo, hi, nil
}

// FormatTime renders seconds since the epoch in UTC, or "unknown" for NaN.
func FormatTime(t float64) string {
	if math.IsNaN(t) {
		return "unknown"
	}
	sec, frac := math.Modf(t)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(time.RFC3339Nano)
}
