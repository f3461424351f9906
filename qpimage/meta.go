// meta.go: Image metadata keys and validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
)

// Metadata keys understood by images and containers.
const (
	MetaWavelength        = "wavelength"         // [m]
	MetaPixelSize         = "pixel size"         // [m]
	MetaMediumIndex       = "medium index"       // refractive index
	MetaTime              = "time"               // [s] since epoch
	MetaIdentifier        = "identifier"         // provenance string
	MetaAngle             = "angle"              // [rad] tomographic angle
	MetaFocus             = "focus"              // [m]
	MetaNumericalAperture = "numerical aperture" // imaging NA
	MetaSimCenter         = "sim center"         // [px, px]
	MetaSimIndex          = "sim index"
	MetaSimModel          = "sim model"
	MetaSimRadius         = "sim radius" // [m]
)

// MetaKeys is the closed set of valid metadata keys.
var MetaKeys = map[string]bool{
	MetaWavelength:        true,
	MetaPixelSize:         true,
	MetaMediumIndex:       true,
	MetaTime:              true,
	MetaIdentifier:        true,
	MetaAngle:             true,
	MetaFocus:             true,
	MetaNumericalAperture: true,
	MetaSimCenter:         true,
	MetaSimIndex:          true,
	MetaSimModel:          true,
	MetaSimRadius:         true,
}

// SortedMetaKeys returns MetaKeys in lexical order.
func SortedMetaKeys() []string {
	keys := make([]string, 0, len(MetaKeys))
	for k := range MetaKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Meta maps metadata keys to values. Numeric values are float64,
// identifiers and model names are strings.
type Meta map[string]any

// Validate returns an error naming the first (in lexical order) key
// that is not in MetaKeys.
func (m Meta) Validate() error {
	for _, k := range m.Keys() {
		if !MetaKeys[k] {
			return errors.New(ErrCodeInvalidMetaKey,
				fmt.Sprintf("invalid metadata key %q, valid keys: %s", k, strings.Join(SortedMetaKeys(), ", "))).
				WithContext("key", k)
		}
	}
	return nil
}

// Keys returns the keys of m in lexical order.
func (m Meta) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Pairs returns "key=value" strings in key order.
func (m Meta) Pairs() []string {
	out := make([]string, 0, len(m))
	for _, k := range m.Keys() {
		out = append(out, fmt.Sprintf("%s=%v", k, m[k]))
	}
	return out
}

// Clone returns a shallow copy; nil stays nil-safe.
func (m Meta) Clone() Meta {
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge returns a copy of m with every entry of over applied on top.
func (m Meta) Merge(over Meta) Meta {
	out := m.Clone()
	for k, v := range over {
		out[k] = v
	}
	return out
}

// Float returns a numeric entry as float64.
func (m Meta) Float(key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a string entry.
func (m Meta) String(key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

// Time returns the acquisition time, or NaN when unknown.
func (m Meta) Time() float64 {
	if t, ok := m.Float(MetaTime); ok {
		return t
	}
	return math.NaN()
}

// Equal reports whether both maps hold the same keys with equal values.
func (m Meta) Equal(o Meta) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		w, ok := o[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}
