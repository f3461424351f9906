// reconstruct.go: Hook for interferogram reconstruction
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

import (
	"fmt"
	"math"
)

// Reconstructor turns a raw interferogram into phase and amplitude planes.
// kw holds the retrieve keywords of the dataset, passed through unchanged.
type Reconstructor interface {
	Reconstruct(kind Kind, raw Array, kw map[string]any) (phase, amplitude Array, err error)
}

// ReconstructorFunc adapts a function to Reconstructor.
type ReconstructorFunc func(kind Kind, raw Array, kw map[string]any) (Array, Array, error)

// Reconstruct calls f.
func (f ReconstructorFunc) Reconstruct(kind Kind, raw Array, kw map[string]any) (Array, Array, error) {
	return f(kind, raw, kw)
}

// DefaultReconstructor performs no phase retrieval. It yields a flat phase
// and the square root of the mean-normalized intensity as amplitude.
type DefaultReconstructor struct{}

// Reconstruct implements Reconstructor.
func (DefaultReconstructor) Reconstruct(kind Kind, raw Array, kw map[string]any) (Array, Array, error) {
	if !kind.Raw() {
		return Array{}, Array{}, fmt.Errorf("kind %q is not an interferogram", kind)
	}
	mean := raw.Mean()
	if math.IsNaN(mean) {
		return Array{}, Array{}, fmt.Errorf("empty interferogram")
	}
	if mean <= 0 {
		mean = 1
	}
	amp := raw.Map(func(v float64) float64 { return math.Sqrt(math.Max(v, 0) / mean) })
	return NewArray(raw.Rows, raw.Cols), amp, nil
}
