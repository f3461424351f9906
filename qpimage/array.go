// array.go: Dense 2D float planes
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

import (
	"fmt"
	"math"
)

// Array is a row-major 2D plane of float64 values.
type Array struct {
	Rows int
	Cols int
	Data []float64
}

// NewArray returns a zero-filled rows x cols plane.
func NewArray(rows, cols int) Array {
	return Array{Rows: rows, Cols: cols, Data: make([]float64, rows*cols)}
}

// ArrayOf wraps data as a rows x cols plane.
func ArrayOf(rows, cols int, data []float64) (Array, error) {
	if rows <= 0 || cols <= 0 || len(data) != rows*cols {
		return Array{}, fmt.Errorf("qpimage: %d values do not form a %dx%d plane", len(data), rows, cols)
	}
	return Array{Rows: rows, Cols: cols, Data: data}, nil
}

// Filled returns a rows x cols plane with every value set to v.
func Filled(rows, cols int, v float64) Array {
	a := NewArray(rows, cols)
	for i := range a.Data {
		a.Data[i] = v
	}
	return a
}

// Empty reports whether the plane holds no data.
func (a Array) Empty() bool { return len(a.Data) == 0 }

// At returns the value at row r, column c.
func (a Array) At(r, c int) float64 { return a.Data[r*a.Cols+c] }

// SameShape reports whether a and b have identical dimensions.
func (a Array) SameShape(b Array) bool { return a.Rows == b.Rows && a.Cols == b.Cols }

// Clone returns a deep copy.
func (a Array) Clone() Array {
	if a.Data == nil {
		return Array{Rows: a.Rows, Cols: a.Cols}
	}
	out := Array{Rows: a.Rows, Cols: a.Cols, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// Map returns a new plane with f applied to every value.
func (a Array) Map(f func(float64) float64) Array {
	out := Array{Rows: a.Rows, Cols: a.Cols, Data: make([]float64, len(a.Data))}
	for i, v := range a.Data {
		out.Data[i] = f(v)
	}
	return out
}

// Zip combines a and b element-wise. Both must have the same shape.
func (a Array) Zip(b Array, f func(x, y float64) float64) Array {
	out := Array{Rows: a.Rows, Cols: a.Cols, Data: make([]float64, len(a.Data))}
	for i := range a.Data {
		out.Data[i] = f(a.Data[i], b.Data[i])
	}
	return out
}

// Crop returns rows [r0, r1) and columns [c0, c1) as a new plane.
func (a Array) Crop(r0, r1, c0, c1 int) (Array, error) {
	if r0 < 0 || c0 < 0 || r1 > a.Rows || c1 > a.Cols || r0 >= r1 || c0 >= c1 {
		return Array{}, fmt.Errorf("qpimage: crop [%d:%d, %d:%d] outside %dx%d plane", r0, r1, c0, c1, a.Rows, a.Cols)
	}
	out := NewArray(r1-r0, c1-c0)
	for r := r0; r < r1; r++ {
		copy(out.Data[(r-r0)*out.Cols:(r-r0+1)*out.Cols], a.Data[r*a.Cols+c0:r*a.Cols+c1])
	}
	return out, nil
}

// Mean returns the arithmetic mean, or NaN for an empty plane.
func (a Array) Mean() float64 {
	if len(a.Data) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range a.Data {
		sum += v
	}
	return sum / float64(len(a.Data))
}

// Equal reports whether a and b have the same shape and every pair of
// values differs by at most tol. NaNs compare equal to NaNs.
func (a Array) Equal(b Array, tol float64) bool {
	if !a.SameShape(b) || len(a.Data) != len(b.Data) {
		return false
	}
	for i := range a.Data {
		x, y := a.Data[i], b.Data[i]
		if math.IsNaN(x) || math.IsNaN(y) {
			if !(math.IsNaN(x) && math.IsNaN(y)) {
				return false
			}
			continue
		}
		if math.Abs(x-y) > tol {
			return false
		}
	}
	return true
}

// round applies the storage precision to every value in place.
func (a Array) round(p Precision) Array {
	if p != Float32 {
		return a
	}
	for i, v := range a.Data {
		a.Data[i] = float64(float32(v))
	}
	return a
}
