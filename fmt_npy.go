// fmt_npy.go: Phase or complex field arrays in numpy .npy files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bufio"
	"math"

	"github.com/agilira/qpformat/internal/npy"
	"github.com/agilira/qpformat/qpimage"
)

type npyFormat struct{ formatInfo }

// SingleFieldPhaseNumpyNpy reads a 2D array: complex values are a field,
// real values a phase.
func SingleFieldPhaseNumpyNpy() Format {
	return npyFormat{formatInfo{name: "SingleFieldPhaseNumpyNpy", storage: StorageVariable}}
}

func npyHeader(src Source) (npy.Header, error) {
	f, err := src.Open()
	if err != nil {
		return npy.Header{}, err
	}
	defer f.Close()
	return npy.ReadHeader(bufio.NewReader(f))
}

func (f npyFormat) Sniff(src Source) bool {
	if src.IsDir() || src.Ext() != ".npy" {
		return false
	}
	h, err := npyHeader(src)
	return err == nil && len(h.Shape) == 2
}

func (f npyFormat) Open(env *Env) (Reader, error) {
	h, err := npyHeader(env.Source)
	if err != nil {
		return nil, malformed(err, f.name, "failed to read array header")
	}
	if len(h.Shape) != 2 {
		return nil, malformedData(f.name, "array is not two-dimensional")
	}
	return &npyReader{format: f, env: env, header: h}, nil
}

type npyReader struct {
	format npyFormat
	env    *Env
	header npy.Header
}

func (r *npyReader) Len() (int, error) { return 1, nil }

func (r *npyReader) ResolveStorage() (StorageKind, error) {
	if r.header.Complex() {
		return StorageField, nil
	}
	return StoragePhase, nil
}

func (r *npyReader) RawImage(idx int) (*qpimage.Image, error) {
	f, err := r.env.Source.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := npy.Read(bufio.NewReader(f))
	if err != nil {
		return nil, malformed(err, r.format.name, "failed to read array")
	}
	rows, cols := a.Shape[0], a.Shape[1]
	re, err := qpimage.ArrayOf(rows, cols, a.Real)
	if err != nil {
		return nil, malformed(err, r.format.name, "invalid array")
	}
	d := qpimage.Data{Kind: qpimage.KindPhase, Planes: []qpimage.Array{re}}
	if a.Imag != nil {
		im, err := qpimage.ArrayOf(rows, cols, a.Imag)
		if err != nil {
			return nil, malformed(err, r.format.name, "invalid array")
		}
		d = qpimage.Data{Kind: qpimage.KindField, Planes: []qpimage.Array{re, im}}
	}
	return r.env.NewImage(d, nil, idx)
}

func (r *npyReader) Time(int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	return math.NaN(), nil
}
