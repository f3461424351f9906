// fmt_qpimage.go: qpimage SQLite containers (single image and series)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"

	"github.com/agilira/qpformat/qpimage"
)

type qpimageFormat struct {
	formatInfo
	kind string
}

// SinglePhaseQpimageSQLite reads containers written by qpimage.WriteSingle.
func SinglePhaseQpimageSQLite() Format {
	return qpimageFormat{
		formatInfo: formatInfo{name: "SinglePhaseQpimageSQLite", priority: -9, storage: StoragePhaseAmplitude},
		kind:       qpimage.ContainerSingle,
	}
}

// SeriesPhaseQpimageSQLite reads containers written by qpimage.CreateSeries.
func SeriesPhaseQpimageSQLite() Format {
	return qpimageFormat{
		formatInfo: formatInfo{name: "SeriesPhaseQpimageSQLite", priority: -9, series: true, storage: StoragePhaseAmplitude},
		kind:       qpimage.ContainerSeries,
	}
}

func (f qpimageFormat) Sniff(src Source) bool {
	if src.IsDir() || src.InMemory() {
		return false
	}
	kind, ok := qpimage.Probe(src.Path())
	return ok && kind == f.kind
}

func (f qpimageFormat) Open(env *Env) (Reader, error) {
	if env.Source.InMemory() {
		return nil, malformedData(f.name, "qpimage containers must be read from disk")
	}
	s, err := qpimage.OpenSeries(env.Source.Path())
	if err != nil {
		return nil, malformed(err, f.name, "failed to open container")
	}
	defer s.Close()
	if s.Kind() != f.kind {
		return nil, malformedData(f.name, fmt.Sprintf("container kind is %q, expected %q", s.Kind(), f.kind))
	}
	return &qpimageReader{format: f, env: env, count: s.Len()}, nil
}

type qpimageReader struct {
	format qpimageFormat
	env    *Env
	count  int
}

func (r *qpimageReader) Len() (int, error) { return r.count, nil }

// stored returns entry idx as written, with its background.
func (r *qpimageReader) stored(idx int) (*qpimage.Image, error) {
	s, err := qpimage.OpenSeries(r.env.Source.Path())
	if err != nil {
		return nil, malformed(err, r.format.name, "failed to open container")
	}
	defer s.Close()
	img, err := s.Image(idx)
	if err != nil {
		return nil, malformed(err, r.format.name, fmt.Sprintf("failed to read image %d", idx))
	}
	return img, nil
}

// RawImage drops the stored background. File metadata is kept unless the
// dataset metadata overrides it.
func (r *qpimageReader) RawImage(idx int) (*qpimage.Image, error) {
	img, err := r.stored(idx)
	if err != nil {
		return nil, err
	}
	d := qpimage.Data{Kind: qpimage.KindPhaseAmplitude, Planes: []qpimage.Array{img.RawPhase(), img.RawAmplitude()}}
	return r.env.NewImage(d, img.Meta(), idx)
}

func (r *qpimageReader) StoredBackground(idx int) (*qpimage.Image, bool, error) {
	img, err := r.stored(idx)
	if err != nil {
		return nil, false, err
	}
	if !img.HasBackground() {
		return nil, false, nil
	}
	d := qpimage.Data{Kind: qpimage.KindPhaseAmplitude, Planes: []qpimage.Array{img.BackgroundPhase(), img.BackgroundAmplitude()}}
	bg, err := qpimage.New(d, nil, qpimage.WithPrecision(r.env.Precision))
	if err != nil {
		return nil, false, malformed(err, r.format.name, fmt.Sprintf("invalid stored background of image %d", idx))
	}
	return bg, true, nil
}

func (r *qpimageReader) Time(idx int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	img, err := r.stored(idx)
	if err != nil {
		return 0, err
	}
	return img.Time(), nil
}
