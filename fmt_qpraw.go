// fmt_qpraw.go: Raw interferogram containers (off-axis holography, QLSI)
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"math"

	"github.com/agilira/qpformat/internal/qpraw"
	"github.com/agilira/qpformat/qpimage"
)

type qprawFormat struct {
	formatInfo
	modality string
	kind     qpimage.Kind
}

// SingleRawOAHQpformat reads one-frame off-axis holography containers.
func SingleRawOAHQpformat() Format {
	return qprawFormat{
		formatInfo: formatInfo{name: "SingleRawOAHQpformat", priority: -10, storage: StorageRawOAH},
		modality:   qpraw.ModalityOAH,
		kind:       qpimage.KindRawOAH,
	}
}

// SeriesRawOAHQpformat reads multi-frame off-axis holography containers.
func SeriesRawOAHQpformat() Format {
	return qprawFormat{
		formatInfo: formatInfo{name: "SeriesRawOAHQpformat", priority: -10, series: true, storage: StorageRawOAH},
		modality:   qpraw.ModalityOAH,
		kind:       qpimage.KindRawOAH,
	}
}

// SingleRawQLSIQpformat reads one-frame QLSI containers.
func SingleRawQLSIQpformat() Format {
	return qprawFormat{
		formatInfo: formatInfo{name: "SingleRawQLSIQpformat", priority: -10, storage: StorageRawQLSI},
		modality:   qpraw.ModalityQLSI,
		kind:       qpimage.KindRawQLSI,
	}
}

// SeriesRawQLSIQpformat reads multi-frame QLSI containers. A reference
// frame, if present, is the stored background.
func SeriesRawQLSIQpformat() Format {
	return qprawFormat{
		formatInfo: formatInfo{name: "SeriesRawQLSIQpformat", priority: -10, series: true, storage: StorageRawQLSI},
		modality:   qpraw.ModalityQLSI,
		kind:       qpimage.KindRawQLSI,
	}
}

func (f qprawFormat) header(src Source) (qpraw.Header, error) {
	file, err := src.Open()
	if err != nil {
		return qpraw.Header{}, err
	}
	defer file.Close()
	return qpraw.ReadHeader(file)
}

func (f qprawFormat) accepts(h qpraw.Header) bool {
	if h.Modality != f.modality {
		return false
	}
	if f.series {
		return h.Count > 1
	}
	return h.Count == 1
}

func (f qprawFormat) Sniff(src Source) bool {
	if src.IsDir() {
		return false
	}
	h, err := f.header(src)
	return err == nil && f.accepts(h)
}

func (f qprawFormat) Open(env *Env) (Reader, error) {
	h, err := f.header(env.Source)
	if err != nil {
		return nil, malformed(err, f.name, "failed to read container header")
	}
	if !f.accepts(h) {
		return nil, malformedData(f.name, fmt.Sprintf("container holds %d %s frames", h.Count, h.Modality))
	}
	return &qprawReader{format: f, env: env, header: h}, nil
}

type qprawReader struct {
	format qprawFormat
	env    *Env
	header qpraw.Header
}

func (r *qprawReader) Len() (int, error) { return r.header.Count, nil }

func (r *qprawReader) frame(idx int) (qpraw.Frame, error) {
	file, err := r.env.Source.Open()
	if err != nil {
		return qpraw.Frame{}, err
	}
	defer file.Close()
	fr, err := qpraw.ReadFrame(file, idx)
	if err != nil {
		return qpraw.Frame{}, malformed(err, r.format.name, fmt.Sprintf("failed to read frame %d", idx))
	}
	return fr, nil
}

// build reconstructs fr. QLSI retrieval takes its wavelength and pitch
// term from the metadata unless the retrieve keywords set them.
func (r *qprawReader) build(fr qpraw.Frame, idx int) (*qpimage.Image, error) {
	raw, err := qpimage.ArrayOf(fr.Rows, fr.Cols, fr.Data)
	if err != nil {
		return nil, malformed(err, r.format.name, fmt.Sprintf("invalid frame %d", idx))
	}
	fileMeta := qpimage.Meta(fr.Meta)
	kw := cloneKW(r.env.RetrieveKW)
	if r.format.kind == qpimage.KindRawQLSI {
		merged := knownMeta(fileMeta).Merge(r.env.Meta)
		if wl, ok := merged.Float(qpimage.MetaWavelength); ok {
			setDefault(kw, "wavelength", wl)
		}
		if pt, ok := fr.Meta["qlsi_pitch_term"]; ok {
			setDefault(kw, "qlsi_pitch_term", pt)
		}
	}
	return r.env.newImage(qpimage.Data{Kind: r.format.kind, Planes: []qpimage.Array{raw}}, fileMeta, idx, kw)
}

func (r *qprawReader) RawImage(idx int) (*qpimage.Image, error) {
	fr, err := r.frame(idx)
	if err != nil {
		return nil, err
	}
	return r.build(fr, idx)
}

// StoredBackground reconstructs the reference frame, if any.
func (r *qprawReader) StoredBackground(idx int) (*qpimage.Image, bool, error) {
	if !r.header.Reference {
		return nil, false, nil
	}
	file, err := r.env.Source.Open()
	if err != nil {
		return nil, false, err
	}
	defer file.Close()
	ref, ok, err := qpraw.ReadReference(file)
	if err != nil {
		return nil, false, malformed(err, r.format.name, "failed to read reference frame")
	}
	if !ok {
		return nil, false, nil
	}
	bg, err := r.build(ref, idx)
	if err != nil {
		return nil, false, err
	}
	return bg, true, nil
}

func (r *qprawReader) Time(idx int) (float64, error) {
	fr, err := r.frame(idx)
	if err != nil {
		return math.NaN(), err
	}
	return qpimage.Meta(fr.Meta).Time(), nil
}

func setDefault(kw map[string]any, key string, v any) {
	if _, ok := kw[key]; !ok {
		kw[key] = v
	}
}
