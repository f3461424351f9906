// fixtures_test.go: Test files written with the package encoders
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/agilira/qpformat/internal/compress"
	"github.com/agilira/qpformat/internal/npy"
	"github.com/agilira/qpformat/internal/qpraw"
	"github.com/agilira/qpformat/internal/tiff"
	"github.com/agilira/qpformat/qpimage"
	"github.com/klauspost/compress/zip"
)

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeNpy(t *testing.T, path string, rows, cols int, re, im []float64) string {
	t.Helper()
	var buf bytes.Buffer
	if err := npy.Write(&buf, rows, cols, re, im); err != nil {
		t.Fatalf("npy.Write: %v", err)
	}
	return writeFile(t, path, buf.Bytes())
}

func ramp(rows, cols int, base float64) []float64 {
	out := make([]float64, rows*cols)
	for i := range out {
		out[i] = base + float64(i)
	}
	return out
}

// corruptStripTif is a one-page 2x2 8-bit TIFF whose strip byte count is
// stored as a signed -1.
func corruptStripTif() []byte {
	le := binary.LittleEndian
	buf := []byte{'I', 'I', 42, 0, 8, 0, 0, 0}
	entries := [][3]uint32{
		{uint32(tiff.TagImageWidth), uint32(tiff.TypeLong), 2},
		{uint32(tiff.TagImageLength), uint32(tiff.TypeLong), 2},
		{uint32(tiff.TagBitsPerSample), uint32(tiff.TypeShort), 8},
		{uint32(tiff.TagStripOffsets), uint32(tiff.TypeLong), 74},
		{uint32(tiff.TagStripByteCounts), uint32(tiff.TypeSLong), 0xFFFFFFFF},
	}
	buf = le.AppendUint16(buf, uint16(len(entries)))
	for _, e := range entries {
		buf = le.AppendUint16(buf, uint16(e[0]))
		buf = le.AppendUint16(buf, uint16(e[1]))
		buf = le.AppendUint32(buf, 1)
		buf = le.AppendUint32(buf, e[2])
	}
	buf = le.AppendUint32(buf, 0)
	return append(buf, 1, 2, 3, 4)
}

// hologramTif encodes a one-page 16-bit TIFF.
func hologramTif(t *testing.T, rows, cols int, data []float64) []byte {
	t.Helper()
	var buf bytes.Buffer
	err := tiff.Encode(&buf, []tiff.PageSpec{{
		Width: cols, Height: rows, Bits: 16, SampleFormat: tiff.SampleUint, Data: data,
	}})
	if err != nil {
		t.Fatalf("tiff.Encode: %v", err)
	}
	return buf.Bytes()
}

// phasicsSpec describes a synthetic phasics file of rows x cols pixels.
type phasicsSpec struct {
	rows, cols   int
	intensityPx  float64 // maps to intensityPx - 150 (range equals sample range)
	waveFraction float64 // optical path difference in wavelengths, page 1
	nanometers   float64 // optical path difference in nm, page 2
	wavelengthNM float64 // 0 omits the wavelength from the settings
	date         string  // "" omits the acquisition time
}

func phasicsXML(s phasicsSpec) string {
	x := "<LVData>"
	if s.date != "" {
		x += "<Cluster><Name>Acquisition Info</Name><NumElts>1</NumElts>" +
			"<String><Name>date &amp; heure</Name><Val>" + s.date + "</Val></String></Cluster>"
	}
	if s.wavelengthNM > 0 {
		x += "<Cluster><Name>Analyse data</Name><NumElts>1</NumElts>" +
			"<DBL><Name>lambda(nm)</Name><Val>" + strconv.FormatFloat(s.wavelengthNM, 'f', -1, 64) + "</Val></DBL></Cluster>"
	}
	return x + "</LVData>"
}

func phasicsTif(t *testing.T, s phasicsSpec) []byte {
	t.Helper()
	n := s.rows * s.cols
	fill := func(v float64) []float64 {
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	page := func(data []float64, lo, hi float64, samp uint16, extra ...tiff.Field) tiff.PageSpec {
		fields := append([]tiff.Field{
			{Tag: tagPhasicsMin, Value: []float64{lo}},
			{Tag: tagPhasicsMax, Value: []float64{hi}},
			{Tag: tiff.TagMaxSampleValue, Value: []uint16{samp}},
		}, extra...)
		return tiff.PageSpec{Width: s.cols, Height: s.rows, Bits: 16, SampleFormat: tiff.SampleUint, Data: data, Fields: fields}
	}
	pages := []tiff.PageSpec{
		page(fill(s.intensityPx), 0, 65535, 65535, tiff.Field{Tag: tagPhasicsXML, Value: phasicsXML(s)}),
		page(fill(s.waveFraction*100), 0, 1, 100),
		page(fill(s.nanometers), 0, 1000, 1000),
	}
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, pages); err != nil {
		t.Fatalf("tiff.Encode: %v", err)
	}
	return buf.Bytes()
}

type zipEntry struct {
	name     string
	data     []byte
	modified time.Time
}

func writeZip(t *testing.T, path string, entries ...zipEntry) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, Modified: e.modified})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return writeFile(t, path, buf.Bytes())
}

func rawFrame(rows, cols int, base float64, meta map[string]any) qpraw.Frame {
	return qpraw.Frame{Rows: rows, Cols: cols, Data: ramp(rows, cols, base), Meta: meta}
}

func writeQpraw(t *testing.T, path, modality string, frames []qpraw.Frame, ref *qpraw.Frame) string {
	t.Helper()
	if err := qpraw.WriteFile(path, modality, frames, ref, compress.Zstd); err != nil {
		t.Fatalf("qpraw.WriteFile: %v", err)
	}
	return path
}

func phaseImage(t *testing.T, rows, cols int, base float64, meta qpimage.Meta) *qpimage.Image {
	t.Helper()
	pha, err := qpimage.ArrayOf(rows, cols, ramp(rows, cols, base))
	if err != nil {
		t.Fatal(err)
	}
	amp := qpimage.Filled(rows, cols, 2)
	img, err := qpimage.New(qpimage.Data{Kind: qpimage.KindPhaseAmplitude, Planes: []qpimage.Array{pha, amp}}, meta)
	if err != nil {
		t.Fatalf("qpimage.New: %v", err)
	}
	return img
}

func mustLoad(t *testing.T, path string, opts ...LoadOption) *Dataset {
	t.Helper()
	ds, err := Load(path, opts...)
	if err != nil {
		t.Fatalf("Load(%s): %v", filepath.Base(path), err)
	}
	return ds
}

func mustLen(t *testing.T, ds *Dataset) int {
	t.Helper()
	n, err := ds.Len()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }
