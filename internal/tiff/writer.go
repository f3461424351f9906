// writer.go: Baseline TIFF writer
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// Field is an extra directory entry written alongside the baseline tags.
// Value must be a string, []uint16, []uint32 or []float64 (written as DOUBLE).
type Field struct {
	Tag   uint16
	Value any
}

// PageSpec describes one page to write.
type PageSpec struct {
	Width, Height int
	Bits          int // 8, 16, 32 or 64
	SampleFormat  int // SampleUint, SampleInt or SampleFloat
	Data          []float64
	Fields        []Field
}

type dirEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte
}

// Encode writes pages as a little-endian, uncompressed, single-strip TIFF.
func Encode(w io.Writer, pages []PageSpec) error {
	if len(pages) == 0 {
		return fmt.Errorf("tiff: no pages to write")
	}
	le := binary.LittleEndian
	var buf bytes.Buffer
	buf.Write([]byte{'I', 'I', 42, 0, 0, 0, 0, 0})
	prevNext := 4

	for pi, spec := range pages {
		pixels, err := encodePixels(spec)
		if err != nil {
			return fmt.Errorf("tiff: page %d: %w", pi, err)
		}
		pad(&buf)
		stripOffset := buf.Len()
		buf.Write(pixels)

		entries := []dirEntry{
			shortEntry(TagImageWidth, uint16(spec.Width)),
			shortEntry(TagImageLength, uint16(spec.Height)),
			shortEntry(TagBitsPerSample, uint16(spec.Bits)),
			shortEntry(TagCompression, 1),
			shortEntry(TagPhotometric, 1),
			longEntry(TagStripOffsets, uint32(stripOffset)),
			shortEntry(TagSamplesPerPixel, 1),
			shortEntry(TagRowsPerStrip, uint16(spec.Height)),
			longEntry(TagStripByteCounts, uint32(len(pixels))),
			shortEntry(TagPlanarConfig, 1),
			shortEntry(TagSampleFormat, uint16(spec.SampleFormat)),
		}
		for _, f := range spec.Fields {
			e, err := fieldEntry(f)
			if err != nil {
				return fmt.Errorf("tiff: page %d: %w", pi, err)
			}
			entries = append(entries, e)
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

		// Out-of-line values go before the directory.
		offsets := make([]uint32, len(entries))
		for i, e := range entries {
			if len(e.value) > 4 {
				pad(&buf)
				offsets[i] = uint32(buf.Len())
				buf.Write(e.value)
			}
		}

		pad(&buf)
		ifd := buf.Len()
		out := buf.Bytes()
		le.PutUint32(out[prevNext:], uint32(ifd))

		var b2 [2]byte
		le.PutUint16(b2[:], uint16(len(entries)))
		buf.Write(b2[:])
		for i, e := range entries {
			var rec [12]byte
			le.PutUint16(rec[0:], e.tag)
			le.PutUint16(rec[2:], e.typ)
			le.PutUint32(rec[4:], e.count)
			if len(e.value) > 4 {
				le.PutUint32(rec[8:], offsets[i])
			} else {
				copy(rec[8:], e.value)
			}
			buf.Write(rec[:])
		}
		prevNext = buf.Len()
		buf.Write([]byte{0, 0, 0, 0})
	}

	_, err := w.Write(buf.Bytes())
	return err
}

func pad(buf *bytes.Buffer) {
	if buf.Len()%2 == 1 {
		buf.WriteByte(0)
	}
}

func shortEntry(tag uint16, v uint16) dirEntry {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return dirEntry{tag: tag, typ: TypeShort, count: 1, value: b}
}

func longEntry(tag uint16, v uint32) dirEntry {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return dirEntry{tag: tag, typ: TypeLong, count: 1, value: b}
}

func fieldEntry(f Field) (dirEntry, error) {
	le := binary.LittleEndian
	switch v := f.Value.(type) {
	case string:
		b := append([]byte(v), 0)
		return dirEntry{tag: f.Tag, typ: TypeASCII, count: uint32(len(b)), value: b}, nil
	case []uint16:
		b := make([]byte, 2*len(v))
		for i, x := range v {
			le.PutUint16(b[2*i:], x)
		}
		return dirEntry{tag: f.Tag, typ: TypeShort, count: uint32(len(v)), value: b}, nil
	case []uint32:
		b := make([]byte, 4*len(v))
		for i, x := range v {
			le.PutUint32(b[4*i:], x)
		}
		return dirEntry{tag: f.Tag, typ: TypeLong, count: uint32(len(v)), value: b}, nil
	case []float64:
		b := make([]byte, 8*len(v))
		for i, x := range v {
			le.PutUint64(b[8*i:], math.Float64bits(x))
		}
		return dirEntry{tag: f.Tag, typ: TypeDouble, count: uint32(len(v)), value: b}, nil
	default:
		return dirEntry{}, fmt.Errorf("unsupported field value %T for tag %d", f.Value, f.Tag)
	}
}

func encodePixels(spec PageSpec) ([]byte, error) {
	if spec.Width <= 0 || spec.Height <= 0 || len(spec.Data) != spec.Width*spec.Height {
		return nil, fmt.Errorf("data length %d does not match %dx%d", len(spec.Data), spec.Width, spec.Height)
	}
	le := binary.LittleEndian
	width := spec.Bits / 8
	out := make([]byte, width*len(spec.Data))
	for i, v := range spec.Data {
		b := out[i*width:]
		switch {
		case spec.SampleFormat == SampleUint && spec.Bits == 8:
			b[0] = uint8(v)
		case spec.SampleFormat == SampleUint && spec.Bits == 16:
			le.PutUint16(b, uint16(v))
		case spec.SampleFormat == SampleUint && spec.Bits == 32:
			le.PutUint32(b, uint32(v))
		case spec.SampleFormat == SampleInt && spec.Bits == 16:
			le.PutUint16(b, uint16(int16(v)))
		case spec.SampleFormat == SampleFloat && spec.Bits == 32:
			le.PutUint32(b, math.Float32bits(float32(v)))
		case spec.SampleFormat == SampleFloat && spec.Bits == 64:
			le.PutUint64(b, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("unsupported sample format %d/%d bits", spec.SampleFormat, spec.Bits)
		}
	}
	return out, nil
}
