// tiff.go: Baseline TIFF directory reader
//
// Only what the phase-imaging vendors write is supported: classic
// (non-BigTIFF) files, uncompressed strips, one sample per pixel.
// Vendor tags are kept verbatim so callers can look them up by number.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

// Baseline tag numbers.
const (
	TagImageWidth      uint16 = 256
	TagImageLength     uint16 = 257
	TagBitsPerSample   uint16 = 258
	TagCompression     uint16 = 259
	TagPhotometric     uint16 = 262
	TagStripOffsets    uint16 = 273
	TagSamplesPerPixel uint16 = 277
	TagRowsPerStrip    uint16 = 278
	TagStripByteCounts uint16 = 279
	TagMaxSampleValue  uint16 = 281
	TagPlanarConfig    uint16 = 284
	TagSampleFormat    uint16 = 339
)

// Field types.
const (
	TypeByte      uint16 = 1
	TypeASCII     uint16 = 2
	TypeShort     uint16 = 3
	TypeLong      uint16 = 4
	TypeRational  uint16 = 5
	TypeSByte     uint16 = 6
	TypeUndefined uint16 = 7
	TypeSShort    uint16 = 8
	TypeSLong     uint16 = 9
	TypeSRational uint16 = 10
	TypeFloat     uint16 = 11
	TypeDouble    uint16 = 12
)

// Sample formats (tag 339).
const (
	SampleUint  = 1
	SampleInt   = 2
	SampleFloat = 3
)

const (
	maxPages      = 4096
	maxEntryBytes = 16 << 20
)

// ErrNotTIFF is returned when the byte order mark or magic number is wrong.
var ErrNotTIFF = errors.New("tiff: not a TIFF file")

var typeSizes = map[uint16]int{
	TypeByte: 1, TypeASCII: 1, TypeShort: 2, TypeLong: 4, TypeRational: 8,
	TypeSByte: 1, TypeUndefined: 1, TypeSShort: 2, TypeSLong: 4,
	TypeSRational: 8, TypeFloat: 4, TypeDouble: 8,
}

// Entry is one decoded directory entry.
type Entry struct {
	Type  uint16
	Count uint32
	raw   []byte
}

// Page is one image file directory.
type Page struct {
	Tags  map[uint16]Entry
	order binary.ByteOrder
	r     io.ReaderAt
	size  int64
}

// File is a decoded TIFF directory chain.
type File struct {
	Pages []*Page
	order binary.ByteOrder
}

// Decode reads the header and every directory of the file. Pixel data is
// not read until Page.Pixels is called.
func Decode(r io.ReaderAt, size int64) (*File, error) {
	var hdr [8]byte
	if err := readAt(r, hdr[:], 0); err != nil {
		return nil, ErrNotTIFF
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, ErrNotTIFF
	}
	if order.Uint16(hdr[2:]) != 42 {
		return nil, ErrNotTIFF
	}

	f := &File{order: order}
	seen := make(map[uint32]bool)
	offset := order.Uint32(hdr[4:])
	for offset != 0 {
		if seen[offset] || len(f.Pages) >= maxPages {
			return nil, fmt.Errorf("tiff: directory chain loops at offset %d", offset)
		}
		seen[offset] = true
		page, next, err := readIFD(r, size, order, offset)
		if err != nil {
			return nil, err
		}
		f.Pages = append(f.Pages, page)
		offset = next
	}
	if len(f.Pages) == 0 {
		return nil, fmt.Errorf("tiff: no image directories")
	}
	return f, nil
}

func readIFD(r io.ReaderAt, size int64, order binary.ByteOrder, offset uint32) (*Page, uint32, error) {
	if int64(offset)+2 > size {
		return nil, 0, fmt.Errorf("tiff: directory offset %d beyond end of file", offset)
	}
	var nbuf [2]byte
	if err := readAt(r, nbuf[:], int64(offset)); err != nil {
		return nil, 0, fmt.Errorf("tiff: reading directory: %w", err)
	}
	n := int(order.Uint16(nbuf[:]))
	buf := make([]byte, 12*n+4)
	if err := readAt(r, buf, int64(offset)+2); err != nil {
		return nil, 0, fmt.Errorf("tiff: reading directory entries: %w", err)
	}

	page := &Page{Tags: make(map[uint16]Entry, n), order: order, r: r, size: size}
	for i := 0; i < n; i++ {
		e := buf[12*i : 12*i+12]
		tag := order.Uint16(e[0:])
		typ := order.Uint16(e[2:])
		count := order.Uint32(e[4:])
		width, ok := typeSizes[typ]
		if !ok {
			continue
		}
		total := int64(width) * int64(count)
		if total > maxEntryBytes {
			return nil, 0, fmt.Errorf("tiff: tag %d too large (%d bytes)", tag, total)
		}
		var raw []byte
		if total <= 4 {
			raw = append([]byte(nil), e[8:8+total]...)
		} else {
			at := int64(order.Uint32(e[8:]))
			if at+total > size {
				return nil, 0, fmt.Errorf("tiff: tag %d points beyond end of file", tag)
			}
			raw = make([]byte, total)
			if err := readAt(r, raw, at); err != nil {
				return nil, 0, fmt.Errorf("tiff: reading tag %d: %w", tag, err)
			}
		}
		page.Tags[tag] = Entry{Type: typ, Count: count, raw: raw}
	}
	return page, order.Uint32(buf[12*n:]), nil
}

// Has reports whether the page carries tag.
func (p *Page) Has(tag uint16) bool {
	_, ok := p.Tags[tag]
	return ok
}

// Floats returns the numeric values of tag converted to float64.
func (p *Page) Floats(tag uint16) ([]float64, bool) {
	e, ok := p.Tags[tag]
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, e.Count)
	o := p.order
	for i := 0; i < int(e.Count); i++ {
		switch e.Type {
		case TypeByte, TypeUndefined:
			out = append(out, float64(e.raw[i]))
		case TypeSByte:
			out = append(out, float64(int8(e.raw[i])))
		case TypeShort:
			out = append(out, float64(o.Uint16(e.raw[2*i:])))
		case TypeSShort:
			out = append(out, float64(int16(o.Uint16(e.raw[2*i:]))))
		case TypeLong:
			out = append(out, float64(o.Uint32(e.raw[4*i:])))
		case TypeSLong:
			out = append(out, float64(int32(o.Uint32(e.raw[4*i:]))))
		case TypeRational:
			num, den := o.Uint32(e.raw[8*i:]), o.Uint32(e.raw[8*i+4:])
			out = append(out, float64(num)/float64(den))
		case TypeSRational:
			num, den := int32(o.Uint32(e.raw[8*i:])), int32(o.Uint32(e.raw[8*i+4:]))
			out = append(out, float64(num)/float64(den))
		case TypeFloat:
			out = append(out, float64(math.Float32frombits(o.Uint32(e.raw[4*i:]))))
		case TypeDouble:
			out = append(out, math.Float64frombits(o.Uint64(e.raw[8*i:])))
		default:
			return nil, false
		}
	}
	return out, true
}

// Float returns the first value of a numeric tag.
func (p *Page) Float(tag uint16) (float64, bool) {
	v, ok := p.Floats(tag)
	if !ok || len(v) == 0 {
		return 0, false
	}
	return v[0], true
}

// Uint returns the first value of an integer tag, or def when absent.
func (p *Page) Uint(tag uint16, def int) int {
	v, ok := p.Float(tag)
	if !ok {
		return def
	}
	return int(v)
}

// String returns an ASCII or UNDEFINED tag as text, without trailing NULs.
func (p *Page) String(tag uint16) (string, bool) {
	e, ok := p.Tags[tag]
	if !ok || (e.Type != TypeASCII && e.Type != TypeUndefined && e.Type != TypeByte) {
		return "", false
	}
	return strings.TrimRight(string(e.raw), "\x00"), true
}

// Width returns the image width in pixels.
func (p *Page) Width() int { return p.Uint(TagImageWidth, 0) }

// Height returns the image height in pixels.
func (p *Page) Height() int { return p.Uint(TagImageLength, 0) }

// Pixels reads the page's samples in row-major order.
func (p *Page) Pixels() ([]float64, error) {
	w, h := p.Width(), p.Height()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("tiff: invalid image size %dx%d", w, h)
	}
	if c := p.Uint(TagCompression, 1); c != 1 {
		return nil, fmt.Errorf("tiff: unsupported compression %d", c)
	}
	if spp := p.Uint(TagSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("tiff: unsupported samples per pixel %d", spp)
	}
	bits := p.Uint(TagBitsPerSample, 1)
	format := p.Uint(TagSampleFormat, SampleUint)
	width := bits / 8
	if width == 0 || bits%8 != 0 {
		return nil, fmt.Errorf("tiff: unsupported bits per sample %d", bits)
	}

	offsets, ok := p.Floats(TagStripOffsets)
	if !ok {
		return nil, fmt.Errorf("tiff: missing strip offsets")
	}
	counts, ok := p.Floats(TagStripByteCounts)
	if !ok || len(counts) != len(offsets) {
		return nil, fmt.Errorf("tiff: missing or inconsistent strip byte counts")
	}

	need := int64(w) * int64(h) * int64(width)
	if need > p.size {
		return nil, fmt.Errorf("tiff: %dx%d image of %d-bit samples exceeds file size %d", w, h, bits, p.size)
	}
	data := make([]byte, 0, need)
	for i := range offsets {
		off, n := offsets[i], counts[i]
		if off < 0 || n < 0 || off != math.Trunc(off) || n != math.Trunc(n) || off+n > float64(p.size) {
			return nil, fmt.Errorf("tiff: strip %d (offset %v, %v bytes) outside file of %d bytes", i, off, n, p.size)
		}
		if int64(len(data))+int64(n) > p.size {
			return nil, fmt.Errorf("tiff: strips add up to more than the file size %d", p.size)
		}
		strip := make([]byte, int64(n))
		if err := readAt(p.r, strip, int64(off)); err != nil {
			return nil, fmt.Errorf("tiff: reading strip %d: %w", i, err)
		}
		data = append(data, strip...)
	}
	if int64(len(data)) < need {
		return nil, fmt.Errorf("tiff: pixel data truncated (%d < %d bytes)", len(data), need)
	}

	o := p.order
	out := make([]float64, w*h)
	for i := range out {
		b := data[i*width:]
		switch {
		case format == SampleUint && bits == 8:
			out[i] = float64(b[0])
		case format == SampleUint && bits == 16:
			out[i] = float64(o.Uint16(b))
		case format == SampleUint && bits == 32:
			out[i] = float64(o.Uint32(b))
		case format == SampleInt && bits == 8:
			out[i] = float64(int8(b[0]))
		case format == SampleInt && bits == 16:
			out[i] = float64(int16(o.Uint16(b)))
		case format == SampleInt && bits == 32:
			out[i] = float64(int32(o.Uint32(b)))
		case format == SampleFloat && bits == 32:
			out[i] = float64(math.Float32frombits(o.Uint32(b)))
		case format == SampleFloat && bits == 64:
			out[i] = math.Float64frombits(o.Uint64(b))
		default:
			return nil, fmt.Errorf("tiff: unsupported sample format %d/%d bits", format, bits)
		}
	}
	return out, nil
}

// readAt fills buf from r at off. A short read is an error; io.EOF with a
// full buffer is not.
func readAt(r io.ReaderAt, buf []byte, off int64) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return err
}
