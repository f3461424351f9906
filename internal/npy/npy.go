// npy.go: NumPy .npy array files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package npy reads and writes the NumPy array file format (versions 1
// to 3) for real and complex numeric arrays.
package npy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Magic is the file signature.
const Magic = "\x93NUMPY"

const maxHeaderLen = 1 << 20

// Header is the decoded array description.
type Header struct {
	Descr        string
	FortranOrder bool
	Shape        []int
}

// Complex reports whether the dtype is complex.
func (h Header) Complex() bool {
	return len(h.Descr) > 1 && h.Descr[1] == 'c'
}

// Len returns the number of elements.
func (h Header) Len() int {
	n := 1
	for _, d := range h.Shape {
		n *= d
	}
	return n
}

// Array is a decoded array. Imag is nil for real dtypes.
type Array struct {
	Header
	Real []float64
	Imag []float64
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// ReadHeader reads the magic, version and header dictionary from r,
// leaving r positioned at the start of the data.
func ReadHeader(r io.Reader) (Header, error) {
	var pre [8]byte
	if _, err := io.ReadFull(r, pre[:]); err != nil {
		return Header{}, fmt.Errorf("npy: reading preamble: %w", err)
	}
	if string(pre[:6]) != Magic {
		return Header{}, fmt.Errorf("npy: bad magic")
	}
	var hlen int
	switch pre[6] {
	case 1:
		var b [2]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Header{}, fmt.Errorf("npy: reading header length: %w", err)
		}
		hlen = int(binary.LittleEndian.Uint16(b[:]))
	case 2, 3:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Header{}, fmt.Errorf("npy: reading header length: %w", err)
		}
		hlen = int(binary.LittleEndian.Uint32(b[:]))
	default:
		return Header{}, fmt.Errorf("npy: unsupported version %d.%d", pre[6], pre[7])
	}
	if hlen > maxHeaderLen {
		return Header{}, fmt.Errorf("npy: header too long (%d bytes)", hlen)
	}
	raw := make([]byte, hlen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Header{}, fmt.Errorf("npy: reading header: %w", err)
	}
	return parseHeader(string(raw))
}

func parseHeader(s string) (Header, error) {
	var h Header
	m := descrRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("npy: header has no descr")
	}
	h.Descr = m[1]
	if m := fortranRe.FindStringSubmatch(s); m != nil {
		h.FortranOrder = m[1] == "True"
	}
	m = shapeRe.FindStringSubmatch(s)
	if m == nil {
		return h, fmt.Errorf("npy: header has no shape")
	}
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := strconv.Atoi(strings.TrimSuffix(part, "L"))
		if err != nil || d < 0 {
			return h, fmt.Errorf("npy: bad shape entry %q", part)
		}
		h.Shape = append(h.Shape, d)
	}
	return h, nil
}

// Read decodes a whole array from r.
func Read(r io.Reader) (*Array, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	order, kind, size, err := parseDescr(h.Descr)
	if err != nil {
		return nil, err
	}
	n := h.Len()
	data := make([]byte, n*size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("npy: reading data: %w", err)
	}

	a := &Array{Header: h, Real: make([]float64, n)}
	if kind == 'c' {
		a.Imag = make([]float64, n)
		half := size / 2
		for i := 0; i < n; i++ {
			a.Real[i] = decodeFloat(order, data[i*size:], half)
			a.Imag[i] = decodeFloat(order, data[i*size+half:], half)
		}
	} else {
		for i := 0; i < n; i++ {
			a.Real[i], err = decodeScalar(order, kind, data[i*size:], size)
			if err != nil {
				return nil, err
			}
		}
	}
	if h.FortranOrder && len(h.Shape) == 2 {
		a.Real = transpose(a.Real, h.Shape[1], h.Shape[0])
		if a.Imag != nil {
			a.Imag = transpose(a.Imag, h.Shape[1], h.Shape[0])
		}
		a.FortranOrder = false
	}
	return a, nil
}

func parseDescr(descr string) (binary.ByteOrder, byte, int, error) {
	if len(descr) < 3 {
		return nil, 0, 0, fmt.Errorf("npy: unsupported dtype %q", descr)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if descr[0] == '>' {
		order = binary.BigEndian
	}
	size, err := strconv.Atoi(descr[2:])
	if err != nil {
		return nil, 0, 0, fmt.Errorf("npy: unsupported dtype %q", descr)
	}
	kind := descr[1]
	switch {
	case kind == 'f' && (size == 4 || size == 8):
	case kind == 'c' && (size == 8 || size == 16):
	case (kind == 'i' || kind == 'u') && (size == 1 || size == 2 || size == 4 || size == 8):
	case kind == 'b' && size == 1:
	default:
		return nil, 0, 0, fmt.Errorf("npy: unsupported dtype %q", descr)
	}
	return order, kind, size, nil
}

func decodeFloat(order binary.ByteOrder, b []byte, size int) float64 {
	if size == 4 {
		return float64(math.Float32frombits(order.Uint32(b)))
	}
	return math.Float64frombits(order.Uint64(b))
}

func decodeScalar(order binary.ByteOrder, kind byte, b []byte, size int) (float64, error) {
	switch kind {
	case 'f':
		return decodeFloat(order, b, size), nil
	case 'b':
		return float64(b[0]), nil
	case 'u':
		switch size {
		case 1:
			return float64(b[0]), nil
		case 2:
			return float64(order.Uint16(b)), nil
		case 4:
			return float64(order.Uint32(b)), nil
		default:
			return float64(order.Uint64(b)), nil
		}
	case 'i':
		switch size {
		case 1:
			return float64(int8(b[0])), nil
		case 2:
			return float64(int16(order.Uint16(b))), nil
		case 4:
			return float64(int32(order.Uint32(b))), nil
		default:
			return float64(int64(order.Uint64(b))), nil
		}
	}
	return 0, fmt.Errorf("npy: unsupported kind %q", kind)
}

// transpose converts a rows x cols column-major buffer to row-major.
func transpose(in []float64, cols, rows int) []float64 {
	out := make([]float64, len(in))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[r*cols+c] = in[c*rows+r]
		}
	}
	return out
}

// Write encodes a 2D float64 array (or complex128 when imag is non-nil)
// in version 1.0 format.
func Write(w io.Writer, rows, cols int, re, im []float64) error {
	if len(re) != rows*cols || (im != nil && len(im) != len(re)) {
		return fmt.Errorf("npy: data length does not match %dx%d", rows, cols)
	}
	descr := "<f8"
	if im != nil {
		descr = "<c16"
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d), }", descr, rows, cols)
	// Pad so that magic+version+len+header is a multiple of 64, ending in newline.
	total := len(Magic) + 2 + 2 + len(dict) + 1
	if rem := total % 64; rem != 0 {
		dict += strings.Repeat(" ", 64-rem)
	}
	dict += "\n"

	var buf bytes.Buffer
	buf.WriteString(Magic)
	buf.Write([]byte{1, 0})
	var hl [2]byte
	binary.LittleEndian.PutUint16(hl[:], uint16(len(dict)))
	buf.Write(hl[:])
	buf.WriteString(dict)

	var b [8]byte
	for i, v := range re {
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
		buf.Write(b[:])
		if im != nil {
			binary.LittleEndian.PutUint64(b[:], math.Float64bits(im[i]))
			buf.Write(b[:])
		}
	}
	_, err := w.Write(buf.Bytes())
	return err
}
