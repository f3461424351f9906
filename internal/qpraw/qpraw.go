// qpraw.go: Raw interferogram container
//
// A container is a CBOR sequence: one header record, the optional
// reference frame, then Count measurement frames. Frame planes are
// float64 arrays compressed with internal/compress.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

// Package qpraw reads and writes raw interferogram series.
package qpraw

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agilira/qpformat/internal/codec"
	"github.com/agilira/qpformat/internal/compress"
)

// FileFormat is the value of the header's file_format field.
const FileFormat = "qpformat"

// Imaging modalities.
const (
	ModalityOAH  = "off-axis holography"
	ModalityQLSI = "quadriwave lateral shearing interferometry"
)

// MaxFrames bounds the frame count accepted from a header.
const MaxFrames = 1 << 20

// Header is the first record of a container.
type Header struct {
	FileFormat string `cbor:"file_format"`
	Modality   string `cbor:"imaging_modality"`
	Count      int    `cbor:"count"`
	Reference  bool   `cbor:"reference"`
}

type frameRecord struct {
	Rows        int            `cbor:"rows"`
	Cols        int            `cbor:"cols"`
	Compression uint8          `cbor:"compression"`
	Data        []byte         `cbor:"data"`
	Meta        map[string]any `cbor:"meta,omitempty"`
}

// Frame is one decoded interferogram.
type Frame struct {
	Rows int
	Cols int
	Data []float64
	Meta map[string]any
}

// Write encodes frames (and an optional reference frame) to w.
func Write(w io.Writer, modality string, frames []Frame, reference *Frame, tag compress.Tag) error {
	if modality != ModalityOAH && modality != ModalityQLSI {
		return fmt.Errorf("qpraw: unknown imaging modality %q", modality)
	}
	if len(frames) == 0 {
		return fmt.Errorf("qpraw: no frames to write")
	}
	enc := codec.NewEncoder(w)
	hdr := Header{FileFormat: FileFormat, Modality: modality, Count: len(frames), Reference: reference != nil}
	if err := enc.Encode(hdr); err != nil {
		return fmt.Errorf("qpraw: writing header: %w", err)
	}
	if reference != nil {
		if err := writeFrame(enc, *reference, tag); err != nil {
			return fmt.Errorf("qpraw: writing reference: %w", err)
		}
	}
	for i, f := range frames {
		if err := writeFrame(enc, f, tag); err != nil {
			return fmt.Errorf("qpraw: writing frame %d: %w", i, err)
		}
	}
	return nil
}

// WriteFile writes a container to path, replacing any existing file.
func WriteFile(path, modality string, frames []Frame, reference *Frame, tag compress.Tag) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 -- caller-chosen output path
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	if err := Write(bw, modality, frames, reference, tag); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeFrame(enc *codec.Encoder, f Frame, tag compress.Tag) error {
	if f.Rows <= 0 || f.Cols <= 0 || len(f.Data) != f.Rows*f.Cols {
		return fmt.Errorf("%d values do not form a %dx%d frame", len(f.Data), f.Rows, f.Cols)
	}
	blob, used, err := compress.EncodeFloats(f.Data, tag)
	if err != nil {
		return err
	}
	return enc.Encode(frameRecord{Rows: f.Rows, Cols: f.Cols, Compression: uint8(used), Data: blob, Meta: f.Meta})
}

// ReadHeader decodes and validates the header record.
func ReadHeader(r io.Reader) (Header, error) {
	return readHeader(codec.NewDecoder(r))
}

func readHeader(dec *codec.Decoder) (Header, error) {
	var h Header
	if err := dec.Decode(&h); err != nil {
		return Header{}, fmt.Errorf("qpraw: reading header: %w", err)
	}
	if h.FileFormat != FileFormat {
		return Header{}, fmt.Errorf("qpraw: unexpected file format %q", h.FileFormat)
	}
	if h.Modality != ModalityOAH && h.Modality != ModalityQLSI {
		return Header{}, fmt.Errorf("qpraw: unknown imaging modality %q", h.Modality)
	}
	if h.Count <= 0 || h.Count > MaxFrames {
		return Header{}, fmt.Errorf("qpraw: invalid frame count %d", h.Count)
	}
	return h, nil
}

// ReadFrame decodes measurement frame idx.
func ReadFrame(r io.Reader, idx int) (Frame, error) {
	dec := codec.NewDecoder(r)
	h, err := readHeader(dec)
	if err != nil {
		return Frame{}, err
	}
	if idx < 0 || idx >= h.Count {
		return Frame{}, fmt.Errorf("qpraw: frame %d not in container of %d frames", idx, h.Count)
	}
	skip := idx
	if h.Reference {
		skip++
	}
	for i := 0; i < skip; i++ {
		var raw codec.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return Frame{}, fmt.Errorf("qpraw: skipping record %d: %w", i, err)
		}
	}
	return readFrame(dec)
}

// ReadReference decodes the reference frame. ok is false when the
// container has none.
func ReadReference(r io.Reader) (f Frame, ok bool, err error) {
	dec := codec.NewDecoder(r)
	h, err := readHeader(dec)
	if err != nil {
		return Frame{}, false, err
	}
	if !h.Reference {
		return Frame{}, false, nil
	}
	f, err = readFrame(dec)
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

func readFrame(dec *codec.Decoder) (Frame, error) {
	var rec frameRecord
	if err := dec.Decode(&rec); err != nil {
		return Frame{}, fmt.Errorf("qpraw: reading frame: %w", err)
	}
	if rec.Rows <= 0 || rec.Cols <= 0 || rec.Rows > 1<<16 || rec.Cols > 1<<16 {
		return Frame{}, fmt.Errorf("qpraw: invalid frame shape %dx%d", rec.Rows, rec.Cols)
	}
	values, err := compress.DecodeFloats(rec.Data, compress.Tag(rec.Compression), rec.Rows*rec.Cols)
	if err != nil {
		return Frame{}, fmt.Errorf("qpraw: decoding frame: %w", err)
	}
	return Frame{Rows: rec.Rows, Cols: rec.Cols, Data: values, Meta: rec.Meta}, nil
}
