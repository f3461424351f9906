// fmt_oahtif.go: Off-axis holograms stored as TIFF files and zip bundles
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/agilira/qpformat/internal/tiff"
	"github.com/agilira/qpformat/qpimage"
	"github.com/klauspost/compress/zip"
)

// isRawOAHTif reports whether tf is a single grayscale page.
func isRawOAHTif(tf *tiff.File) bool {
	return len(tf.Pages) == 1 && tf.Pages[0].Uint(tiff.TagSamplesPerPixel, 1) == 1
}

func sniffRawOAHTif(data []byte) bool {
	tf, err := tiff.Decode(bytes.NewReader(data), int64(len(data)))
	return err == nil && isRawOAHTif(tf)
}

// hologram reads the interferogram of a one-page TIFF.
func hologram(tf *tiff.File) (qpimage.Array, error) {
	p := tf.Pages[0]
	px, err := p.Pixels()
	if err != nil {
		return qpimage.Array{}, err
	}
	return qpimage.ArrayOf(p.Height(), p.Width(), px)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

type oahTifFormat struct{ formatInfo }

// SingleRawOAHTif reads one off-axis hologram TIFF file.
func SingleRawOAHTif() Format {
	return oahTifFormat{formatInfo{name: "SingleRawOAHTif", storage: StorageRawOAH}}
}

func (f oahTifFormat) Sniff(src Source) bool {
	if src.IsDir() {
		return false
	}
	ok := false
	_ = src.withReader(func(r File, size int64) error {
		tf, err := tiff.Decode(r, size)
		ok = err == nil && isRawOAHTif(tf)
		return nil
	})
	return ok
}

func (f oahTifFormat) Open(env *Env) (Reader, error) {
	if !f.Sniff(env.Source) {
		return nil, malformedData(f.name, "not a single-page TIFF file")
	}
	return &oahTifReader{format: f, env: env}, nil
}

type oahTifReader struct {
	format oahTifFormat
	env    *Env
}

func (r *oahTifReader) Len() (int, error) { return 1, nil }

// fileMeta records the modification time of files on disk. File system
// timestamps may be as coarse as a few seconds.
func (r *oahTifReader) fileMeta() qpimage.Meta {
	if r.env.Source.InMemory() {
		return qpimage.Meta{}
	}
	return qpimage.Meta{qpimage.MetaTime: unixSeconds(r.env.Source.ModTime())}
}

func (r *oahTifReader) RawImage(idx int) (*qpimage.Image, error) {
	var holo qpimage.Array
	err := r.env.Source.withReader(func(f File, size int64) error {
		tf, err := tiff.Decode(f, size)
		if err != nil {
			return malformed(err, r.format.name, "failed to decode TIFF")
		}
		if holo, err = hologram(tf); err != nil {
			return malformed(err, r.format.name, "failed to read hologram")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.env.NewImage(qpimage.Data{Kind: qpimage.KindRawOAH, Planes: []qpimage.Array{holo}}, r.fileMeta(), idx)
}

func (r *oahTifReader) Time(int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	return r.fileMeta().Time(), nil
}

type oahZipFormat struct{ formatInfo }

// SeriesRawOAHZipTif reads zip archives of off-axis hologram TIFF files.
func SeriesRawOAHZipTif() Format {
	return oahZipFormat{formatInfo{name: "SeriesRawOAHZipTif", series: true, storage: StorageRawOAH}}
}

func isTifMemberName(name string) bool { return strings.HasSuffix(name, ".tif") }

func (f oahZipFormat) Sniff(src Source) bool {
	if src.IsDir() {
		return false
	}
	found := false
	err := src.withReader(func(r File, size int64) error {
		zr, err := zip.NewReader(r, size)
		if err != nil {
			return err
		}
		for _, zf := range zr.File {
			if !isTifMemberName(zf.Name) {
				continue
			}
			data, err := readZipFile(zf)
			if err == nil && sniffRawOAHTif(data) {
				found = true
				return nil
			}
		}
		return nil
	})
	return err == nil && found
}

func (f oahZipFormat) Open(env *Env) (Reader, error) {
	names, err := zipMembers(env.Source, isTifMemberName, sniffRawOAHTif)
	if err != nil {
		return nil, malformed(err, f.name, "failed to index zip archive")
	}
	if len(names) == 0 {
		return nil, malformedData(f.name, "zip archive holds no hologram TIFF files")
	}
	return &oahZipReader{format: f, env: env, names: names}, nil
}

type oahZipReader struct {
	format oahZipFormat
	env    *Env
	names  []string
}

func (r *oahZipReader) Len() (int, error) { return len(r.names), nil }

// member reads hologram idx. Its time is the zip entry's modification
// time, since archive members carry no file system timestamp.
func (r *oahZipReader) member(idx int) (qpimage.Array, float64, error) {
	data, mod, err := zipMember(r.env.Source, r.names[idx])
	if err != nil {
		return qpimage.Array{}, math.NaN(), malformed(err, r.format.name, "failed to read zip member")
	}
	tf, err := tiff.Decode(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return qpimage.Array{}, math.NaN(), malformed(err, r.format.name, fmt.Sprintf("failed to decode %s", r.names[idx]))
	}
	holo, err := hologram(tf)
	if err != nil {
		return qpimage.Array{}, math.NaN(), malformed(err, r.format.name, fmt.Sprintf("failed to read %s", r.names[idx]))
	}
	t := math.NaN()
	if !mod.IsZero() {
		t = unixSeconds(mod)
	}
	return holo, t, nil
}

func (r *oahZipReader) RawImage(idx int) (*qpimage.Image, error) {
	holo, t, err := r.member(idx)
	if err != nil {
		return nil, err
	}
	meta := qpimage.Meta{}
	if !math.IsNaN(t) {
		meta[qpimage.MetaTime] = t
	}
	return r.env.NewImage(qpimage.Data{Kind: qpimage.KindRawOAH, Planes: []qpimage.Array{holo}}, meta, idx)
}

func (r *oahZipReader) Time(idx int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	_, t, err := r.member(idx)
	return t, err
}

func (r *oahZipReader) Name(idx int) (string, error) {
	return fmt.Sprintf("%s:%s", r.env.Source.Path(), r.names[idx]), nil
}
