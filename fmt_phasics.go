// fmt_phasics.go: Phasics SID4 phase/intensity TIFF files and zip bundles
//
// A phasics file has three pages: intensity, optical path difference in
// wavelengths and optical path difference in nanometers. Each page maps
// its 16-bit samples linearly to [tag 61243, tag 61242]. Acquisition
// settings are kept as LabVIEW XML in tag 61238 of page 0.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/qpformat/internal/tiff"
	"github.com/agilira/qpformat/qpimage"
	"github.com/klauspost/compress/zip"
)

// Vendor tags.
const (
	tagPhasicsMax uint16 = 61242
	tagPhasicsMin uint16 = 61243
	tagPhasicsXML uint16 = 61238
)

// phasicsBaselineClamp is subtracted from the scaled intensity.
const phasicsBaselineClamp = 150

const phasicsTimeLayout = "2006-01-02_15h04m05s"

// isPhasics reports whether tf has the phasics page layout.
func isPhasics(tf *tiff.File) bool {
	if len(tf.Pages) != 3 {
		return false
	}
	p0, p1 := tf.Pages[0], tf.Pages[1]
	for _, tag := range []uint16{tagPhasicsMin, tagPhasicsMax, tagPhasicsXML, tiff.TagMaxSampleValue} {
		if !p0.Has(tag) {
			return false
		}
	}
	if !p1.Has(tagPhasicsMin) || !p1.Has(tagPhasicsMax) {
		return false
	}
	m0, _ := p0.Float(tagPhasicsMax)
	m1, _ := p1.Float(tagPhasicsMax)
	return m0 != m1
}

func sniffPhasics(data []byte) bool {
	tf, err := tiff.Decode(bytes.NewReader(data), int64(len(data)))
	return err == nil && isPhasics(tf)
}

type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

// phasicsSetting looks up key in section of the XML settings. Both are
// matched case-insensitively.
func phasicsSetting(tf *tiff.File, section, key string) (string, bool) {
	raw, ok := tf.Pages[0].String(tagPhasicsXML)
	if !ok {
		return "", false
	}
	raw = strings.ReplaceAll(raw, `\n`, "\n")
	raw = strings.ReplaceAll(raw, `\r`, "")
	dec := xml.NewDecoder(strings.NewReader("<root>\n" + raw + "</root>"))
	dec.Strict = false
	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		return "", false
	}
	for _, group := range root.Nodes {
		for _, cluster := range group.Nodes {
			if len(cluster.Nodes) == 0 {
				continue
			}
			sec := strings.TrimSpace(cluster.Nodes[0].Content)
			if !strings.EqualFold(sec, section) {
				continue
			}
			for _, child := range cluster.Nodes {
				if len(child.Nodes) != 2 {
					continue
				}
				if strings.EqualFold(strings.TrimSpace(child.Nodes[0].Content), key) {
					return strings.TrimSpace(child.Nodes[1].Content), true
				}
			}
		}
	}
	return "", false
}

// phasicsWavelength returns the wavelength [m] recorded by the vendor
// software, NaN when absent.
func phasicsWavelength(tf *tiff.File) float64 {
	s, ok := phasicsSetting(tf, "analyse data", "lambda(nm)")
	if !ok {
		return math.NaN()
	}
	nm, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return nm * 1e-9
}

// phasicsTime returns the acquisition time (UTC, seconds since the
// epoch), NaN when absent.
func phasicsTime(tf *tiff.File) float64 {
	s, ok := phasicsSetting(tf, "acquisition info", "date & heure")
	if !ok {
		return math.NaN()
	}
	whole, frac, _ := strings.Cut(s, ".")
	t, err := time.ParseInLocation(phasicsTimeLayout, whole, time.UTC)
	if err != nil {
		return math.NaN()
	}
	secs := float64(t.Unix())
	if frac != "" {
		if f, err := strconv.ParseFloat(frac, 64); err == nil {
			secs += f * 1e-5
		}
	}
	return secs
}

// scaledPage maps the samples of page idx to [min, max].
func scaledPage(tf *tiff.File, idx int) (qpimage.Array, float64, float64, float64, error) {
	p := tf.Pages[idx]
	lo, _ := p.Float(tagPhasicsMin)
	hi, _ := p.Float(tagPhasicsMax)
	samp, _ := p.Float(tiff.TagMaxSampleValue)
	px, err := p.Pixels()
	if err != nil {
		return qpimage.Array{}, 0, 0, 0, err
	}
	a, err := qpimage.ArrayOf(p.Height(), p.Width(), px)
	return a, lo, hi, samp, err
}

type phasicsImage struct {
	data qpimage.Data
	meta qpimage.Meta
}

// decodePhasics converts a phasics file to phase [rad] and intensity. The
// phase is scaled with wavelength unless it is NaN, in which case the
// wavelength recorded in the file is used.
func decodePhasics(tf *tiff.File, wavelength float64) (phasicsImage, error) {
	wlFile := phasicsWavelength(tf)
	if math.IsNaN(wavelength) {
		wavelength = wlFile
	}
	if math.IsNaN(wavelength) || wavelength <= 0 {
		return phasicsImage{}, fmt.Errorf("wavelength is neither set in the metadata nor recorded in the file")
	}

	inten, lo, hi, samp, err := scaledPage(tf, 0)
	if err != nil {
		return phasicsImage{}, fmt.Errorf("intensity page: %w", err)
	}
	if samp == 0 {
		return phasicsImage{}, fmt.Errorf("intensity page has zero max sample value")
	}
	inten = inten.Map(func(v float64) float64 {
		return math.Max(v*(hi-lo)/samp+lo-phasicsBaselineClamp, 0)
	})

	// The wavelength page matches the intensity page in time; the
	// nanometer page was recorded separately.
	phaPage := 2
	if !math.IsNaN(wlFile) {
		phaPage = 1
	}
	opd, plo, phi, psamp, err := scaledPage(tf, phaPage)
	if err != nil {
		return phasicsImage{}, fmt.Errorf("phase page: %w", err)
	}
	var pha qpimage.Array
	if psamp == 0 || plo == phi {
		pha = qpimage.NewArray(inten.Rows, inten.Cols)
	} else {
		if !opd.SameShape(inten) {
			return phasicsImage{}, fmt.Errorf("phase and intensity pages differ in shape")
		}
		pha = opd.Map(func(v float64) float64 {
			nm := v*(phi-plo)/psamp + plo
			if phaPage == 1 {
				nm *= wlFile * 1e9
			}
			return nm / (wavelength * 1e9) * 2 * math.Pi
		})
	}

	meta := qpimage.Meta{qpimage.MetaWavelength: wavelength}
	if t := phasicsTime(tf); !math.IsNaN(t) {
		meta[qpimage.MetaTime] = t
	}
	return phasicsImage{
		data: qpimage.Data{Kind: qpimage.KindPhaseIntensity, Planes: []qpimage.Array{pha, inten}},
		meta: meta,
	}, nil
}

func userWavelength(env *Env) float64 {
	if wl, ok := env.Meta.Float(qpimage.MetaWavelength); ok {
		return wl
	}
	return math.NaN()
}

type phasicsTifFormat struct{ formatInfo }

// SinglePhasePhasicsTif reads one phasics "SID PHA*.tif" file.
func SinglePhasePhasicsTif() Format {
	return phasicsTifFormat{formatInfo{name: "SinglePhasePhasicsTif", storage: StoragePhaseIntensity}}
}

func (f phasicsTifFormat) Sniff(src Source) bool {
	if src.IsDir() {
		return false
	}
	ok := false
	_ = src.withReader(func(r File, size int64) error {
		tf, err := tiff.Decode(r, size)
		ok = err == nil && isPhasics(tf)
		return nil
	})
	return ok
}

func (f phasicsTifFormat) Open(env *Env) (Reader, error) {
	r := &phasicsTifReader{format: f, env: env}
	tf, err := r.decode()
	if err != nil {
		return nil, err
	}
	if !isPhasics(tf) {
		return nil, malformedData(f.name, "not a phasics TIFF file")
	}
	if math.IsNaN(userWavelength(env)) && math.IsNaN(phasicsWavelength(tf)) {
		return nil, malformedData(f.name, "wavelength must be given in the metadata for this file")
	}
	return r, nil
}

type phasicsTifReader struct {
	format phasicsTifFormat
	env    *Env
}

func (r *phasicsTifReader) decode() (*tiff.File, error) {
	var tf *tiff.File
	err := r.env.Source.withReader(func(f File, size int64) error {
		var derr error
		tf, derr = tiff.Decode(f, size)
		if derr != nil {
			return malformed(derr, r.format.name, "failed to decode TIFF")
		}
		_, derr = tf.Pages[0].Pixels()
		if derr != nil {
			return malformed(derr, r.format.name, "failed to read pixels")
		}
		return nil
	})
	return tf, err
}

func (r *phasicsTifReader) Len() (int, error) { return 1, nil }

func (r *phasicsTifReader) RawImage(idx int) (*qpimage.Image, error) {
	var img *qpimage.Image
	err := r.env.Source.withReader(func(f File, size int64) error {
		tf, err := tiff.Decode(f, size)
		if err != nil {
			return malformed(err, r.format.name, "failed to decode TIFF")
		}
		pi, err := decodePhasics(tf, userWavelength(r.env))
		if err != nil {
			return malformed(err, r.format.name, "failed to convert phasics data")
		}
		img, err = r.env.NewImage(pi.data, pi.meta, idx)
		return err
	})
	return img, err
}

func (r *phasicsTifReader) Time(int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	var t float64
	err := r.env.Source.withReader(func(f File, size int64) error {
		tf, err := tiff.Decode(f, size)
		if err != nil {
			return malformed(err, r.format.name, "failed to decode TIFF")
		}
		t = phasicsTime(tf)
		return nil
	})
	return t, err
}

// zipMembers lists the members of the zip archive in src whose names
// pass keep and whose content passes valid, sorted by name.
func zipMembers(src Source, keep func(name string) bool, valid func(data []byte) bool) ([]string, error) {
	var names []string
	err := src.withReader(func(f File, size int64) error {
		zr, err := zip.NewReader(f, size)
		if err != nil {
			return err
		}
		files := append([]*zip.File(nil), zr.File...)
		sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
		for _, zf := range files {
			if !keep(zf.Name) {
				continue
			}
			data, err := readZipFile(zf)
			if err != nil {
				return err
			}
			if valid(data) {
				names = append(names, zf.Name)
			}
		}
		return nil
	})
	return names, err
}

// zipMember returns the content and modification time of member name.
func zipMember(src Source, name string) ([]byte, time.Time, error) {
	var (
		data []byte
		mod  time.Time
	)
	err := src.withReader(func(f File, size int64) error {
		zr, err := zip.NewReader(f, size)
		if err != nil {
			return err
		}
		for _, zf := range zr.File {
			if zf.Name == name {
				mod = zf.Modified
				data, err = readZipFile(zf)
				return err
			}
		}
		return fmt.Errorf("zip member %q not found", name)
	})
	return data, mod, err
}

// maxZipMember bounds the size of a member read into memory.
const maxZipMember = 1 << 30

func readZipFile(zf *zip.File) ([]byte, error) {
	if zf.UncompressedSize64 > maxZipMember {
		return nil, fmt.Errorf("zip member %q is too large (%d bytes)", zf.Name, zf.UncompressedSize64)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxZipMember))
}

func isPhasicsMemberName(name string) bool {
	return strings.HasPrefix(name, "SID PHA") && strings.HasSuffix(name, ".tif")
}

type phasicsZipFormat struct{ formatInfo }

// SeriesPhasePhasicsZipTif reads zip archives of phasics "SID PHA*.tif"
// files.
func SeriesPhasePhasicsZipTif() Format {
	return phasicsZipFormat{formatInfo{name: "SeriesPhasePhasicsZipTif", priority: -1, series: true, storage: StoragePhaseIntensity}}
}

func (f phasicsZipFormat) Sniff(src Source) bool {
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
			if !isPhasicsMemberName(zf.Name) {
				continue
			}
			data, err := readZipFile(zf)
			if err == nil && sniffPhasics(data) {
				found = true
				return nil
			}
		}
		return nil
	})
	return err == nil && found
}

func (f phasicsZipFormat) Open(env *Env) (Reader, error) {
	names, err := zipMembers(env.Source, isPhasicsMemberName, sniffPhasics)
	if err != nil {
		return nil, malformed(err, f.name, "failed to index zip archive")
	}
	if len(names) == 0 {
		return nil, malformedData(f.name, "zip archive holds no phasics TIFF files")
	}
	if math.IsNaN(userWavelength(env)) {
		data, _, err := zipMember(env.Source, names[0])
		if err != nil {
			return nil, malformed(err, f.name, "failed to read zip member")
		}
		tf, err := tiff.Decode(bytes.NewReader(data), int64(len(data)))
		if err != nil || math.IsNaN(phasicsWavelength(tf)) {
			return nil, malformedData(f.name, "wavelength must be given in the metadata for this file")
		}
	}
	return &phasicsZipReader{format: f, env: env, names: names}, nil
}

type phasicsZipReader struct {
	format phasicsZipFormat
	env    *Env
	names  []string
}

func (r *phasicsZipReader) Len() (int, error) { return len(r.names), nil }

func (r *phasicsZipReader) member(idx int) (*tiff.File, error) {
	data, _, err := zipMember(r.env.Source, r.names[idx])
	if err != nil {
		return nil, malformed(err, r.format.name, "failed to read zip member")
	}
	tf, err := tiff.Decode(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, malformed(err, r.format.name, fmt.Sprintf("failed to decode %s", r.names[idx]))
	}
	return tf, nil
}

func (r *phasicsZipReader) RawImage(idx int) (*qpimage.Image, error) {
	tf, err := r.member(idx)
	if err != nil {
		return nil, err
	}
	pi, err := decodePhasics(tf, userWavelength(r.env))
	if err != nil {
		return nil, malformed(err, r.format.name, fmt.Sprintf("failed to convert %s", r.names[idx]))
	}
	return r.env.NewImage(pi.data, pi.meta, idx)
}

func (r *phasicsZipReader) Time(idx int) (float64, error) {
	if t, ok := r.env.userTime(); ok {
		return t, nil
	}
	tf, err := r.member(idx)
	if err != nil {
		return math.NaN(), err
	}
	return phasicsTime(tf), nil
}

func (r *phasicsZipReader) Name(idx int) (string, error) {
	return fmt.Sprintf("%s:%s", r.env.Source.Path(), r.names[idx]), nil
}
