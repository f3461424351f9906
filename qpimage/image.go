// image.go: Quantitative phase image container
//
// An Image holds aligned phase and amplitude planes plus metadata and an
// optional background. Phase() and Amplitude() return background-corrected
// planes (phase minus background phase, amplitude divided by background
// amplitude); the Raw variants return the uncorrected planes.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

import (
	"fmt"
	"math"

	"github.com/agilira/go-errors"
)

// Kind names the physical quantities stored in a file or passed to New.
type Kind string

const (
	KindPhase          Kind = "phase"
	KindPhaseAmplitude Kind = "phase,amplitude"
	KindPhaseIntensity Kind = "phase,intensity"
	KindField          Kind = "field"
	KindRawOAH         Kind = "raw-oah"
	KindRawQLSI        Kind = "raw-qlsi"
)

// Raw reports whether k is an interferogram that needs reconstruction.
func (k Kind) Raw() bool { return k == KindRawOAH || k == KindRawQLSI }

// Precision controls the numeric precision of stored planes.
type Precision string

const (
	Float32 Precision = "float32"
	Float64 Precision = "float64"
)

// ParsePrecision accepts "float32" (also "single") and "float64" (also "double").
func ParsePrecision(s string) (Precision, error) {
	switch s {
	case "float32", "single", "":
		return Float32, nil
	case "float64", "double":
		return Float64, nil
	default:
		return "", errors.New(ErrCodeInvalidPrecision, fmt.Sprintf("unsupported precision %q", s))
	}
}

// Data carries the input planes of one image, tagged by Kind.
//
//	KindPhase:          Planes[0] = phase [rad]
//	KindPhaseAmplitude: Planes[0] = phase, Planes[1] = amplitude
//	KindPhaseIntensity: Planes[0] = phase, Planes[1] = intensity
//	KindField:          Planes[0] = real part, Planes[1] = imaginary part
//	KindRawOAH/QLSI:    Planes[0] = interferogram
type Data struct {
	Kind   Kind
	Planes []Array
}

// Option configures New.
type Option func(*options)

type options struct {
	precision     Precision
	reconstructor Reconstructor
	retrieveKW    map[string]any
}

// WithPrecision sets the storage precision (default Float32).
func WithPrecision(p Precision) Option {
	return func(o *options) { o.precision = p }
}

// WithReconstructor sets the routine used for raw interferograms.
func WithReconstructor(r Reconstructor) Option {
	return func(o *options) { o.reconstructor = r }
}

// WithRetrieveKW passes keyword arguments to the reconstructor verbatim.
func WithRetrieveKW(kw map[string]any) Option {
	return func(o *options) { o.retrieveKW = kw }
}

// Image is a phase/amplitude image with metadata.
type Image struct {
	phase     Array
	amplitude Array
	bgPhase   Array
	bgAmp     Array
	meta      Meta
	precision Precision
}

// New builds an image from d. Metadata keys are validated.
func New(d Data, meta Meta, opts ...Option) (*Image, error) {
	o := options{precision: Float32, reconstructor: DefaultReconstructor{}}
	for _, opt := range opts {
		opt(&o)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(d.Planes) == 0 {
		return nil, errors.New(ErrCodeInvalidData, "no data planes")
	}
	p0 := d.Planes[0]
	if p0.Rows <= 0 || p0.Cols <= 0 || len(p0.Data) != p0.Rows*p0.Cols {
		return nil, errors.New(ErrCodeInvalidData, fmt.Sprintf("malformed %dx%d plane with %d values", p0.Rows, p0.Cols, len(p0.Data)))
	}
	need := 2
	if d.Kind == KindPhase || d.Kind.Raw() {
		need = 1
	}
	if len(d.Planes) < need {
		return nil, errors.New(ErrCodeInvalidData, fmt.Sprintf("kind %q needs %d planes, got %d", d.Kind, need, len(d.Planes)))
	}
	if need == 2 && !p0.SameShape(d.Planes[1]) {
		return nil, errors.New(ErrCodeShapeMismatch, "data planes differ in shape")
	}

	img := &Image{meta: meta.Clone(), precision: o.precision}
	switch d.Kind {
	case KindPhase:
		img.phase = p0.Clone()
		img.amplitude = Filled(p0.Rows, p0.Cols, 1)
	case KindPhaseAmplitude:
		img.phase = p0.Clone()
		img.amplitude = d.Planes[1].Clone()
	case KindPhaseIntensity:
		img.phase = p0.Clone()
		img.amplitude = d.Planes[1].Map(func(v float64) float64 { return math.Sqrt(math.Max(v, 0)) })
	case KindField:
		re, im := p0, d.Planes[1]
		img.phase = re.Zip(im, func(x, y float64) float64 { return math.Atan2(y, x) })
		img.amplitude = re.Zip(im, math.Hypot)
	case KindRawOAH, KindRawQLSI:
		if o.reconstructor == nil {
			return nil, errors.New(ErrCodeReconstruction, "no reconstructor configured")
		}
		pha, amp, err := o.reconstructor.Reconstruct(d.Kind, p0, o.retrieveKW)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeReconstruction, fmt.Sprintf("reconstructing %s data", d.Kind))
		}
		if !pha.SameShape(amp) {
			return nil, errors.New(ErrCodeShapeMismatch, "reconstructed planes differ in shape")
		}
		img.phase, img.amplitude = pha, amp
	default:
		return nil, errors.New(ErrCodeInvalidData, fmt.Sprintf("unknown data kind %q", d.Kind))
	}
	img.phase = img.phase.round(o.precision)
	img.amplitude = img.amplitude.round(o.precision)
	return img, nil
}

// Shape returns rows and columns.
func (img *Image) Shape() (int, int) { return img.phase.Rows, img.phase.Cols }

// Precision returns the storage precision.
func (img *Image) Precision() Precision { return img.precision }

// RawPhase returns the phase without background correction.
func (img *Image) RawPhase() Array { return img.phase.Clone() }

// RawAmplitude returns the amplitude without background correction.
func (img *Image) RawAmplitude() Array { return img.amplitude.Clone() }

// Phase returns the background-corrected phase.
func (img *Image) Phase() Array {
	if img.bgPhase.Empty() {
		return img.phase.Clone()
	}
	return img.phase.Zip(img.bgPhase, func(x, y float64) float64 { return x - y })
}

// Amplitude returns the background-corrected amplitude.
func (img *Image) Amplitude() Array {
	if img.bgAmp.Empty() {
		return img.amplitude.Clone()
	}
	return img.amplitude.Zip(img.bgAmp, func(x, y float64) float64 { return x / y })
}

// HasBackground reports whether a background is set.
func (img *Image) HasBackground() bool { return !img.bgPhase.Empty() }

// BackgroundPhase returns the background phase plane (empty when unset).
func (img *Image) BackgroundPhase() Array { return img.bgPhase.Clone() }

// BackgroundAmplitude returns the background amplitude plane (empty when unset).
func (img *Image) BackgroundAmplitude() Array { return img.bgAmp.Clone() }

// SetBackground corrects img with the (corrected) planes of bg.
// A nil bg removes any background.
func (img *Image) SetBackground(bg *Image) error {
	if bg == nil {
		img.bgPhase, img.bgAmp = Array{}, Array{}
		return nil
	}
	return img.SetBackgroundPlanes(bg.Phase(), bg.Amplitude())
}

// SetBackgroundPlanes sets the background from explicit planes.
func (img *Image) SetBackgroundPlanes(phase, amplitude Array) error {
	if !phase.SameShape(img.phase) || !amplitude.SameShape(img.amplitude) {
		r, c := img.Shape()
		return errors.New(ErrCodeShapeMismatch,
			fmt.Sprintf("background %dx%d does not match image %dx%d", phase.Rows, phase.Cols, r, c))
	}
	img.bgPhase = phase.Clone().round(img.precision)
	img.bgAmp = amplitude.Clone().round(img.precision)
	return nil
}

// Get returns a metadata value.
func (img *Image) Get(key string) (any, bool) {
	v, ok := img.meta[key]
	return v, ok
}

// Set stores a metadata value. The key must be in MetaKeys.
func (img *Image) Set(key string, value any) error {
	if !MetaKeys[key] {
		return (Meta{key: value}).Validate()
	}
	img.meta[key] = value
	return nil
}

// Meta returns a copy of the metadata.
func (img *Image) Meta() Meta { return img.meta.Clone() }

// Identifier returns the provenance identifier, if set.
func (img *Image) Identifier() (string, bool) { return img.meta.String(MetaIdentifier) }

// Time returns the acquisition time, or NaN when unknown.
func (img *Image) Time() float64 { return img.meta.Time() }

// Copy returns a deep copy.
func (img *Image) Copy() *Image {
	return &Image{
		phase:     img.phase.Clone(),
		amplitude: img.amplitude.Clone(),
		bgPhase:   img.bgPhase.Clone(),
		bgAmp:     img.bgAmp.Clone(),
		meta:      img.meta.Clone(),
		precision: img.precision,
	}
}

// Crop returns a copy restricted to rows [r0, r1) and columns [c0, c1).
func (img *Image) Crop(r0, r1, c0, c1 int) (*Image, error) {
	out := &Image{meta: img.meta.Clone(), precision: img.precision}
	var err error
	crop := func(a Array) Array {
		if err != nil || a.Empty() {
			return Array{}
		}
		var c Array
		c, err = a.Crop(r0, r1, c0, c1)
		return c
	}
	out.phase = crop(img.phase)
	out.amplitude = crop(img.amplitude)
	out.bgPhase = crop(img.bgPhase)
	out.bgAmp = crop(img.bgAmp)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeShapeMismatch, "cropping image")
	}
	return out, nil
}

// Equal compares planes, backgrounds and metadata.
func (img *Image) Equal(o *Image) bool {
	if img == nil || o == nil {
		return img == o
	}
	return img.phase.Equal(o.phase, 0) &&
		img.amplitude.Equal(o.amplitude, 0) &&
		img.bgPhase.Equal(o.bgPhase, 0) &&
		img.bgAmp.Equal(o.bgAmp, 0) &&
		img.meta.Equal(o.meta)
}
