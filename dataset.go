// dataset.go: Encoding-independent view of one opened source
//
// A Dataset pairs a Source with the Format that recognized it and exposes
// the images lazily by index. Identity and identifiers are derived from
// the content prefix, the user metadata and the attached background.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
)

// Dataset is an ordered, lazily loaded sequence of images.
// A Dataset is not safe for concurrent use.
type Dataset struct {
	src           Source
	format        Format
	reader        Reader
	meta          qpimage.Meta
	retrieveKW    map[string]any
	precision     qpimage.Precision
	reconstructor qpimage.Reconstructor
	registry      *Registry
	audit         *AuditLogger

	bg   *Background
	bgID string

	identity     string
	identityDone bool
}

// datasetConfig holds the validated settings a Dataset is opened with.
type datasetConfig struct {
	meta          qpimage.Meta
	retrieveKW    map[string]any
	precision     qpimage.Precision
	reconstructor qpimage.Reconstructor
	registry      *Registry
	audit         *AuditLogger
}

// openDataset binds format to src. The metadata must already be validated.
func openDataset(src Source, format Format, cfg datasetConfig) (*Dataset, error) {
	if cfg.precision == "" {
		cfg.precision = qpimage.Float32
	}
	if cfg.registry == nil {
		cfg.registry = DefaultRegistry()
	}
	d := &Dataset{
		src:           src,
		format:        format,
		meta:          cfg.meta.Clone(),
		retrieveKW:    cloneKW(cfg.retrieveKW),
		precision:     cfg.precision,
		reconstructor: cfg.reconstructor,
		registry:      cfg.registry,
		audit:         cfg.audit,
	}
	r, err := format.Open(d.env())
	if err != nil {
		if _, coded := err.(errors.ErrorCoder); coded {
			return nil, err
		}
		return nil, malformed(err, format.Name(), fmt.Sprintf("failed to open %s", src.Path()))
	}
	d.reader = r
	return d, nil
}

func (d *Dataset) env() *Env {
	return &Env{
		Source:        d.src,
		Meta:          d.meta.Clone(),
		RetrieveKW:    cloneKW(d.retrieveKW),
		Precision:     d.precision,
		Reconstructor: d.reconstructor,
		Registry:      d.registry,
		Audit:         d.audit,
		ds:            d,
	}
}

// Source returns the source the dataset was opened from.
func (d *Dataset) Source() Source { return d.src }

// Path returns the path of the source.
func (d *Dataset) Path() string { return d.src.Path() }

// Format returns the format that recognized the source.
func (d *Dataset) Format() Format { return d.format }

// Meta returns a copy of the user metadata.
func (d *Dataset) Meta() qpimage.Meta { return d.meta.Clone() }

// RetrieveKW returns a copy of the retrieve keywords.
func (d *Dataset) RetrieveKW() map[string]any { return cloneKW(d.retrieveKW) }

// Precision returns the storage precision of produced images.
func (d *Dataset) Precision() qpimage.Precision { return d.precision }

// StorageKind returns the concrete storage kind, resolving variable formats.
func (d *Dataset) StorageKind() (StorageKind, error) {
	if d.format.StorageKind() != StorageVariable {
		return d.format.StorageKind(), nil
	}
	res, ok := d.reader.(StorageResolver)
	if !ok {
		return "", errors.New(ErrCodeMalformedData,
			fmt.Sprintf("format %s has variable storage but cannot resolve it", d.format.Name()))
	}
	return res.ResolveStorage()
}

// Len returns the number of images.
func (d *Dataset) Len() (int, error) {
	return d.reader.Len()
}

func (d *Dataset) checkIndex(idx int) error {
	n, err := d.Len()
	if err != nil {
		return err
	}
	if idx < 0 || idx >= n {
		return outOfRange(idx, n)
	}
	return nil
}

// RawImage returns image idx without background correction.
func (d *Dataset) RawImage(idx int) (*qpimage.Image, error) {
	if err := d.checkIndex(idx); err != nil {
		return nil, err
	}
	return d.reader.RawImage(idx)
}

// Image returns image idx with the attached background applied. Without
// an attached background, a background stored in the file is used.
func (d *Dataset) Image(idx int) (*qpimage.Image, error) {
	img, err := d.RawImage(idx)
	if err != nil {
		return nil, err
	}
	if _, ok := img.Identifier(); !ok {
		return nil, errors.New(ErrCodeMissingIdentifier,
			fmt.Sprintf("format %s produced image %d without identifier", d.format.Name(), idx)).
			WithContext("format", d.format.Name())
	}

	bg, ok, err := d.backgroundFor(idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		sb, isStored := d.reader.(StoredBackgrounder)
		if !isStored {
			return img, nil
		}
		if bg, ok, err = sb.StoredBackground(idx); err != nil {
			return nil, err
		}
		if !ok {
			return img, nil
		}
	}
	if err := img.SetBackground(bg); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidBackground, fmt.Sprintf("failed to apply background to image %d", idx))
	}
	return img, nil
}

// Time returns the acquisition time of image idx in seconds since the
// epoch, NaN when unknown.
func (d *Dataset) Time(idx int) (float64, error) {
	if err := d.checkIndex(idx); err != nil {
		return math.NaN(), err
	}
	return d.reader.Time(idx)
}

// Name returns a display name for image idx.
func (d *Dataset) Name(idx int) (string, error) {
	if err := d.checkIndex(idx); err != nil {
		return "", err
	}
	if n, ok := d.reader.(Namer); ok {
		return n.Name(idx)
	}
	return fmt.Sprintf("%s:%d", d.src.Path(), idx+1), nil
}

// Identity returns the content fingerprint of the dataset. It changes with
// the user metadata, the retrieve keywords and the attached background.
func (d *Dataset) Identity() (string, error) {
	if !d.identityDone {
		id, err := d.computeIdentity()
		if err != nil {
			return "", err
		}
		d.identity = id
		d.identityDone = true
	}
	if d.bgID == "" {
		return d.identity, nil
	}
	return HashValues(d.identity, d.bgID)
}

func (d *Dataset) computeIdentity() (string, error) {
	mh, err := d.metaHash()
	if err != nil {
		return "", err
	}
	if p, ok := d.reader.(IdentityProvider); ok {
		data, err := p.IdentityData()
		if err != nil {
			return "", err
		}
		return HashValues(append(data, mh)...)
	}
	prefix, err := d.src.Prefix(IdentityPrefixSize)
	if err != nil {
		return "", err
	}
	if d.src.InMemory() {
		return HashValues(prefix, mh)
	}
	size, err := d.src.Size()
	if err != nil {
		return "", err
	}
	return HashValues(prefix, size, mh)
}

// metaHash fingerprints the user metadata and retrieve keywords.
func (d *Dataset) metaHash() (string, error) {
	return HashValues(d.meta.Pairs(), kwPairs(d.retrieveKW))
}

// Identifier returns the identifier of image idx. Series formats append
// the one-based index to the identity; single formats use the identity.
func (d *Dataset) Identifier(idx int) (string, error) {
	if d.reader != nil {
		if ii, ok := d.reader.(IndexIdentifier); ok {
			return ii.IndexIdentifier(idx)
		}
	}
	id, err := d.Identity()
	if err != nil {
		return "", err
	}
	if !d.format.IsSeries() {
		return id, nil
	}
	return fmt.Sprintf("%s:%d", id, idx+1), nil
}

// Shape returns the number of images and the size of the first image.
func (d *Dataset) Shape() (n, rows, cols int, err error) {
	if n, err = d.Len(); err != nil {
		return 0, 0, 0, err
	}
	img, err := d.RawImage(0)
	if err != nil {
		return 0, 0, 0, err
	}
	rows, cols = img.Shape()
	return n, rows, cols, nil
}

// String implements fmt.Stringer.
func (d *Dataset) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s", d.format.Name(), d.src.Path())
	if n, err := d.Len(); err == nil {
		fmt.Fprintf(&b, ", %d images", n)
	}
	if wl, ok := d.meta.Float(qpimage.MetaWavelength); ok {
		fmt.Fprintf(&b, ", λ=%.1fnm", wl*1e9)
	}
	if px, ok := d.meta.Float(qpimage.MetaPixelSize); ok {
		fmt.Fprintf(&b, ", 1px=%.3fµm", px*1e6)
	}
	b.WriteString(")")
	return b.String()
}

// kwPairs returns sorted "key=value" strings.
func kwPairs(kw map[string]any) []string {
	out := make([]string, 0, len(kw))
	for k, v := range kw {
		out = append(out, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(out)
	return out
}

func cloneKW(kw map[string]any) map[string]any {
	out := make(map[string]any, len(kw))
	for k, v := range kw {
		out[k] = v
	}
	return out
}
