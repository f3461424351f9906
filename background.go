// background.go: Background references attached to datasets
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
)

// Background is a reference to background data: one image used for every
// index, a list of images, or another dataset. Build it with
// BackgroundImage, BackgroundImages or BackgroundDataset.
type Background struct {
	images  []*qpimage.Image
	list    bool
	dataset *Dataset
}

// BackgroundImage uses img for every index.
func BackgroundImage(img *qpimage.Image) Background {
	return Background{images: []*qpimage.Image{img}}
}

// BackgroundImages uses imgs[idx] for index idx, or imgs[0] for every
// index when only one image is given.
func BackgroundImages(imgs ...*qpimage.Image) Background {
	return Background{images: append([]*qpimage.Image(nil), imgs...), list: true}
}

// BackgroundDataset uses the raw images of ds.
func BackgroundDataset(ds *Dataset) Background {
	return Background{dataset: ds}
}

// Len returns the number of background images.
func (b Background) Len() (int, error) {
	if b.dataset != nil {
		return b.dataset.Len()
	}
	return len(b.images), nil
}

func (b Background) validate() error {
	if b.dataset != nil {
		return nil
	}
	if len(b.images) == 0 {
		return errors.New(ErrCodeInvalidBackground, "empty background reference")
	}
	for i, img := range b.images {
		if img == nil {
			return errors.New(ErrCodeInvalidBackground, fmt.Sprintf("background image %d is nil", i))
		}
	}
	return nil
}

// at returns the background for data index idx. n is the background length.
func (b Background) at(idx, n int) (*qpimage.Image, error) {
	bgidx := idx
	if n == 1 {
		bgidx = 0
	}
	if b.dataset != nil {
		return b.dataset.RawImage(bgidx)
	}
	return b.images[bgidx], nil
}

// identifier fingerprints the background.
func (b Background) identifier() (string, error) {
	if b.dataset != nil {
		return b.dataset.Identity()
	}
	if !b.list {
		return imageIdentifier(b.images[0])
	}
	ids := make([]string, len(b.images))
	for i, img := range b.images {
		id, err := imageIdentifier(img)
		if err != nil {
			return "", err
		}
		ids[i] = id
	}
	return HashValues(ids)
}

func imageIdentifier(img *qpimage.Image) (string, error) {
	if id, ok := img.Identifier(); ok {
		return id, nil
	}
	return HashValues(img.Amplitude(), img.Phase(), img.Meta().Pairs())
}

// SetBackground attaches bg. Its length must be 1 or Len(); otherwise the
// dataset is left unchanged and QPFORMAT_INVALID_BACKGROUND is returned.
func (d *Dataset) SetBackground(bg Background) error {
	if err := bg.validate(); err != nil {
		return err
	}
	if bg.dataset == d {
		return errors.New(ErrCodeInvalidBackground, "a dataset cannot be its own background")
	}
	n, err := bg.Len()
	if err != nil {
		return err
	}
	own, err := d.Len()
	if err != nil {
		return err
	}
	if n != 1 && n != own {
		return errors.New(ErrCodeInvalidBackground,
			fmt.Sprintf("background has %d images, expected 1 or %d", n, own)).
			WithContext("path", d.src.Path())
	}
	id, err := bg.identifier()
	if err != nil {
		return err
	}
	d.bg = &bg
	d.bgID = id
	var bgFormat string
	if bg.dataset != nil {
		bgFormat = bg.dataset.format.Name()
	}
	d.audit.Log(AuditInfo, "background_attached", "dataset", Provenance{
		Source:  d.src.Path(),
		Format:  bgFormat,
		Target:  id,
		Context: map[string]interface{}{"background_length": n, "length": own},
	})
	return nil
}

// ClearBackground detaches any background.
func (d *Dataset) ClearBackground() {
	d.bg = nil
	d.bgID = ""
}

// HasBackground reports whether a background is attached.
func (d *Dataset) HasBackground() bool { return d.bg != nil }

// BackgroundIdentifier returns the fingerprint of the attached
// background, or "" when none is attached.
func (d *Dataset) BackgroundIdentifier() string { return d.bgID }

// backgroundLen returns the length of the attached background, 0 without one.
func (d *Dataset) backgroundLen() int {
	if d.bg == nil {
		return 0
	}
	n, err := d.bg.Len()
	if err != nil {
		return 0
	}
	return n
}

func (d *Dataset) backgroundFor(idx int) (*qpimage.Image, bool, error) {
	if d.bg == nil {
		return nil, false, nil
	}
	n, err := d.bg.Len()
	if err != nil {
		return nil, false, err
	}
	img, err := d.bg.at(idx, n)
	if err != nil {
		return nil, false, err
	}
	return img, true, nil
}
