// single.go: Index-less access to one-image datasets
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

// Single wraps a dataset that holds exactly one image.
type Single struct {
	*Dataset
}

// AsSingle returns d as a Single. d must hold exactly one image.
func AsSingle(d *Dataset) (*Single, error) {
	n, err := d.Len()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%s holds %d images, expected 1", d.src.Path(), n)).
			WithContext("format", d.format.Name())
	}
	return &Single{Dataset: d}, nil
}

// Image returns the background-corrected image.
func (s *Single) Image() (*qpimage.Image, error) { return s.Dataset.Image(0) }

// RawImage returns the image without background correction.
func (s *Single) RawImage() (*qpimage.Image, error) { return s.Dataset.RawImage(0) }

// Time returns the acquisition time, NaN when unknown.
func (s *Single) Time() (float64, error) { return s.Dataset.Time(0) }

// Identifier returns the identifier of the image.
func (s *Single) Identifier() (string, error) { return s.Dataset.Identifier(0) }

// Name returns the display name of the image.
func (s *Single) Name() (string, error) { return s.Dataset.Name(0) }
