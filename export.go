// export.go: Writing datasets to series containers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"os"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
)

// TimeWindow selects images with Lo <= time <= Hi. Images with unknown
// (NaN) time are always kept.
type TimeWindow struct {
	Lo, Hi float64
}

// CropRect restricts exported images to rows [R0, R1) and columns [C0, C1).
type CropRect struct {
	R0, R1, C0, C1 int
}

// ExportOptions controls Dataset.Export. The zero value exports everything.
type ExportOptions struct {
	// Start and Stop select the index range [Start, Stop). Stop <= 0
	// means the end of the dataset.
	Start, Stop int
	Window      *TimeWindow
	Crop        *CropRect
	// Progress is called after each index of the range with the number of
	// indices processed and the size of the range.
	Progress  func(done, total int)
	Container []qpimage.ContainerOption
}

func (o ExportOptions) full() bool {
	return o.Start == 0 && o.Stop <= 0 && o.Window == nil && o.Crop == nil
}

// Export writes the selected images to a new series container at path and
// returns the number of images written. With a single shared background,
// only the first written image stores it; the others link to it. An
// existing file at path is replaced, unless it is the dataset's own file.
// A failed export leaves no container behind.
func (d *Dataset) Export(path string, opts ExportOptions) (int, error) {
	n, err := d.Len()
	if err != nil {
		return 0, err
	}
	start, stop := opts.Start, opts.Stop
	if stop <= 0 {
		stop = n
	}
	if start < 0 || start > stop || stop > n {
		return 0, errors.New(ErrCodeIndexOutOfRange,
			fmt.Sprintf("export range [%d, %d) not within dataset of length %d", start, stop, n))
	}

	if sameFile(path, d.src.Path()) {
		return 0, errors.New(ErrCodeInvalidConfig, "cannot export a dataset onto its own file").
			WithContext("path", path)
	}

	w, err := qpimage.CreateSeries(path, opts.Container...)
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to create series container").WithContext("path", path)
	}
	written, err := d.exportRange(w, start, stop, opts)
	if err != nil {
		_ = w.Close()
		_ = os.Remove(path)
		return written, err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(path)
		return written, errors.Wrap(err, ErrCodeIOError, "failed to finalize series container").WithContext("path", path)
	}
	d.audit.Log(AuditInfo, "series_exported", "dataset", Provenance{
		Source:  d.src.Path(),
		Format:  d.format.Name(),
		Target:  path,
		Context: map[string]interface{}{"images": written, "start": start, "stop": stop},
	})
	return written, nil
}

// sameFile reports whether a and b name the same existing file.
func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

func (d *Dataset) exportRange(w *qpimage.SeriesWriter, start, stop int, opts ExportOptions) (int, error) {
	if opts.full() {
		id, err := d.Identity()
		if err != nil {
			return 0, err
		}
		if err := w.SetIdentifier(id); err != nil {
			return 0, errors.Wrap(err, ErrCodeIOError, "failed to stamp series identifier")
		}
	}
	shared := d.backgroundLen() == 1
	total := stop - start
	written := 0
	for idx := start; idx < stop; idx++ {
		keep, err := d.inWindow(idx, opts.Window)
		if err != nil {
			return written, err
		}
		if keep {
			if err := d.exportOne(w, idx, written == 0 || !shared, opts.Crop); err != nil {
				return written, err
			}
			written++
		}
		if opts.Progress != nil {
			opts.Progress(idx-start+1, total)
		}
	}
	return written, nil
}

func (d *Dataset) inWindow(idx int, win *TimeWindow) (bool, error) {
	if win == nil {
		return true, nil
	}
	t, err := d.Time(idx)
	if err != nil {
		return false, err
	}
	return !(t < win.Lo || t > win.Hi), nil
}

func (d *Dataset) exportOne(w *qpimage.SeriesWriter, idx int, corrected bool, crop *CropRect) error {
	var (
		img *qpimage.Image
		err error
	)
	if corrected {
		img, err = d.Image(idx)
	} else {
		img, err = d.RawImage(idx)
	}
	if err != nil {
		return err
	}
	if crop != nil {
		if img, err = img.Crop(crop.R0, crop.R1, crop.C0, crop.C1); err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, fmt.Sprintf("failed to crop image %d", idx))
		}
	}
	if corrected {
		err = w.Add(img)
	} else {
		err = w.AddSharedBackground(img, 0)
	}
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, fmt.Sprintf("failed to write image %d", idx))
	}
	return nil
}
