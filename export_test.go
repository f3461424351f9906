// export_test.go: Tests for exporting datasets to series containers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/agilira/qpformat/internal/compress"
	"github.com/agilira/qpformat/qpimage"
)

func TestExportSharedBackground(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t), WithReconstructor(flatReconstructor))
	if err := ds.SetBackground(BackgroundImage(phaseImage(t, 2, 2, 1, nil))); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "out.qps")
	n, err := ds.Export(out, ExportOptions{})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d images, want 3", n)
	}

	s, err := qpimage.OpenSeries(out)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	identity, _ := ds.Identity()
	if id, ok := s.Identifier(); !ok || id != identity {
		t.Errorf("container identifier = %q, %v, want %q", id, ok, identity)
	}
	for idx := 0; idx < 3; idx++ {
		img, err := s.Image(idx)
		if err != nil {
			t.Fatal(err)
		}
		if !img.HasBackground() {
			t.Errorf("entry %d has no background", idx)
		}
		want, _ := ds.Image(idx)
		if !img.Phase().Equal(want.Phase(), 1e-6) {
			t.Errorf("entry %d phase %v, want %v", idx, img.Phase().Data, want.Phase().Data)
		}
	}

	exported := mustLoad(t, out)
	if exported.Format().Name() != "SeriesPhaseQpimageSQLite" {
		t.Errorf("format = %s", exported.Format().Name())
	}
	img, err := exported.Image(2)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(0, 0); got != 29 {
		t.Errorf("phase = %v, want 30 - 1", got)
	}
	if tm, _ := exported.Time(2); tm != 3 {
		t.Errorf("time = %v, want 3", tm)
	}
}

func TestExportWindowAndProgress(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t), WithReconstructor(flatReconstructor))
	out := filepath.Join(t.TempDir(), "window.qps")

	var calls [][2]int
	n, err := ds.Export(out, ExportOptions{
		Window:   &TimeWindow{Lo: 1.5, Hi: 3},
		Progress: func(done, total int) { calls = append(calls, [2]int{done, total}) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("exported %d images, want 2", n)
	}
	if len(calls) != 3 || calls[2] != [2]int{3, 3} {
		t.Errorf("progress calls = %v", calls)
	}

	s, err := qpimage.OpenSeries(out)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if _, ok := s.Identifier(); ok {
		t.Error("partial export stamped the dataset identifier")
	}
	first, err := s.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if first.Time() != 2 {
		t.Errorf("first exported time = %v, want 2", first.Time())
	}
}

func TestExportRangeAndCrop(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t), WithReconstructor(flatReconstructor))
	out := filepath.Join(t.TempDir(), "crop.qps")
	n, err := ds.Export(out, ExportOptions{
		Start:     1,
		Stop:      2,
		Crop:      &CropRect{R0: 1, R1: 2, C0: 0, C1: 2},
		Container: []qpimage.ContainerOption{qpimage.WithCompression(compress.LZ4)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("exported %d images, want 1", n)
	}
	exported := mustLoad(t, out)
	img, err := exported.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := img.Shape(); r != 1 || c != 2 {
		t.Errorf("shape = %dx%d, want 1x2", r, c)
	}
	if img.Phase().At(0, 1) != 23 {
		t.Errorf("phase = %v, want 23", img.Phase().Data)
	}

	if _, err := ds.Export(filepath.Join(t.TempDir(), "bad.qps"), ExportOptions{Start: 2, Stop: 5}); !HasCode(err, ErrCodeIndexOutOfRange) {
		t.Errorf("error = %v, want %s", err, ErrCodeIndexOutOfRange)
	}
	badCrop := filepath.Join(t.TempDir(), "badcrop.qps")
	if _, err := ds.Export(badCrop, ExportOptions{Crop: &CropRect{R0: 0, R1: 9, C0: 0, C1: 1}}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("error = %v, want %s", err, ErrCodeInvalidConfig)
	}
	if _, err := os.Stat(badCrop); !os.IsNotExist(err) {
		t.Errorf("failed export left %s behind: %v", badCrop, err)
	}
}

func TestExportOntoItself(t *testing.T) {
	path := writeNpy(t, filepath.Join(t.TempDir(), "a.npy"), 2, 2, ramp(2, 2, 0), nil)
	out := filepath.Join(t.TempDir(), "a.qps")
	if _, err := mustLoad(t, path).Export(out, ExportOptions{}); err != nil {
		t.Fatal(err)
	}

	exported := mustLoad(t, out)
	if _, err := exported.Export(out, ExportOptions{}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Fatalf("error = %v, want %s", err, ErrCodeInvalidConfig)
	}
	img, err := mustLoad(t, out).Image(0)
	if err != nil {
		t.Fatalf("source container damaged: %v", err)
	}
	if img.Phase().At(1, 1) != 3 {
		t.Errorf("phase = %v", img.Phase().Data)
	}
}

func TestExportToPathWithHash(t *testing.T) {
	path := writeNpy(t, filepath.Join(t.TempDir(), "a.npy"), 2, 2, ramp(2, 2, 0), nil)
	out := filepath.Join(t.TempDir(), "run#1.qps")
	if _, err := mustLoad(t, path).Export(out, ExportOptions{}); err != nil {
		t.Fatal(err)
	}
	if got := mustLoad(t, out).Format().Name(); got != "SeriesPhaseQpimageSQLite" {
		t.Errorf("format = %s", got)
	}
}

func TestExportKeepsUnknownTimes(t *testing.T) {
	path := writeNpy(t, filepath.Join(t.TempDir(), "a.npy"), 2, 2, ramp(2, 2, 0), nil)
	ds := mustLoad(t, path)
	n, err := ds.Export(filepath.Join(t.TempDir(), "a.qps"), ExportOptions{Window: &TimeWindow{Lo: 10, Hi: 20}})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("exported %d images, want the image with unknown time", n)
	}
}
