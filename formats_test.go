// formats_test.go: Tests for the built-in file formats
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agilira/qpformat/internal/qpraw"
	"github.com/agilira/qpformat/qpimage"
)

func TestNumpyRealIsPhase(t *testing.T) {
	path := writeNpy(t, filepath.Join(t.TempDir(), "phase.npy"), 2, 3, ramp(2, 3, 0.5), nil)

	ds := mustLoad(t, path)
	if ds.Format().Name() != "SingleFieldPhaseNumpyNpy" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	kind, err := ds.StorageKind()
	if err != nil || kind != StoragePhase {
		t.Fatalf("storage = %q, %v", kind, err)
	}
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(1, 2); got != 5.5 {
		t.Errorf("phase(1,2) = %v, want 5.5", got)
	}
	if got := img.Amplitude().At(0, 0); got != 1 {
		t.Errorf("amplitude = %v, want 1", got)
	}
	if tm, _ := ds.Time(0); !math.IsNaN(tm) {
		t.Errorf("time = %v, want NaN", tm)
	}
}

func TestNumpyComplexIsField(t *testing.T) {
	re := []float64{0, 3, -1, 0}
	im := []float64{1, 4, 0, 0}
	path := writeNpy(t, filepath.Join(t.TempDir(), "field.npy"), 2, 2, re, im)

	ds := mustLoad(t, path, WithPrecision(qpimage.Float64))
	kind, err := ds.StorageKind()
	if err != nil || kind != StorageField {
		t.Fatalf("storage = %q, %v", kind, err)
	}
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Amplitude().At(0, 1); got != 5 {
		t.Errorf("amplitude = %v, want 5", got)
	}
	if got := img.Phase().At(0, 0); !near(got, math.Pi/2, 1e-12) {
		t.Errorf("phase = %v, want pi/2", got)
	}
	if got := img.Phase().At(1, 0); !near(got, math.Pi, 1e-12) {
		t.Errorf("phase = %v, want pi", got)
	}
}

func TestNumpyNeedsExtensionAndTwoDimensions(t *testing.T) {
	dir := t.TempDir()
	data, err := os.ReadFile(writeNpy(t, filepath.Join(dir, "a.npy"), 2, 2, ramp(2, 2, 0), nil))
	if err != nil {
		t.Fatal(err)
	}
	renamed := writeFile(t, filepath.Join(dir, "a.bin"), data)
	if _, err := Load(renamed); !HasCode(err, ErrCodeUnknownFormat) {
		t.Errorf("error = %v, want %s", err, ErrCodeUnknownFormat)
	}
}

func TestRawOAHTifUsesModificationTime(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "holo.tif"), hologramTif(t, 4, 4, ramp(4, 4, 10)))
	mtime := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	var gotKind qpimage.Kind
	rec := qpimage.ReconstructorFunc(func(kind qpimage.Kind, raw qpimage.Array, kw map[string]any) (qpimage.Array, qpimage.Array, error) {
		gotKind = kind
		return raw.Map(func(v float64) float64 { return v / 100 }), qpimage.Filled(raw.Rows, raw.Cols, 1), nil
	})
	ds := mustLoad(t, path, WithReconstructor(rec))
	if ds.Format().Name() != "SingleRawOAHTif" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if gotKind != qpimage.KindRawOAH {
		t.Errorf("reconstructed kind = %q", gotKind)
	}
	if got := img.Phase().At(0, 1); !near(got, 0.11, 1e-6) {
		t.Errorf("phase = %v, want 0.11", got)
	}
	tm, err := ds.Time(0)
	if err != nil || tm != float64(mtime.Unix()) {
		t.Errorf("time = %v, %v, want %d", tm, err, mtime.Unix())
	}
	if img.Time() != float64(mtime.Unix()) {
		t.Errorf("image time = %v", img.Time())
	}
}

func TestRawOAHTifCorruptStripIsMalformed(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "broken.tif"), corruptStripTif())
	ds := mustLoad(t, path, WithFormat("SingleRawOAHTif"))
	if _, err := ds.RawImage(0); !HasCode(err, ErrCodeMalformedData) {
		t.Errorf("RawImage error = %v, want %s", err, ErrCodeMalformedData)
	}
}

func TestRawOAHZipTif(t *testing.T) {
	t1 := time.Date(2023, 1, 2, 3, 4, 6, 0, time.UTC)
	t2 := time.Date(2023, 1, 2, 3, 4, 8, 0, time.UTC)
	path := writeZip(t, filepath.Join(t.TempDir(), "holos.zip"),
		zipEntry{"b.tif", hologramTif(t, 3, 3, ramp(3, 3, 20)), t2},
		zipEntry{"notes.txt", []byte("not an image"), t1},
		zipEntry{"a.tif", hologramTif(t, 3, 3, ramp(3, 3, 10)), t1},
	)

	ds := mustLoad(t, path)
	if ds.Format().Name() != "SeriesRawOAHZipTif" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	if n := mustLen(t, ds); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	for i, want := range []time.Time{t1, t2} {
		tm, err := ds.Time(i)
		if err != nil || tm != float64(want.Unix()) {
			t.Errorf("time(%d) = %v, %v, want %d", i, tm, err, want.Unix())
		}
	}
	name, err := ds.Name(1)
	if err != nil || !strings.HasSuffix(name, ":b.tif") {
		t.Errorf("name = %q, %v", name, err)
	}
	id0, _ := ds.Identifier(0)
	id1, _ := ds.Identifier(1)
	if id0 == id1 || !strings.HasSuffix(id1, ":2") {
		t.Errorf("identifiers %q %q", id0, id1)
	}
}

func TestPhasicsTifWithRecordedWavelength(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "SID PHA 0001.tif"), phasicsTif(t, phasicsSpec{
		rows: 2, cols: 3, intensityPx: 400, waveFraction: 0.5, nanometers: 999,
		wavelengthNM: 550, date: "2016-04-13_14h12m35s.50000",
	}))

	ds := mustLoad(t, path)
	if ds.Format().Name() != "SinglePhasePhasicsTif" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(1, 1); !near(got, math.Pi, 1e-6) {
		t.Errorf("phase = %v, want pi", got)
	}
	if got := img.Amplitude().At(0, 0); !near(got, math.Sqrt(250), 1e-4) {
		t.Errorf("amplitude = %v, want sqrt(250)", got)
	}
	if wl, ok := img.Meta().Float(qpimage.MetaWavelength); !ok || !near(wl, 550e-9, 1e-15) {
		t.Errorf("wavelength = %v, %v", wl, ok)
	}
	want := float64(time.Date(2016, 4, 13, 14, 12, 35, 0, time.UTC).Unix()) + 0.5
	if tm, err := ds.Time(0); err != nil || !near(tm, want, 1e-6) {
		t.Errorf("time = %v, %v, want %v", tm, err, want)
	}
}

func TestPhasicsTifUserWavelengthOverrides(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "SID PHA 0001.tif"), phasicsTif(t, phasicsSpec{
		rows: 2, cols: 2, intensityPx: 100, waveFraction: 0.5, wavelengthNM: 550,
	}))
	ds := mustLoad(t, path, WithMeta(qpimage.Meta{qpimage.MetaWavelength: 1100e-9}))
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(0, 0); !near(got, math.Pi/2, 1e-6) {
		t.Errorf("phase = %v, want pi/2", got)
	}
	if got := img.Amplitude().At(0, 0); got != 0 {
		t.Errorf("clipped intensity gives amplitude %v, want 0", got)
	}
	if tm, _ := ds.Time(0); !math.IsNaN(tm) {
		t.Errorf("time = %v, want NaN", tm)
	}
}

func TestPhasicsTifWithoutWavelength(t *testing.T) {
	path := writeFile(t, filepath.Join(t.TempDir(), "SID PHA 0001.tif"), phasicsTif(t, phasicsSpec{
		rows: 2, cols: 2, intensityPx: 400, nanometers: 275,
	}))

	if _, err := Load(path); !HasCode(err, ErrCodeMalformedData) {
		t.Fatalf("error = %v, want %s", err, ErrCodeMalformedData)
	}

	ds := mustLoad(t, path, WithMeta(qpimage.Meta{qpimage.MetaWavelength: 550e-9}))
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(1, 1); !near(got, math.Pi, 1e-6) {
		t.Errorf("phase from nanometer page = %v, want pi", got)
	}
}

func TestPhasicsZipTif(t *testing.T) {
	spec := phasicsSpec{rows: 2, cols: 2, intensityPx: 400, waveFraction: 0.25, wavelengthNM: 600,
		date: "2020-01-01_00h00m10s"}
	later := spec
	later.date = "2020-01-01_00h00m20s"
	path := writeZip(t, filepath.Join(t.TempDir(), "phasics.zip"),
		zipEntry{"SID PHA 0002.tif", phasicsTif(t, later), time.Time{}},
		zipEntry{"SID PHA 0001.tif", phasicsTif(t, spec), time.Time{}},
		zipEntry{"camera.tif", hologramTif(t, 2, 2, ramp(2, 2, 0)), time.Time{}},
	)

	ds := mustLoad(t, path)
	if ds.Format().Name() != "SeriesPhasePhasicsZipTif" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	if n := mustLen(t, ds); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	t0, _ := ds.Time(0)
	t1, _ := ds.Time(1)
	if t1-t0 != 10 {
		t.Errorf("times %v %v, want 10 s apart", t0, t1)
	}
	img, err := ds.Image(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(0, 0); !near(got, math.Pi/2, 1e-6) {
		t.Errorf("phase = %v, want pi/2", got)
	}
	if kind, _ := ds.StorageKind(); kind != StoragePhaseIntensity {
		t.Errorf("storage = %q", kind)
	}
}

func TestQprawOAHSingleAndSeries(t *testing.T) {
	dir := t.TempDir()
	single := writeQpraw(t, filepath.Join(dir, "one.qpr"), qpraw.ModalityOAH,
		[]qpraw.Frame{rawFrame(3, 3, 1, map[string]any{"time": 12.5})}, nil)
	series := writeQpraw(t, filepath.Join(dir, "many.qpr"), qpraw.ModalityOAH,
		[]qpraw.Frame{rawFrame(3, 3, 1, nil), rawFrame(3, 3, 2, nil), rawFrame(3, 3, 3, nil)}, nil)

	ds := mustLoad(t, single)
	if ds.Format().Name() != "SingleRawOAHQpformat" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	if tm, _ := ds.Time(0); tm != 12.5 {
		t.Errorf("time = %v, want 12.5", tm)
	}
	id, _ := ds.Identity()
	if iid, _ := ds.Identifier(0); iid != id {
		t.Errorf("single-image identifier %q differs from identity %q", iid, id)
	}

	ds = mustLoad(t, series)
	if ds.Format().Name() != "SeriesRawOAHQpformat" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	if n := mustLen(t, ds); n != 3 {
		t.Fatalf("len = %d", n)
	}
	img, err := ds.Image(2)
	if err != nil {
		t.Fatal(err)
	}
	if r, c := img.Shape(); r != 3 || c != 3 {
		t.Errorf("shape = %dx%d", r, c)
	}
}

func TestQprawQLSIDefaultsAndReference(t *testing.T) {
	path := writeQpraw(t, filepath.Join(t.TempDir(), "qlsi.qpr"), qpraw.ModalityQLSI,
		[]qpraw.Frame{
			rawFrame(2, 2, 10, map[string]any{"wavelength": 5.5e-7, "qlsi_pitch_term": 1.87e-3}),
			rawFrame(2, 2, 20, map[string]any{"wavelength": 5.5e-7, "qlsi_pitch_term": 1.87e-3}),
		},
		&qpraw.Frame{Rows: 2, Cols: 2, Data: []float64{1, 1, 1, 1}, Meta: map[string]any{"wavelength": 5.5e-7}},
	)

	var seen []map[string]any
	rec := qpimage.ReconstructorFunc(func(kind qpimage.Kind, raw qpimage.Array, kw map[string]any) (qpimage.Array, qpimage.Array, error) {
		seen = append(seen, kw)
		return raw.Clone(), qpimage.Filled(raw.Rows, raw.Cols, 1), nil
	})
	ds := mustLoad(t, path, WithReconstructor(rec), WithRetrieveKW(map[string]any{"wavelength": 6e-7}))
	if ds.Format().Name() != "SeriesRawQLSIQpformat" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	img, err := ds.Image(1)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(0, 0); got != 19 {
		t.Errorf("corrected phase = %v, want 20 - 1", got)
	}
	if len(seen) == 0 {
		t.Fatal("reconstructor not called")
	}
	kw := seen[0]
	if kw["wavelength"] != 6e-7 {
		t.Errorf("explicit wavelength keyword replaced: %v", kw["wavelength"])
	}
	if kw["qlsi_pitch_term"] != 1.87e-3 {
		t.Errorf("pitch term = %v", kw["qlsi_pitch_term"])
	}

	ds = mustLoad(t, path, WithReconstructor(rec))
	seen = nil
	if _, err := ds.RawImage(0); err != nil {
		t.Fatal(err)
	}
	if seen[0]["wavelength"] != 5.5e-7 {
		t.Errorf("default wavelength keyword = %v", seen[0]["wavelength"])
	}
}

func TestQpimageSQLiteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	single := filepath.Join(dir, "single.qps")
	img := phaseImage(t, 3, 3, 1, qpimage.Meta{qpimage.MetaWavelength: 5e-7, qpimage.MetaTime: 42.0})
	bg := phaseImage(t, 3, 3, 0.5, nil)
	if err := img.SetBackground(bg); err != nil {
		t.Fatal(err)
	}
	if err := qpimage.WriteSingle(single, img); err != nil {
		t.Fatal(err)
	}

	ds := mustLoad(t, single)
	if ds.Format().Name() != "SinglePhaseQpimageSQLite" {
		t.Fatalf("format = %s", ds.Format().Name())
	}
	raw, err := ds.RawImage(0)
	if err != nil {
		t.Fatal(err)
	}
	if raw.HasBackground() {
		t.Error("raw image carries the stored background")
	}
	got, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Phase().Equal(img.Phase(), 1e-6) {
		t.Error("stored background not applied")
	}
	if tm, _ := ds.Time(0); tm != 42 {
		t.Errorf("time = %v, want 42", tm)
	}
	if wl, _ := got.Meta().Float(qpimage.MetaWavelength); wl != 5e-7 {
		t.Errorf("wavelength = %v", wl)
	}

	ds = mustLoad(t, single, WithMeta(qpimage.Meta{qpimage.MetaTime: 7.0}))
	if tm, _ := ds.Time(0); tm != 7 {
		t.Errorf("user time = %v, want 7", tm)
	}
}
