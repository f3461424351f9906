// dataset_test.go: Tests for dataset access, identity and backgrounds
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/agilira/qpformat/internal/qpraw"
	"github.com/agilira/qpformat/qpimage"
)

// flatReconstructor returns the interferogram as phase with unit amplitude.
var flatReconstructor = qpimage.ReconstructorFunc(func(kind qpimage.Kind, raw qpimage.Array, kw map[string]any) (qpimage.Array, qpimage.Array, error) {
	return raw.Clone(), qpimage.Filled(raw.Rows, raw.Cols, 1), nil
})

func threeFrameSeries(t *testing.T) string {
	t.Helper()
	return writeQpraw(t, filepath.Join(t.TempDir(), "series.qpr"), qpraw.ModalityOAH,
		[]qpraw.Frame{
			rawFrame(2, 2, 10, map[string]any{"time": 1.0}),
			rawFrame(2, 2, 20, map[string]any{"time": 2.0}),
			rawFrame(2, 2, 30, map[string]any{"time": 3.0}),
		}, nil)
}

func TestDatasetIndexBounds(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t))
	for _, idx := range []int{-1, 3} {
		if _, err := ds.Image(idx); !HasCode(err, ErrCodeIndexOutOfRange) {
			t.Errorf("Image(%d): error = %v", idx, err)
		}
		if _, err := ds.Time(idx); !HasCode(err, ErrCodeIndexOutOfRange) {
			t.Errorf("Time(%d): error = %v", idx, err)
		}
		if _, err := ds.Name(idx); !HasCode(err, ErrCodeIndexOutOfRange) {
			t.Errorf("Name(%d): error = %v", idx, err)
		}
	}
}

func TestDatasetShapeAndString(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t), WithMeta(qpimage.Meta{
		qpimage.MetaWavelength: 550e-9,
		qpimage.MetaPixelSize:  0.34e-6,
	}))
	n, rows, cols, err := ds.Shape()
	if err != nil || n != 3 || rows != 2 || cols != 2 {
		t.Errorf("Shape = %d, %d, %d, %v", n, rows, cols, err)
	}
	s := ds.String()
	for _, want := range []string{"SeriesRawOAHQpformat(", "3 images", "λ=550.0nm", "1px=0.340µm"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
	name, _ := ds.Name(0)
	if !strings.HasSuffix(name, "series.qpr:1") {
		t.Errorf("name = %q", name)
	}
}

func TestIdentityFollowsSettings(t *testing.T) {
	path := threeFrameSeries(t)
	identity := func(opts ...LoadOption) string {
		t.Helper()
		id, err := mustLoad(t, path, opts...).Identity()
		if err != nil {
			t.Fatal(err)
		}
		return id
	}

	plain := identity()
	if plain != identity() {
		t.Error("identity is not deterministic")
	}
	withMeta := identity(WithMeta(qpimage.Meta{qpimage.MetaWavelength: 5e-7}))
	if withMeta == plain {
		t.Error("identity ignores metadata")
	}
	if identity(WithMeta(qpimage.Meta{qpimage.MetaWavelength: 6e-7})) == withMeta {
		t.Error("identity ignores metadata values")
	}
	if identity(WithRetrieveKW(map[string]any{"filter_size": 0.5})) == plain {
		t.Error("identity ignores retrieve keywords")
	}
	if identity(WithPrecision(qpimage.Float64)) != plain {
		t.Error("identity depends on precision")
	}

	ds := mustLoad(t, path)
	id0, _ := ds.Identifier(0)
	id2, _ := ds.Identifier(2)
	if id0 != plain+":1" || id2 != plain+":3" {
		t.Errorf("identifiers %q %q", id0, id2)
	}
	img, err := ds.Image(2)
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := img.Identifier(); got != id2 {
		t.Errorf("image identifier %q, want %q", got, id2)
	}
}

func TestBackgroundLengthRules(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t), WithReconstructor(flatReconstructor))
	bg := func(base float64) *qpimage.Image { return phaseImage(t, 2, 2, base, nil) }

	err := ds.SetBackground(BackgroundImages(bg(1), bg(2)))
	if !HasCode(err, ErrCodeInvalidBackground) {
		t.Fatalf("error = %v, want %s", err, ErrCodeInvalidBackground)
	}
	if ds.HasBackground() {
		t.Fatal("failed SetBackground left a background attached")
	}

	if err := ds.SetBackground(BackgroundImages(bg(1), bg(2), bg(3))); err != nil {
		t.Fatal(err)
	}
	for idx, want := range []float64{9, 18, 27} {
		img, err := ds.Image(idx)
		if err != nil {
			t.Fatal(err)
		}
		if got := img.Phase().At(0, 0); got != want {
			t.Errorf("Image(%d) phase = %v, want %v", idx, got, want)
		}
		if got := img.Amplitude().At(0, 0); got != 0.5 {
			t.Errorf("Image(%d) amplitude = %v, want 0.5", idx, got)
		}
	}

	if err := ds.SetBackground(BackgroundImage(bg(10))); err != nil {
		t.Fatal(err)
	}
	img, err := ds.Image(2)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.Phase().At(1, 1); got != 20 {
		t.Errorf("shared background phase = %v, want 20", got)
	}
	raw, err := ds.RawImage(2)
	if err != nil {
		t.Fatal(err)
	}
	if raw.HasBackground() || raw.Phase().At(1, 1) != 33 {
		t.Error("RawImage applied the background")
	}

	if err := ds.SetBackground(BackgroundImages()); !HasCode(err, ErrCodeInvalidBackground) {
		t.Errorf("empty list: error = %v", err)
	}
	if err := ds.SetBackground(BackgroundDataset(ds)); !HasCode(err, ErrCodeInvalidBackground) {
		t.Errorf("self reference: error = %v", err)
	}
	if !ds.HasBackground() {
		t.Error("rejected background replaced the attached one")
	}
}

func TestBackgroundChangesIdentity(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t))
	plain, _ := ds.Identity()

	if err := ds.SetBackground(BackgroundImage(phaseImage(t, 2, 2, 0, nil))); err != nil {
		t.Fatal(err)
	}
	withBg, _ := ds.Identity()
	if withBg == plain || ds.BackgroundIdentifier() == "" {
		t.Error("background does not change identity")
	}
	id1, _ := ds.Identifier(0)
	if !strings.HasPrefix(id1, withBg) {
		t.Errorf("identifier %q not derived from identity %q", id1, withBg)
	}

	other := phaseImage(t, 2, 2, 5, nil)
	if err := ds.SetBackground(BackgroundImage(other)); err != nil {
		t.Fatal(err)
	}
	if id, _ := ds.Identity(); id == withBg {
		t.Error("different backgrounds give the same identity")
	}

	ds.ClearBackground()
	if id, _ := ds.Identity(); id != plain || ds.HasBackground() {
		t.Error("ClearBackground did not restore the identity")
	}
}

func TestBackgroundDatasetFromPath(t *testing.T) {
	dir := t.TempDir()
	data := writeNpy(t, filepath.Join(dir, "data.npy"), 2, 3, ramp(2, 3, 4), nil)
	bg := writeNpy(t, filepath.Join(dir, "bg.npy"), 2, 3, ramp(2, 3, 1), nil)

	ds := mustLoad(t, data, WithBackgroundPath(bg, ""))
	img, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if !img.Phase().Equal(qpimage.Filled(2, 3, 3), 1e-6) {
		t.Errorf("corrected phase = %v", img.Phase().Data)
	}
	bgds := mustLoad(t, bg)
	bgID, _ := bgds.Identity()
	if ds.BackgroundIdentifier() != bgID {
		t.Errorf("background identifier %q, want the background identity %q", ds.BackgroundIdentifier(), bgID)
	}

	if _, err := Load(data, WithBackgroundPath(bg, ""), WithBackgroundImage(phaseImage(t, 2, 3, 0, nil))); !HasCode(err, ErrCodeInvalidBackground) {
		t.Errorf("both backgrounds: error = %v", err)
	}
	if _, err := Load(data, WithBackgroundPath(bg, "SingleRawOAHTif")); !HasCode(err, ErrCodeWrongFormat) {
		t.Errorf("background format mismatch: error = %v", err)
	}
}

func TestAttachedBackgroundOverridesStored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.qps")
	img := phaseImage(t, 2, 2, 10, nil)
	if err := img.SetBackground(phaseImage(t, 2, 2, 1, nil)); err != nil {
		t.Fatal(err)
	}
	if err := qpimage.WriteSingle(path, img); err != nil {
		t.Fatal(err)
	}

	ds := mustLoad(t, path)
	if err := ds.SetBackground(BackgroundImage(phaseImage(t, 2, 2, 4, nil))); err != nil {
		t.Fatal(err)
	}
	got, err := ds.Image(0)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase().At(0, 0) != 6 {
		t.Errorf("phase = %v, want 10 - 4", got.Phase().At(0, 0))
	}
}

func TestBackgroundShapeMismatch(t *testing.T) {
	ds := mustLoad(t, threeFrameSeries(t))
	if err := ds.SetBackground(BackgroundImage(phaseImage(t, 3, 3, 0, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := ds.Image(0); !HasCode(err, ErrCodeInvalidBackground) {
		t.Errorf("error = %v, want %s", err, ErrCodeInvalidBackground)
	}
}

func TestAsSingle(t *testing.T) {
	dir := t.TempDir()
	single := writeNpy(t, filepath.Join(dir, "a.npy"), 2, 2, ramp(2, 2, 0), nil)
	s, err := AsSingle(mustLoad(t, single, WithMeta(qpimage.Meta{qpimage.MetaTime: 3.5})))
	if err != nil {
		t.Fatal(err)
	}
	if tm, _ := s.Time(); tm != 3.5 {
		t.Errorf("time = %v", tm)
	}
	id, _ := s.Identifier()
	identity, _ := s.Identity()
	if id != identity {
		t.Errorf("identifier %q differs from identity %q", id, identity)
	}
	if _, err := s.Image(); err != nil {
		t.Error(err)
	}

	if _, err := AsSingle(mustLoad(t, threeFrameSeries(t))); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("series: error = %v", err)
	}
}

func TestDatasetAuditTrail(t *testing.T) {
	al, path := newJSONLAudit(t, 16)
	data := writeNpy(t, filepath.Join(t.TempDir(), "a.npy"), 2, 2, ramp(2, 2, 0), nil)
	ds := mustLoad(t, data, WithAudit(al))
	if err := ds.SetBackground(BackgroundImage(phaseImage(t, 2, 2, 0, nil))); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(filepath.Join(filepath.Dir(data), "a.npy"), WithAudit(al), WithFormat("SingleRawOAHTif")); err == nil {
		t.Fatal("expected a format mismatch")
	}
	if err := al.Flush(); err != nil {
		t.Fatal(err)
	}

	var names []string
	for _, ev := range readAuditLines(t, path) {
		names = append(names, ev.Event)
	}
	want := []string{"format_detected", "dataset_loaded", "background_attached", "format_rejected"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", names, want)
	}
}
