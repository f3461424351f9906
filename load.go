// load.go: Entry point resolving a path to a Dataset
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
)

// LoadOption configures Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	format        string
	meta          qpimage.Meta
	retrieveKW    map[string]any
	holoKW        map[string]any
	precision     qpimage.Precision
	bgPath        string
	bgFormat      string
	bgImage       *qpimage.Image
	registry      *Registry
	audit         *AuditLogger
	reconstructor qpimage.Reconstructor
}

// WithFormat skips detection and uses the named format. The format must
// still accept the file.
func WithFormat(name string) LoadOption {
	return func(o *loadOptions) { o.format = name }
}

// WithMeta sets metadata that overrides values found in the file.
func WithMeta(meta qpimage.Meta) LoadOption {
	return func(o *loadOptions) { o.meta = meta }
}

// WithPrecision sets the storage precision of produced images.
func WithPrecision(p qpimage.Precision) LoadOption {
	return func(o *loadOptions) { o.precision = p }
}

// WithRetrieveKW sets keyword arguments passed to the reconstructor for
// raw interferogram formats.
func WithRetrieveKW(kw map[string]any) LoadOption {
	return func(o *loadOptions) { o.retrieveKW = kw }
}

// WithHoloKW sets hologram keywords in the legacy vocabulary.
//
// Deprecated: use WithRetrieveKW. Keys are translated: "sideband" of +1 or
// -1 becomes "invert_phase", any other "sideband" becomes "sideband_freq"
// with "invert_phase" false, and "zero_pad" becomes "padding".
func WithHoloKW(kw map[string]any) LoadOption {
	return func(o *loadOptions) { o.holoKW = kw }
}

// WithBackgroundPath loads the file at path, through the same detection,
// and attaches it as background. format may be empty.
func WithBackgroundPath(path, format string) LoadOption {
	return func(o *loadOptions) { o.bgPath, o.bgFormat = path, format }
}

// WithBackgroundImage attaches img as background for every index.
func WithBackgroundImage(img *qpimage.Image) LoadOption {
	return func(o *loadOptions) { o.bgImage = img }
}

// WithRegistry replaces DefaultRegistry.
func WithRegistry(r *Registry) LoadOption {
	return func(o *loadOptions) { o.registry = r }
}

// WithAudit records provenance events to l.
func WithAudit(l *AuditLogger) LoadOption {
	return func(o *loadOptions) { o.audit = l }
}

// WithReconstructor sets the phase retrieval routine for raw formats.
func WithReconstructor(r qpimage.Reconstructor) LoadOption {
	return func(o *loadOptions) { o.reconstructor = r }
}

// Load detects the format of path and opens it.
func Load(path string, opts ...LoadOption) (*Dataset, error) {
	o := loadOptions{precision: qpimage.Float32}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.meta.Validate(); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidMetadataKey, "invalid metadata")
	}
	if o.bgPath != "" && o.bgImage != nil {
		return nil, errors.New(ErrCodeInvalidBackground, "background path and background image are mutually exclusive")
	}
	kw := mergeRetrieveKW(o.retrieveKW, o.holoKW)
	if o.registry == nil {
		o.registry = DefaultRegistry()
	}
	cfg := datasetConfig{
		meta:          o.meta,
		retrieveKW:    kw,
		precision:     o.precision,
		reconstructor: o.reconstructor,
		registry:      o.registry,
		audit:         o.audit,
	}

	src, err := PathSource(path)
	if err != nil {
		return nil, err
	}
	ds, err := loadSource(src, o.format, cfg)
	if err != nil {
		return nil, err
	}

	switch {
	case o.bgPath != "":
		bg, err := Load(o.bgPath,
			WithFormat(o.bgFormat),
			WithMeta(o.meta),
			WithPrecision(o.precision),
			WithRetrieveKW(kw),
			WithRegistry(o.registry),
			WithAudit(o.audit),
			WithReconstructor(o.reconstructor))
		if err != nil {
			return nil, err
		}
		if err := ds.SetBackground(BackgroundDataset(bg)); err != nil {
			return nil, err
		}
	case o.bgImage != nil:
		if err := ds.SetBackground(BackgroundImage(o.bgImage)); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// loadSource dispatches src and opens the resulting format.
func loadSource(src Source, format string, cfg datasetConfig) (*Dataset, error) {
	var (
		f   Format
		err error
	)
	if format != "" {
		f, err = cfg.registry.DispatchNamed(src, format)
	} else {
		f, err = cfg.registry.Dispatch(src)
	}
	if err != nil {
		cfg.audit.Log(AuditWarn, "format_rejected", "registry", Provenance{Source: src.Path(), Format: format})
		return nil, err
	}
	cfg.audit.Log(AuditInfo, "format_detected", "registry", Provenance{Source: src.Path(), Format: f.Name()})

	ds, err := openDataset(src, f, cfg)
	if err != nil {
		return nil, err
	}
	if n, lerr := ds.Len(); lerr == nil {
		cfg.audit.Log(AuditInfo, "dataset_loaded", "dataset", Provenance{
			Source:  src.Path(),
			Format:  f.Name(),
			Context: map[string]interface{}{"length": n, "precision": string(cfg.precision)},
		})
	}
	return ds, nil
}

// mergeRetrieveKW translates legacy hologram keywords and merges them
// under kw.
func mergeRetrieveKW(kw, holo map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range holo {
		switch k {
		case "sideband":
			if sb, ok := toFloat(v); ok && (sb == 1 || sb == -1) {
				out["invert_phase"] = sb == -1
			} else {
				out["sideband_freq"] = v
				out["invert_phase"] = false
			}
		case "zero_pad":
			out["padding"] = v
		default:
			out[k] = v
		}
	}
	for k, v := range kw {
		out[k] = v
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}
