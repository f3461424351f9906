// registry.go: Ordered format registry and dispatch
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agilira/go-errors"
)

// Registry is an immutable, priority-ordered list of formats.
type Registry struct {
	formats []Format
	byName  map[string]Format
}

// NewRegistry sorts formats by priority, keeping registration order for
// ties. Duplicate names are rejected.
func NewRegistry(formats ...Format) (*Registry, error) {
	r := &Registry{byName: make(map[string]Format, len(formats))}
	for _, f := range formats {
		if f == nil {
			return nil, errors.New(ErrCodeInvalidConfig, "nil format in registry")
		}
		if _, dup := r.byName[f.Name()]; dup {
			return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("duplicate format name %q", f.Name()))
		}
		r.byName[f.Name()] = f
		r.formats = append(r.formats, f)
	}
	for i, f := range r.formats {
		if b, ok := f.(registryBinder); ok {
			bound := b.bindRegistry(r)
			r.formats[i] = bound
			r.byName[bound.Name()] = bound
		}
	}
	sort.SliceStable(r.formats, func(i, j int) bool {
		return r.formats[i].Priority() < r.formats[j].Priority()
	})
	return r, nil
}

var (
	defaultRegistryOnce sync.Once
	defaultRegistry     *Registry
)

// DefaultRegistry returns the registry of built-in formats. It is built
// on first use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		r, err := NewRegistry(BuiltinFormats()...)
		if err != nil {
			panic("qpformat: invalid built-in format list: " + err.Error())
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// BuiltinFormats returns a fresh list of the built-in formats in
// registration order.
func BuiltinFormats() []Format {
	return []Format{
		&SeriesFolder{},
		SingleRawOAHQpformat(),
		SeriesRawOAHQpformat(),
		SingleRawQLSIQpformat(),
		SeriesRawQLSIQpformat(),
		SinglePhaseQpimageSQLite(),
		SeriesPhaseQpimageSQLite(),
		SeriesPhasePhasicsZipTif(),
		SeriesRawOAHZipTif(),
		SinglePhasePhasicsTif(),
		SingleRawOAHTif(),
		SingleFieldPhaseNumpyNpy(),
	}
}

// Formats returns the formats in dispatch order.
func (r *Registry) Formats() []Format {
	out := make([]Format, len(r.formats))
	copy(out, r.formats)
	return out
}

// Names returns the format names in dispatch order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.formats))
	for i, f := range r.formats {
		names[i] = f.Name()
	}
	return names
}

// Lookup returns the format called name.
func (r *Registry) Lookup(name string) (Format, bool) {
	f, ok := r.byName[name]
	return f, ok
}

// Without returns a registry lacking the named formats.
func (r *Registry) Without(names ...string) (*Registry, error) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := r.byName[n]; !ok {
			return nil, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("unknown format %q", n))
		}
		drop[n] = true
	}
	var kept []Format
	for _, f := range r.formats {
		if !drop[f.Name()] {
			kept = append(kept, f)
		}
	}
	return NewRegistry(kept...)
}

// Dispatch returns the first format, in priority order, that accepts src.
func (r *Registry) Dispatch(src Source) (Format, error) {
	for _, f := range r.formats {
		if f.Sniff(src) {
			return f, nil
		}
	}
	if err := r.rejection(src); err != nil {
		return nil, err
	}
	return nil, errors.New(ErrCodeUnknownFormat, fmt.Sprintf("could not determine file format of %s", src.Path())).
		WithContext("path", src.Path())
}

// DispatchNamed returns the format called name after checking that it
// accepts src.
func (r *Registry) DispatchNamed(src Source, name string) (Format, error) {
	f, ok := r.byName[name]
	if !ok {
		return nil, errors.New(ErrCodeWrongFormat,
			fmt.Sprintf("unknown format %q, registered formats: %s", name, strings.Join(r.Names(), ", "))).
			WithContext("format", name)
	}
	if !f.Sniff(src) {
		if d, ok := f.(sniffDiagnoser); ok {
			if err := d.sniffError(src); err != nil {
				return nil, err
			}
		}
		return nil, errors.New(ErrCodeWrongFormat, fmt.Sprintf("%s is not in format %s", src.Path(), name)).
			WithContext("path", src.Path()).
			WithContext("format", name)
	}
	return f, nil
}

// sniffDiagnoser is implemented by formats whose rejection of a source is
// worth reporting, such as a directory holding several formats.
type sniffDiagnoser interface {
	sniffError(src Source) error
}

func (r *Registry) rejection(src Source) error {
	for _, f := range r.formats {
		if d, ok := f.(sniffDiagnoser); ok {
			if err := d.sniffError(src); err != nil {
				return err
			}
		}
	}
	return nil
}
