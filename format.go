// format.go: The contract implemented by every file format
//
// A Format is a static descriptor: it names an encoding, ranks it against
// the other formats, recognizes it cheaply (Sniff) and opens it (Open).
// Opening yields a Reader bound to one Dataset. Capabilities that only some
// formats have are separate interfaces a Reader may implement.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"github.com/agilira/qpformat/qpimage"
)

// StorageKind names the physical quantities a format stores.
type StorageKind string

const (
	StoragePhase          StorageKind = "phase"
	StoragePhaseAmplitude StorageKind = "phase,amplitude"
	StoragePhaseIntensity StorageKind = "phase,intensity"
	StorageField          StorageKind = "field"
	StorageRawOAH         StorageKind = "raw-oah"
	StorageRawQLSI        StorageKind = "raw-qlsi"
	// StorageVariable is resolved per file through StorageResolver.
	StorageVariable StorageKind = "variable"
)

// Format describes one on-disk encoding.
type Format interface {
	// Name is unique within a registry.
	Name() string
	// Priority orders formats during dispatch; lower values are tried first.
	Priority() int
	IsSeries() bool
	StorageKind() StorageKind
	// Sniff reports whether src has this format. It reads at most a header
	// and never fails: every error means false.
	Sniff(src Source) bool
	// Open binds the format to the dataset described by env.
	Open(env *Env) (Reader, error)
}

// Reader gives indexed access to the images of one opened file.
type Reader interface {
	Len() (int, error)
	// RawImage returns image idx without background correction. The
	// image must carry qpimage.MetaIdentifier.
	RawImage(idx int) (*qpimage.Image, error)
	// Time returns the acquisition time of image idx, NaN if unknown.
	Time(idx int) (float64, error)
}

// StoredBackgrounder is implemented by readers of files that carry their
// own background. It is consulted only when no background was attached.
type StoredBackgrounder interface {
	StoredBackground(idx int) (bg *qpimage.Image, ok bool, err error)
}

// StorageResolver is implemented by readers of StorageVariable formats.
type StorageResolver interface {
	ResolveStorage() (StorageKind, error)
}

// IndexIdentifier replaces the default "{identity}:{idx+1}" identifier.
type IndexIdentifier interface {
	IndexIdentifier(idx int) (string, error)
}

// IdentityProvider replaces the file prefix and size in the identity
// computation. The metadata fingerprint is still appended.
type IdentityProvider interface {
	IdentityData() ([]any, error)
}

// Namer provides display names per index.
type Namer interface {
	Name(idx int) (string, error)
}

// registryBinder is implemented by aggregate formats that dispatch the
// files they contain through the registry they are registered in.
type registryBinder interface {
	bindRegistry(r *Registry) Format
}

// Env carries the dataset settings a format needs while opening and
// reading a source.
type Env struct {
	Source        Source
	Meta          qpimage.Meta
	RetrieveKW    map[string]any
	Precision     qpimage.Precision
	Reconstructor qpimage.Reconstructor
	Registry      *Registry
	Audit         *AuditLogger

	ds *Dataset
}

// Identity returns the identity of the dataset being read.
func (e *Env) Identity() (string, error) { return e.ds.Identity() }

// Identifier returns the identifier readers stamp on image idx.
func (e *Env) Identifier(idx int) (string, error) { return e.ds.Identifier(idx) }

// ImageOptions returns the qpimage options derived from the settings.
// kw replaces the retrieve keywords when non-nil.
func (e *Env) ImageOptions(kw map[string]any) []qpimage.Option {
	if kw == nil {
		kw = e.RetrieveKW
	}
	opts := []qpimage.Option{qpimage.WithPrecision(e.Precision), qpimage.WithRetrieveKW(kw)}
	if e.Reconstructor != nil {
		opts = append(opts, qpimage.WithReconstructor(e.Reconstructor))
	}
	return opts
}

// NewImage builds image idx from d. Known keys of fileMeta are kept,
// user metadata overrides them and the identifier is stamped.
func (e *Env) NewImage(d qpimage.Data, fileMeta qpimage.Meta, idx int) (*qpimage.Image, error) {
	return e.newImage(d, fileMeta, idx, nil)
}

func (e *Env) newImage(d qpimage.Data, fileMeta qpimage.Meta, idx int, kw map[string]any) (*qpimage.Image, error) {
	id, err := e.Identifier(idx)
	if err != nil {
		return nil, err
	}
	meta := knownMeta(fileMeta).Merge(e.Meta)
	meta[qpimage.MetaIdentifier] = id
	img, err := qpimage.New(d, meta, e.ImageOptions(kw)...)
	if err != nil {
		return nil, malformed(err, e.formatName(), "failed to build image")
	}
	return img, nil
}

func (e *Env) formatName() string {
	if e.ds == nil || e.ds.format == nil {
		return ""
	}
	return e.ds.format.Name()
}

// knownMeta drops keys outside qpimage.MetaKeys.
func knownMeta(m qpimage.Meta) qpimage.Meta {
	out := qpimage.Meta{}
	for k, v := range m {
		if qpimage.MetaKeys[k] {
			out[k] = v
		}
	}
	return out
}

// formatInfo carries the static descriptor fields shared by the built-in
// formats.
type formatInfo struct {
	name     string
	priority int
	series   bool
	storage  StorageKind
}

func (f formatInfo) Name() string             { return f.name }
func (f formatInfo) Priority() int            { return f.priority }
func (f formatInfo) IsSeries() bool           { return f.series }
func (f formatInfo) StorageKind() StorageKind { return f.storage }

// userTime returns the acquisition time set in the dataset metadata.
func (e *Env) userTime() (float64, bool) {
	return e.Meta.Float(qpimage.MetaTime)
}
