// fmt_folder.go: Directories of single-format files as one series
//
// A directory is a valid series when its files, after the reconciliation
// rules below, are recognized by exactly one format. Only immediate files
// are considered.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/qpimage"
)

// containerExceptions lists formats whose files are ignored when a
// directory holds more than one format. Exported series containers are
// often saved next to the data they were made from.
var containerExceptions = map[string]bool{
	"SinglePhaseQpimageSQLite": true,
	"SeriesPhaseQpimageSQLite": true,
}

// supersededBy maps a format to the formats whose files it makes
// redundant when both occur in one directory. The phasics software writes
// raw camera frames next to its processed phase files.
var supersededBy = map[string][]string{
	"SinglePhasePhasicsTif": {"SingleRawOAHTif"},
}

// SeriesFolder treats a directory as a series.
type SeriesFolder struct {
	registry *Registry
}

func (f *SeriesFolder) Name() string             { return "SeriesFolder" }
func (f *SeriesFolder) Priority() int            { return -3 }
func (f *SeriesFolder) IsSeries() bool           { return true }
func (f *SeriesFolder) StorageKind() StorageKind { return StorageVariable }

func (f *SeriesFolder) bindRegistry(r *Registry) Format {
	return &SeriesFolder{registry: r}
}

func (f *SeriesFolder) formats() *Registry {
	if f.registry != nil {
		return f.registry
	}
	return DefaultRegistry()
}

// Sniff accepts directories that hold at least one recognized file and
// reconcile to a single format.
func (f *SeriesFolder) Sniff(src Source) bool {
	if !src.IsDir() {
		return false
	}
	entries, err := f.scan(src)
	return err == nil && len(entries) > 0
}

// sniffError explains why Sniff rejected a directory of mixed formats.
func (f *SeriesFolder) sniffError(src Source) error {
	if !src.IsDir() {
		return nil
	}
	_, err := f.scan(src)
	if HasCode(err, ErrCodeMultipleFormats) {
		return err
	}
	return nil
}

type folderEntry struct {
	src    Source
	format Format
}

func (f *SeriesFolder) scan(dir Source) ([]folderEntry, error) {
	listing, err := os.ReadDir(dir.Path())
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to list directory").WithContext("path", dir.Path())
	}
	var candidates []Format
	for _, c := range f.formats().Formats() {
		if _, aggregate := c.(registryBinder); !aggregate {
			candidates = append(candidates, c)
		}
	}

	var entries []folderEntry
	for _, de := range listing {
		src, err := PathSource(filepath.Join(dir.Path(), de.Name()))
		if err != nil || src.IsDir() {
			continue
		}
		for _, c := range candidates {
			if c.Sniff(src) {
				entries = append(entries, folderEntry{src: src, format: c})
				break
			}
		}
	}

	found := formatSet(entries)
	if len(found) > 1 {
		entries = dropFormats(entries, containerExceptions)
	}
	if len(found) > 1 {
		for winner, losers := range supersededBy {
			if !found[winner] {
				continue
			}
			drop := make(map[string]bool, len(losers))
			for _, l := range losers {
				drop[l] = true
			}
			entries = dropFormats(entries, drop)
		}
	}
	if remaining := formatSet(entries); len(remaining) > 1 {
		names := make([]string, 0, len(remaining))
		for n := range remaining {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, errors.New(ErrCodeMultipleFormats,
			fmt.Sprintf("multiple file formats within one directory are not supported: %s", strings.Join(names, ", "))).
			WithContext("path", dir.Path())
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].src.Name() < entries[j].src.Name() })
	return entries, nil
}

func formatSet(entries []folderEntry) map[string]bool {
	set := make(map[string]bool)
	for _, e := range entries {
		set[e.format.Name()] = true
	}
	return set
}

func dropFormats(entries []folderEntry, drop map[string]bool) []folderEntry {
	kept := entries[:0:0]
	for _, e := range entries {
		if !drop[e.format.Name()] {
			kept = append(kept, e)
		}
	}
	return kept
}

// Open scans the directory once; sub-datasets are opened on first access.
func (f *SeriesFolder) Open(env *Env) (Reader, error) {
	entries, err := f.scan(env.Source)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, malformedData(f.Name(), fmt.Sprintf("no supported files in %s", env.Source.Path()))
	}
	return &folderReader{env: env, entries: entries, subs: make([]*Dataset, len(entries))}, nil
}

type folderReader struct {
	env     *Env
	entries []folderEntry
	subs    []*Dataset

	mapping [][2]int
	cropped []string
}

func (r *folderReader) sub(i int) (*Dataset, error) {
	if r.subs[i] == nil {
		ds, err := openDataset(r.entries[i].src, r.entries[i].format, datasetConfig{
			meta:          r.env.Meta,
			retrieveKW:    r.env.RetrieveKW,
			precision:     r.env.Precision,
			reconstructor: r.env.Reconstructor,
			registry:      r.env.Registry,
			audit:         r.env.Audit,
		})
		if err != nil {
			return nil, err
		}
		r.subs[i] = ds
	}
	return r.subs[i], nil
}

// locate maps a folder index to (file, local index).
func (r *folderReader) locate(idx int) (int, int, error) {
	if r.mapping == nil {
		mapping := make([][2]int, 0, len(r.entries))
		for i := range r.entries {
			ds, err := r.sub(i)
			if err != nil {
				return 0, 0, err
			}
			n, err := ds.Len()
			if err != nil {
				return 0, 0, err
			}
			for j := 0; j < n; j++ {
				mapping = append(mapping, [2]int{i, j})
			}
		}
		r.mapping = mapping
	}
	if idx < 0 || idx >= len(r.mapping) {
		return 0, 0, outOfRange(idx, len(r.mapping))
	}
	m := r.mapping[idx]
	return m[0], m[1], nil
}

func (r *folderReader) Len() (int, error) {
	if _, _, err := r.locate(0); err != nil && !HasCode(err, ErrCodeIndexOutOfRange) {
		return 0, err
	}
	return len(r.mapping), nil
}

func (r *folderReader) RawImage(idx int) (*qpimage.Image, error) {
	fi, j, err := r.locate(idx)
	if err != nil {
		return nil, err
	}
	img, err := r.subs[fi].RawImage(j)
	if err != nil {
		return nil, err
	}
	id, err := r.IndexIdentifier(idx)
	if err != nil {
		return nil, err
	}
	if err := img.Set(qpimage.MetaIdentifier, id); err != nil {
		return nil, err
	}
	return img, nil
}

// StoredBackground forwards to the sub-dataset's format.
func (r *folderReader) StoredBackground(idx int) (*qpimage.Image, bool, error) {
	fi, j, err := r.locate(idx)
	if err != nil {
		return nil, false, err
	}
	sb, ok := r.subs[fi].reader.(StoredBackgrounder)
	if !ok {
		return nil, false, nil
	}
	return sb.StoredBackground(j)
}

func (r *folderReader) Time(idx int) (float64, error) {
	fi, j, err := r.locate(idx)
	if err != nil {
		return math.NaN(), err
	}
	return r.subs[fi].Time(j)
}

func (r *folderReader) Name(idx int) (string, error) {
	fi, j, err := r.locate(idx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", r.entries[fi].src.Path(), j+1), nil
}

func (r *folderReader) IndexIdentifier(idx int) (string, error) {
	fi, j, err := r.locate(idx)
	if err != nil {
		return "", err
	}
	id, err := r.env.Identity()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%d:%d", id, r.croppedNames()[fi], j+1, idx+1), nil
}

func (r *folderReader) IdentityData() ([]any, error) {
	names := r.fileNames()
	sort.Strings(names)
	return []any{names, filepath.Base(r.env.Source.Path())}, nil
}

func (r *folderReader) ResolveStorage() (StorageKind, error) {
	ds, err := r.sub(0)
	if err != nil {
		return "", err
	}
	return ds.StorageKind()
}

func (r *folderReader) fileNames() []string {
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.src.Name()
	}
	return names
}

// croppedNames strips the longest common prefix and suffix from the file
// names. Both are measured in runes so a cut never splits a character. A
// name that would become empty is kept whole.
func (r *folderReader) croppedNames() []string {
	if r.cropped != nil {
		return r.cropped
	}
	names := r.fileNames()
	runes := make([][]rune, len(names))
	rev := make([][]rune, len(names))
	for i, n := range names {
		runes[i] = []rune(n)
		rev[i] = reverseRunes(runes[i])
	}
	prefix, suffix := commonPrefixLen(runes), commonPrefixLen(rev)
	r.cropped = make([]string, len(names))
	for i, n := range runes {
		lo, hi := prefix, len(n)-suffix
		if lo < hi {
			r.cropped[i] = string(n[lo:hi])
		} else {
			r.cropped[i] = names[i]
		}
	}
	return r.cropped
}

// commonPrefixLen returns the number of leading runes shared by all names.
func commonPrefixLen(names [][]rune) int {
	if len(names) == 0 {
		return 0
	}
	n := len(names[0])
	for _, name := range names[1:] {
		if len(name) < n {
			n = len(name)
		}
		for i := 0; i < n; i++ {
			if name[i] != names[0][i] {
				n = i
				break
			}
		}
	}
	return n
}

func reverseRunes(s []rune) []rune {
	out := make([]rune, len(s))
	for i, c := range s {
		out[len(s)-1-i] = c
	}
	return out
}
