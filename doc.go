// Package qpformat detects the file format of quantitative phase imaging
// data and exposes every supported format through one dataset interface.
//
// A dataset is a file or a directory holding one or more phase images,
// raw interferograms or complex fields. qpformat picks the matching format
// from a static registry, opens it lazily and hands out qpimage.Image
// values with metadata, acquisition times, stable identifiers and optional
// background correction.
//
// # Loading Data
//
// Load detects the format unless one is named explicitly:
//
//	ds, err := qpformat.Load("/data/cells.tif",
//		qpformat.WithMeta(qpimage.Meta{qpimage.MetaWavelength: 550e-9}),
//		qpformat.WithPrecision(qpimage.Float64))
//	if err != nil {
//		log.Fatal(err)
//	}
//	n, _ := ds.Len()
//	img, _ := ds.Image(0)
//	phase := img.Phase()
//
// Metadata passed by the caller overrides what the file records. Unknown
// metadata keys are rejected with ErrCodeInvalidMetadataKey.
//
// # Format Detection
//
// The registry holds the built-in formats in a fixed order and tries them
// by ascending priority; the first format whose Sniff accepts the source
// wins. Lower priorities are checked first, so container formats with a
// cheap magic check run before the TIFF family:
//
//	SeriesFolder                 -3
//	Single/SeriesRaw*Qpformat    -10
//	Single/SeriesPhaseQpimage*   -9
//	SeriesPhasePhasicsZipTif     -1
//	everything else               0
//
// DefaultRegistry().Without(...) removes formats, NewRegistry builds a
// registry from custom Format implementations.
//
// # Identity and Identifiers
//
// Every dataset has an identity: a BLAKE3 digest over the leading bytes
// and size of the file, the user metadata, the retrieve keywords and the
// background. Series images are identified as "<identity>:<index+1>",
// single images by the identity, unless the format stores its own
// identifiers. The identity does not depend on the file location.
//
// # Backgrounds
//
// SetBackground attaches either one image shared by all images or a list
// of the same length as the dataset. Image applies it (phase minus,
// amplitude divided); RawImage never does. Backgrounds stored in qpraw or
// qpimage containers are used when nothing is attached.
//
// # Series Folders
//
// A directory whose files all share one format is a SeriesFolder. Files are
// ordered by name, their images concatenated. Exported qpimage containers
// are ignored next to other data, and a Phasics TIFF supersedes the raw
// camera TIFF of the same acquisition. Mixed folders are rejected with
// ErrCodeMultipleFormats.
//
// # Export
//
// Dataset.Export writes the images to a qpimage series container backed by
// SQLite. Ranges, time windows, crops and plane compression (LZ4, zstd)
// are selected through ExportOptions.
//
// # Audit Trail
//
// An AuditLogger passed with WithAudit records format decisions, loaded
// datasets, attached backgrounds and exports to JSON lines or SQLite, each
// with the source path, format and target it concerns. History lists the
// events of one source. A nil logger discards everything.
//
// # Configuration
//
// Settings hold the defaults for precision, metadata, retrieve keywords,
// disabled formats and the audit trail. They come from a YAML file,
// QPFORMAT_* environment variables and the global command line flags
// resolved by ConfigManager.
//
// # Error Handling
//
// Errors carry go-errors codes (ErrCodeUnknownFormat, ErrCodeWrongFormat,
// ErrCodeMalformedData, ...). Use HasCode to test for a code anywhere in
// the chain.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package qpformat
