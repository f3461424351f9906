// container.go: SQLite persistence for single images and image series
//
// A container is a SQLite database with three tables: schema_info (schema
// version history), attrs (container-level key/value attributes such as
// the container kind and the series identifier) and images (one row per
// image with compressed planes and CBOR metadata). A series entry may
// reference the background of an earlier entry through bg_from_idx
// instead of storing its own copy.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpimage

import (
	"database/sql"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/agilira/go-errors"
	"github.com/agilira/qpformat/internal/codec"
	"github.com/agilira/qpformat/internal/compress"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// Container kinds stored in the "kind" attribute.
const (
	ContainerSingle = "single"
	ContainerSeries = "series"
)

const (
	containerFormat        = "qpimage"
	containerSchemaVersion = 1
	sqliteMagic            = "SQLite format 3\x00"
)

// ContainerOption configures container creation.
type ContainerOption func(*containerOptions)

type containerOptions struct {
	compression compress.Tag
}

// WithCompression selects the plane compression (default bg8_lz4).
func WithCompression(tag compress.Tag) ContainerOption {
	return func(o *containerOptions) { o.compression = tag }
}

// SeriesWriter appends images to a new container.
type SeriesWriter struct {
	db          *sql.DB
	insertStmt  *sql.Stmt
	path        string
	kind        string
	count       int
	compression compress.Tag
	closed      bool
}

// CreateSeries creates (or truncates) a series container at path.
func CreateSeries(path string, opts ...ContainerOption) (*SeriesWriter, error) {
	return createContainer(path, ContainerSeries, opts)
}

// WriteSingle stores img as a single-image container at path.
func WriteSingle(path string, img *Image, opts ...ContainerOption) error {
	w, err := createContainer(path, ContainerSingle, opts)
	if err != nil {
		return err
	}
	if id, ok := img.Identifier(); ok {
		if err := w.SetIdentifier(id); err != nil {
			_ = w.Close()
			return err
		}
	}
	if err := w.Add(img); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func createContainer(path, kind string, opts []ContainerOption) (*SeriesWriter, error) {
	o := containerOptions{compression: compress.BG8LZ4}
	for _, opt := range opts {
		opt(&o)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to create container directory")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to replace existing container")
	}

	dsn, err := containerDSN(path, "_journal_mode=DELETE&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to resolve container path")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to open container")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to ping container")
	}

	w := &SeriesWriter{db: db, path: path, kind: kind, compression: o.compression}
	if err := w.ensureSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to initialize container schema")
	}
	if err := w.setAttr("format", containerFormat); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := w.setAttr("kind", kind); err != nil {
		_ = db.Close()
		return nil, err
	}

	w.insertStmt, err = db.Prepare(`
	INSERT INTO images (
		idx, rows, cols, precision, meta,
		phase, amplitude, bg_phase, bg_amplitude, bg_from_idx
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to prepare insert statement")
	}
	return w, nil
}

func (w *SeriesWriter) ensureSchemaVersion() error {
	if _, err := w.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("failed to create schema_info table: %w", err)
	}

	var version int
	err := w.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}
	if version >= containerSchemaVersion {
		return nil
	}

	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	if err := migrateContainerToV1(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration to v1 failed: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_info (version, updated_at) VALUES (?, CURRENT_TIMESTAMP)`,
		containerSchemaVersion); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return tx.Commit()
}

func migrateContainerToV1(tx *sql.Tx) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS attrs (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			idx INTEGER PRIMARY KEY,
			rows INTEGER NOT NULL,
			cols INTEGER NOT NULL,
			precision TEXT NOT NULL,
			meta BLOB NOT NULL,
			phase BLOB NOT NULL,
			amplitude BLOB NOT NULL,
			bg_phase BLOB,
			bg_amplitude BLOB,
			bg_from_idx INTEGER
		)`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (w *SeriesWriter) setAttr(key, value string) error {
	if _, err := w.db.Exec(`INSERT OR REPLACE INTO attrs (key, value) VALUES (?, ?)`, key, value); err != nil {
		return errors.Wrap(err, ErrCodeContainer, fmt.Sprintf("failed to set container attribute %q", key))
	}
	return nil
}

// SetIdentifier stamps the container-level identifier.
func (w *SeriesWriter) SetIdentifier(id string) error {
	if w.closed {
		return errors.New(ErrCodeContainerClosed, "container is closed")
	}
	return w.setAttr("identifier", id)
}

// Len returns the number of images written so far.
func (w *SeriesWriter) Len() int { return w.count }

// Add stores img with its current background.
func (w *SeriesWriter) Add(img *Image) error {
	var bgPhase, bgAmp []byte
	if img.HasBackground() {
		var err error
		if bgPhase, err = w.encodePlane(img.bgPhase); err != nil {
			return err
		}
		if bgAmp, err = w.encodePlane(img.bgAmp); err != nil {
			return err
		}
	}
	return w.insert(img, bgPhase, bgAmp, nil)
}

// AddSharedBackground stores the raw planes of img and links its
// background to that of entry fromIdx.
func (w *SeriesWriter) AddSharedBackground(img *Image, fromIdx int) error {
	if fromIdx < 0 || fromIdx >= w.count {
		return errors.New(ErrCodeIndexOutOfRange,
			fmt.Sprintf("background index %d not in container of %d images", fromIdx, w.count))
	}
	return w.insert(img, nil, nil, fromIdx)
}

func (w *SeriesWriter) insert(img *Image, bgPhase, bgAmp []byte, bgFrom any) error {
	if w.closed {
		return errors.New(ErrCodeContainerClosed, "container is closed")
	}
	if w.kind == ContainerSingle && w.count > 0 {
		return errors.New(ErrCodeContainer, "single-image container already holds an image")
	}
	meta, err := codec.Marshal(map[string]any(img.meta))
	if err != nil {
		return errors.Wrap(err, ErrCodeContainer, "failed to encode metadata")
	}
	phase, err := w.encodePlane(img.phase)
	if err != nil {
		return err
	}
	amp, err := w.encodePlane(img.amplitude)
	if err != nil {
		return err
	}
	rows, cols := img.Shape()
	if _, err := w.insertStmt.Exec(w.count, rows, cols, string(img.precision), meta,
		phase, amp, nullBlob(bgPhase), nullBlob(bgAmp), bgFrom); err != nil {
		return errors.Wrap(err, ErrCodeContainer, fmt.Sprintf("failed to insert image %d", w.count))
	}
	w.count++
	return nil
}

func nullBlob(b []byte) any {
	if b == nil {
		return nil
	}
	return b
}

func (w *SeriesWriter) encodePlane(a Array) ([]byte, error) {
	blob, tag, err := compress.EncodeFloats(a.Data, w.compression)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to compress plane")
	}
	return append([]byte{byte(tag)}, blob...), nil
}

// Close finalizes the container.
func (w *SeriesWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var errs []error
	if w.insertStmt != nil {
		if err := w.insertStmt.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := w.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.New(ErrCodeContainer, fmt.Sprintf("errors closing container: %v", errs))
	}
	return nil
}

// Series is a read-only view of a container.
type Series struct {
	db         *sql.DB
	kind       string
	count      int
	identifier string
}

// OpenSeries opens the container at path for reading.
func OpenSeries(path string) (*Series, error) {
	if !hasSQLiteMagic(path) {
		return nil, errors.New(ErrCodeContainer, fmt.Sprintf("%s is not a SQLite container", path))
	}
	dsn, err := containerDSN(path, "mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to resolve container path")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to open container")
	}
	s := &Series{db: db}

	attrs := map[string]string{}
	rows, err := db.Query("SELECT key, value FROM attrs")
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to read container attributes")
	}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			_ = rows.Close()
			_ = db.Close()
			return nil, errors.Wrap(err, ErrCodeContainer, "failed to scan container attribute")
		}
		attrs[k] = v
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to read container attributes")
	}
	_ = rows.Close()

	if attrs["format"] != containerFormat {
		_ = db.Close()
		return nil, errors.New(ErrCodeContainer, fmt.Sprintf("unexpected container format %q", attrs["format"]))
	}
	s.kind = attrs["kind"]
	s.identifier = attrs["identifier"]
	if err := db.QueryRow("SELECT COUNT(*) FROM images").Scan(&s.count); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeContainer, "failed to count images")
	}
	return s, nil
}

// Probe returns the kind of the container at path. It never fails; ok is
// false for anything that is not a readable container.
func Probe(path string) (kind string, ok bool) {
	s, err := OpenSeries(path)
	if err != nil {
		return "", false
	}
	defer s.Close()
	if s.count == 0 {
		return "", false
	}
	return s.kind, s.kind == ContainerSingle || s.kind == ContainerSeries
}

// containerDSN builds a SQLite URI for path. The path is percent-encoded,
// so '#', '?' and '%' in file names reach SQLite unchanged.
func containerDSN(path, query string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: query}
	return u.String(), nil
}

func hasSQLiteMagic(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var hdr [16]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return false
	}
	return string(hdr[:]) == sqliteMagic
}

// Kind returns ContainerSingle or ContainerSeries.
func (s *Series) Kind() string { return s.kind }

// Len returns the number of stored images.
func (s *Series) Len() int { return s.count }

// Identifier returns the container-level identifier, if any.
func (s *Series) Identifier() (string, bool) { return s.identifier, s.identifier != "" }

// Image returns entry idx with its stored (or linked) background applied.
func (s *Series) Image(idx int) (*Image, error) {
	if idx < 0 || idx >= s.count {
		return nil, errors.New(ErrCodeIndexOutOfRange, fmt.Sprintf("index %d not in container of %d images", idx, s.count))
	}
	var (
		rows, cols     int
		precision      string
		meta, pha, amp []byte
		bgPhase, bgAmp []byte
		bgFrom         sql.NullInt64
	)
	err := s.db.QueryRow(`SELECT rows, cols, precision, meta, phase, amplitude, bg_phase, bg_amplitude, bg_from_idx
		FROM images WHERE idx = ?`, idx).
		Scan(&rows, &cols, &precision, &meta, &pha, &amp, &bgPhase, &bgAmp, &bgFrom)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, fmt.Sprintf("failed to read image %d", idx))
	}

	img := &Image{precision: Precision(precision), meta: Meta{}}
	var m map[string]any
	if err := codec.Unmarshal(meta, &m); err != nil {
		return nil, errors.Wrap(err, ErrCodeContainer, fmt.Sprintf("failed to decode metadata of image %d", idx))
	}
	for k, v := range m {
		img.meta[k] = v
	}
	if img.phase, err = decodePlane(pha, rows, cols); err != nil {
		return nil, err
	}
	if img.amplitude, err = decodePlane(amp, rows, cols); err != nil {
		return nil, err
	}

	if bgFrom.Valid {
		if err := s.db.QueryRow(`SELECT bg_phase, bg_amplitude FROM images WHERE idx = ?`, bgFrom.Int64).
			Scan(&bgPhase, &bgAmp); err != nil {
			return nil, errors.Wrap(err, ErrCodeContainer, fmt.Sprintf("failed to read linked background %d", bgFrom.Int64))
		}
	}
	if len(bgPhase) > 0 && len(bgAmp) > 0 {
		if img.bgPhase, err = decodePlane(bgPhase, rows, cols); err != nil {
			return nil, err
		}
		if img.bgAmp, err = decodePlane(bgAmp, rows, cols); err != nil {
			return nil, err
		}
	}
	return img, nil
}

func decodePlane(blob []byte, rows, cols int) (Array, error) {
	if len(blob) == 0 {
		return Array{}, errors.New(ErrCodeContainer, "empty plane")
	}
	values, err := compress.DecodeFloats(blob[1:], compress.Tag(blob[0]), rows*cols)
	if err != nil {
		return Array{}, errors.Wrap(err, ErrCodeContainer, "failed to decompress plane")
	}
	return Array{Rows: rows, Cols: cols, Data: values}, nil
}

// Close releases the database handle.
func (s *Series) Close() error {
	return s.db.Close()
}
