// audit_backend.go: Storage backends for the provenance audit trail
//
// Two backends share one interface: a SQLite database with a versioned
// schema, and an append-only JSON lines file. createAuditBackend picks one
// from the configured output path and falls back to JSONL when SQLite
// cannot be opened.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

type auditBackend interface {
	// Write persists a batch of events, atomically where the backend allows.
	Write(events []AuditEvent) error
	Flush() error
	Close() error
	GetStats() (*AuditDatabaseStats, error)
	// History returns the events of one source ordered by time.
	History(source string) ([]AuditEvent, error)
}

// AuditDatabaseStats summarizes the events stored by a backend.
type AuditDatabaseStats struct {
	TotalEvents       int64            `json:"total_events"`
	EventsByLevel     map[string]int64 `json:"events_by_level"`
	EventsByComponent map[string]int64 `json:"events_by_component"`
	EventsByName      map[string]int64 `json:"events_by_name"`
	EventsByFormat    map[string]int64 `json:"events_by_format"`
	Sources           int64            `json:"sources"`
	OldestEvent       *time.Time       `json:"oldest_event"`
	NewestEvent       *time.Time       `json:"newest_event"`
	DatabaseSize      int64            `json:"database_size_bytes"`
	SchemaVersion     int              `json:"schema_version"`
	Backend           string           `json:"backend"`
}

func newAuditStats(backend string) *AuditDatabaseStats {
	return &AuditDatabaseStats{
		EventsByLevel:     make(map[string]int64),
		EventsByComponent: make(map[string]int64),
		EventsByName:      make(map[string]int64),
		EventsByFormat:    make(map[string]int64),
		Backend:           backend,
	}
}

// observe widens the time range of s to include t.
func (s *AuditDatabaseStats) observe(t time.Time) {
	if s.OldestEvent == nil || t.Before(*s.OldestEvent) {
		s.OldestEvent = &t
	}
	if s.NewestEvent == nil || t.After(*s.NewestEvent) {
		s.NewestEvent = &t
	}
}

func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config.OutputFile)
	}

	backend, err := newSQLiteBackend(config.OutputFile)
	if err == nil {
		return backend, nil
	}
	if config.OutputFile == "" {
		return nil, err
	}
	fallback, jsonlErr := newJSONLBackend(config.OutputFile + ".jsonl")
	if jsonlErr != nil {
		return nil, fmt.Errorf("no audit backend available (SQLite: %w, JSONL: %v)", err, jsonlErr)
	}
	return fallback, nil
}

// UnifiedAuditPath is the shared database used when no output file is set.
func UnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "qpformat", "provenance-audit.db")
}

type sqliteAuditBackend struct {
	db     *sql.DB
	path   string
	insert *sql.Stmt
	mu     sync.RWMutex
	closed bool
}

const auditSchemaVersion = 2

// auditTimeFormat keeps stored timestamps fixed width so they sort as text.
const auditTimeFormat = "2006-01-02T15:04:05.000000000Z"

// auditMigrations[v] upgrades a database from version v to v+1.
var auditMigrations = [auditSchemaVersion][]string{
	{
		`CREATE TABLE IF NOT EXISTS provenance_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			level TEXT NOT NULL,
			event TEXT NOT NULL,
			component TEXT NOT NULL,
			source_path TEXT NOT NULL DEFAULT '',
			format TEXT NOT NULL DEFAULT '',
			target TEXT NOT NULL DEFAULT '',
			process_id INTEGER NOT NULL,
			process TEXT NOT NULL,
			context TEXT, -- JSON object
			checksum TEXT NOT NULL
		);`,
		"CREATE INDEX IF NOT EXISTS idx_provenance_timestamp ON provenance_events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_provenance_event ON provenance_events(event)",
	},
	// v2: history of one file and per-format counts
	{
		"CREATE INDEX IF NOT EXISTS idx_provenance_source ON provenance_events(source_path, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_provenance_format ON provenance_events(format)",
	},
}

func newSQLiteBackend(path string) (*sqliteAuditBackend, error) {
	if path == "" {
		path = UnifiedAuditPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	s := &sqliteAuditBackend{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	s.insert, err = db.Prepare(`INSERT INTO provenance_events (
		timestamp, level, event, component, source_path, format, target,
		process_id, process, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	return s, nil
}

func (s *sqliteAuditBackend) version() (int, error) {
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return v, err
}

func (s *sqliteAuditBackend) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return err
	}
	current, err := s.version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current >= auditSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for v := current; v < auditSchemaVersion; v++ {
		for _, q := range auditMigrations[v] {
			if _, err := tx.Exec(q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration to v%d failed: %w", v+1, err)
			}
		}
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_info (version) VALUES (?)", auditSchemaVersion); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("audit database is closed")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt := tx.Stmt(s.insert)
	defer stmt.Close()

	for _, ev := range events {
		var context sql.NullString
		if ev.Context != nil {
			data, merr := json.Marshal(ev.Context)
			if merr != nil {
				return fmt.Errorf("failed to serialize context of %s: %w", ev.Event, merr)
			}
			context = sql.NullString{String: string(data), Valid: true}
		}
		if _, err = stmt.Exec(
			ev.Timestamp.UTC().Format(auditTimeFormat), ev.Level.String(), ev.Event, ev.Component,
			ev.Source, ev.Format, ev.Target, ev.ProcessID, ev.Process, context, ev.Checksum,
		); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
	}
	return tx.Commit()
}

func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
		return fmt.Errorf("failed to checkpoint audit database: %w", err)
	}
	return nil
}

// countBy fills into with event counts grouped by column, skipping empty
// keys. column is one of a fixed set of identifiers, never user input.
func (s *sqliteAuditBackend) countBy(column string, into map[string]int64) error {
	rows, err := s.db.Query("SELECT " + column + ", COUNT(*) FROM provenance_events GROUP BY " + column) // #nosec G202
	if err != nil {
		return fmt.Errorf("failed to count events by %s: %w", column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		if key != "" {
			into[key] = n
		}
	}
	return rows.Err()
}

func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("audit database is closed")
	}
	stats := newAuditStats("sqlite")

	var oldest, newest sql.NullString
	if err := s.db.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT NULLIF(source_path, '')),
		MIN(timestamp), MAX(timestamp) FROM provenance_events`).
		Scan(&stats.TotalEvents, &stats.Sources, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	for column, into := range map[string]map[string]int64{
		"level":     stats.EventsByLevel,
		"component": stats.EventsByComponent,
		"event":     stats.EventsByName,
		"format":    stats.EventsByFormat,
	} {
		if err := s.countBy(column, into); err != nil {
			return nil, err
		}
	}
	for _, ts := range []sql.NullString{oldest, newest} {
		if !ts.Valid {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, ts.String); err == nil {
			stats.observe(t)
		}
	}

	var err error
	if stats.SchemaVersion, err = s.version(); err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

func (s *sqliteAuditBackend) History(source string) ([]AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("audit database is closed")
	}
	rows, err := s.db.Query(`SELECT timestamp, level, event, component, source_path, format, target,
		process_id, process, context, checksum
		FROM provenance_events WHERE source_path = ? ORDER BY timestamp, id`, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			ev        AuditEvent
			ts, level string
			context   sql.NullString
		)
		if err := rows.Scan(&ts, &level, &ev.Event, &ev.Component, &ev.Source, &ev.Format, &ev.Target,
			&ev.ProcessID, &ev.Process, &context, &ev.Checksum); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", ts, err)
		}
		if ev.Level, err = ParseAuditLevel(level); err != nil {
			return nil, err
		}
		if context.Valid {
			if err := json.Unmarshal([]byte(context.String), &ev.Context); err != nil {
				return nil, fmt.Errorf("invalid context of %s: %w", ev.Event, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	stmtErr := s.insert.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return stmtErr
}

type jsonlAuditBackend struct {
	file   *os.File
	path   string
	mu     sync.Mutex
	closed bool
}

func newJSONLBackend(path string) (*jsonlAuditBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) // #nosec G304 -- configured audit path
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &jsonlAuditBackend{file: file, path: path}, nil
}

func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("audit log is closed")
	}
	w := bufio.NewWriter(j.file)
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to write audit event %s: %w", ev.Event, err)
		}
	}
	return w.Flush()
}

func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	return j.file.Sync()
}

// scan calls fn for every parseable line. Broken lines are skipped.
func (j *jsonlAuditBackend) scan(fn func(ev AuditEvent)) (size int64, err error) {
	f, err := os.Open(j.path) // #nosec G304 -- configured audit path
	if err != nil {
		return 0, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		var ev AuditEvent
		if json.Unmarshal(sc.Bytes(), &ev) == nil {
			fn(ev)
		}
	}
	return size, sc.Err()
}

func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := newAuditStats("jsonl")
	stats.SchemaVersion = 1
	sources := map[string]bool{}
	size, err := j.scan(func(ev AuditEvent) {
		stats.TotalEvents++
		stats.EventsByLevel[ev.Level.String()]++
		stats.EventsByComponent[ev.Component]++
		stats.EventsByName[ev.Event]++
		if ev.Format != "" {
			stats.EventsByFormat[ev.Format]++
		}
		if ev.Source != "" {
			sources[ev.Source] = true
		}
		stats.observe(ev.Timestamp)
	})
	if err != nil {
		return nil, err
	}
	stats.Sources = int64(len(sources))
	stats.DatabaseSize = size
	return stats, nil
}

func (j *jsonlAuditBackend) History(source string) ([]AuditEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var events []AuditEvent
	if _, err := j.scan(func(ev AuditEvent) {
		if ev.Source == source {
			events = append(events, ev)
		}
	}); err != nil {
		return nil, err
	}
	sort.SliceStable(events, func(a, b int) bool { return events[a].Timestamp.Before(events[b].Timestamp) })
	return events, nil
}

func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}
