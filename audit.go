// audit.go: Provenance audit trail for format detection and dataset access
//
// Every load, background attachment and export can be recorded with the
// source it touched, the format it resolved to and what it produced. Each
// event carries a tamper-detection checksum. Events are buffered and
// written synchronously to the backend when the buffer fills, on Flush and
// on Close.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel is the severity of an audit event.
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditError
)

var auditLevelNames = [...]string{"INFO", "WARN", "ERROR"}

func (l AuditLevel) String() string {
	if l < 0 || int(l) >= len(auditLevelNames) {
		return "UNKNOWN"
	}
	return auditLevelNames[l]
}

// ParseAuditLevel is the case-insensitive inverse of AuditLevel.String.
// The empty string is AuditInfo.
func ParseAuditLevel(s string) (AuditLevel, error) {
	if s == "" {
		return AuditInfo, nil
	}
	for i, name := range auditLevelNames {
		if strings.EqualFold(s, name) {
			return AuditLevel(i), nil
		}
	}
	return AuditInfo, errors.New(ErrCodeInvalidConfig, fmt.Sprintf("unknown audit level %q", s))
}

// Provenance names what an audit event is about.
type Provenance struct {
	Source  string // dataset path
	Format  string // resolved or requested format
	Target  string // identity, background identifier or output path
	Context map[string]interface{}
}

// AuditEvent is one recorded event.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     AuditLevel             `json:"level"`
	Event     string                 `json:"event"`
	Component string                 `json:"component"`
	Source    string                 `json:"source,omitempty"`
	Format    string                 `json:"format,omitempty"`
	Target    string                 `json:"target,omitempty"`
	ProcessID int                    `json:"process_id"`
	Process   string                 `json:"process"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Checksum  string                 `json:"checksum"`
}

// AuditConfig configures the audit trail.
//
// OutputFile selects the backend by extension: ".jsonl" writes JSON lines,
// anything else a SQLite database. An empty path uses the shared database
// at UnifiedAuditPath.
type AuditConfig struct {
	Enabled    bool       `json:"enabled" yaml:"enabled"`
	OutputFile string     `json:"output_file" yaml:"output_file"`
	MinLevel   AuditLevel `json:"min_level" yaml:"-"`
	BufferSize int        `json:"buffer_size" yaml:"buffer_size"`
}

// DefaultAuditConfig returns an enabled configuration writing to the
// shared SQLite database.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:    true,
		MinLevel:   AuditInfo,
		BufferSize: 256,
	}
}

// AuditLogger records provenance events to a JSONL or SQLite backend.
// A nil *AuditLogger is valid and discards everything.
type AuditLogger struct {
	config  AuditConfig
	backend auditBackend
	pid     int
	process string

	mu     sync.Mutex
	buffer []AuditEvent
	closed bool
}

// NewAuditLogger creates a logger with the backend selected by config.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	if config.BufferSize <= 0 {
		config.BufferSize = 1
	}
	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to initialize audit backend")
	}
	process := "qpformat"
	if len(os.Args) > 0 {
		process = filepath.Base(os.Args[0])
	}
	return &AuditLogger{
		config:  config,
		backend: backend,
		pid:     os.Getpid(),
		process: process,
		buffer:  make([]AuditEvent, 0, config.BufferSize),
	}, nil
}

// Log records an event. Write errors while the buffer drains are dropped;
// Flush reports them.
func (al *AuditLogger) Log(level AuditLevel, event, component string, p Provenance) {
	if al == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}
	ev := AuditEvent{
		Timestamp: timecache.CachedTime(),
		Level:     level,
		Event:     event,
		Component: component,
		Source:    p.Source,
		Format:    p.Format,
		Target:    p.Target,
		ProcessID: al.pid,
		Process:   al.process,
		Context:   p.Context,
	}
	ev.Checksum = eventChecksum(ev)

	al.mu.Lock()
	defer al.mu.Unlock()
	if al.closed {
		return
	}
	al.buffer = append(al.buffer, ev)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.drain()
	}
}

// LogCommand records a command line invocation. Relative paths are made
// absolute so they match the events of the dataset itself.
func (al *AuditLogger) LogCommand(command, path string, context map[string]interface{}) {
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	al.Log(AuditInfo, "cli_"+command, "cli", Provenance{Source: path, Context: context})
}

// Flush writes all buffered events.
func (al *AuditLogger) Flush() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	if err := al.drain(); err != nil {
		return err
	}
	if al.closed {
		return nil
	}
	return al.backend.Flush()
}

// Stats returns the event counts of the backend after flushing.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if al == nil {
		return nil, errors.New(ErrCodeAuditError, "audit logging is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	stats, err := al.backend.GetStats()
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit statistics")
	}
	return stats, nil
}

// History returns the events recorded for source, oldest first.
func (al *AuditLogger) History(source string) ([]AuditEvent, error) {
	if al == nil {
		return nil, errors.New(ErrCodeAuditError, "audit logging is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	events, err := al.backend.History(source)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeAuditError, "failed to read audit history").
			WithContext("source", source)
	}
	return events, nil
}

// Close flushes pending events and releases the backend. Calling Close
// more than once is harmless.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()
	if al.closed {
		return nil
	}
	drainErr := al.drain()
	al.closed = true

	if err := al.backend.Close(); err != nil {
		return errors.Wrap(err, ErrCodeAuditError, "failed to close audit backend")
	}
	return drainErr
}

// drain writes the buffer to the backend. Caller holds mu.
func (al *AuditLogger) drain() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeAuditError, "failed to write audit events")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// eventChecksum is the hex SHA-256 of the event fields that describe what
// happened.
func eventChecksum(ev AuditEvent) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Level.String(), ev.Event, ev.Component,
		ev.Source, ev.Format, ev.Target,
	}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether ev still matches its checksum.
func VerifyChecksum(ev AuditEvent) bool {
	return ev.Checksum == eventChecksum(ev)
}
