// audit_backend_test.go: Tests for the SQLite and JSONL audit backends
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package qpformat

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func sampleEvents() []AuditEvent {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return []AuditEvent{
		{Timestamp: base, Level: AuditInfo, Event: "format_detected", Component: "registry", Source: "/d/a.tif", Format: "SingleRawOAHTif"},
		{Timestamp: base.Add(time.Second), Level: AuditInfo, Event: "dataset_loaded", Component: "dataset", Source: "/d/a.tif",
			Format: "SingleRawOAHTif", Context: map[string]interface{}{"len": 1}},
		{Timestamp: base.Add(2 * time.Second), Level: AuditWarn, Event: "format_rejected", Component: "registry", Source: "/d/b.bin"},
	}
}

func checkSampleStats(t *testing.T, stats *AuditDatabaseStats) {
	t.Helper()
	if stats.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", stats.TotalEvents)
	}
	if stats.EventsByLevel["INFO"] != 2 || stats.EventsByLevel["WARN"] != 1 {
		t.Errorf("EventsByLevel = %v", stats.EventsByLevel)
	}
	if stats.EventsByComponent["registry"] != 2 || stats.EventsByComponent["dataset"] != 1 {
		t.Errorf("EventsByComponent = %v", stats.EventsByComponent)
	}
	if stats.EventsByName["dataset_loaded"] != 1 {
		t.Errorf("EventsByName = %v", stats.EventsByName)
	}
	if stats.OldestEvent == nil || stats.NewestEvent == nil {
		t.Fatal("missing time range")
	}
	if got := stats.NewestEvent.Sub(*stats.OldestEvent); got != 2*time.Second {
		t.Errorf("time range = %v, want 2s", got)
	}
	if stats.EventsByFormat["SingleRawOAHTif"] != 2 || len(stats.EventsByFormat) != 1 {
		t.Errorf("EventsByFormat = %v", stats.EventsByFormat)
	}
	if stats.Sources != 2 {
		t.Errorf("Sources = %d, want 2", stats.Sources)
	}
}

func checkSampleHistory(t *testing.T, b auditBackend) {
	t.Helper()
	events, err := b.History("/d/a.tif")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events for /d/a.tif, want 2", len(events))
	}
	if events[0].Event != "format_detected" || events[1].Event != "dataset_loaded" {
		t.Errorf("order = %s, %s", events[0].Event, events[1].Event)
	}
	if events[1].Context["len"] != float64(1) {
		t.Errorf("context = %v", events[1].Context)
	}
	if events, err := b.History("/d/none"); err != nil || len(events) != 0 {
		t.Errorf("unknown source: %d events, %v", len(events), err)
	}
}

func TestSQLiteBackendStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	b, err := newSQLiteBackend(path)
	if err != nil {
		t.Fatalf("newSQLiteBackend: %v", err)
	}
	defer b.Close()

	if err := b.Write(sampleEvents()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stats, err := b.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	checkSampleStats(t, stats)
	checkSampleHistory(t, b)
	if stats.SchemaVersion != auditSchemaVersion || stats.Backend != "sqlite" {
		t.Errorf("schema %d backend %q", stats.SchemaVersion, stats.Backend)
	}
}

func TestSQLiteBackendReopenKeepsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	b, err := newSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(sampleEvents()[:1]); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(sampleEvents()); err == nil {
		t.Error("write to closed backend succeeded")
	}

	b, err = newSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	stats, err := b.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("TotalEvents = %d after reopen, want 1", stats.TotalEvents)
	}
}

func TestSQLiteBackendStoresContextAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	b, err := newSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(sampleEvents()); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var context, target string
	if err := db.QueryRow("SELECT context, target FROM provenance_events WHERE event = 'dataset_loaded'").Scan(&context, &target); err != nil {
		t.Fatal(err)
	}
	if context != `{"len":1}` {
		t.Errorf("context = %q", context)
	}
	if target != "" {
		t.Errorf("target = %q, want empty", target)
	}
}

func TestJSONLBackendStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	b, err := newJSONLBackend(path)
	if err != nil {
		t.Fatalf("newJSONLBackend: %v", err)
	}
	defer b.Close()

	if err := b.Write(sampleEvents()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	stats, err := b.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	checkSampleStats(t, stats)
	checkSampleHistory(t, b)
	if stats.Backend != "jsonl" || stats.DatabaseSize == 0 {
		t.Errorf("backend %q size %d", stats.Backend, stats.DatabaseSize)
	}
}

func TestCreateAuditBackendSelection(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		file string
		want string
	}{
		{filepath.Join(dir, "a.jsonl"), "jsonl"},
		{filepath.Join(dir, "a.db"), "sqlite"},
	}
	for _, tt := range tests {
		t.Run(filepath.Ext(tt.file), func(t *testing.T) {
			b, err := createAuditBackend(AuditConfig{OutputFile: tt.file})
			if err != nil {
				t.Fatal(err)
			}
			defer b.Close()
			stats, err := b.GetStats()
			if err != nil {
				t.Fatal(err)
			}
			if stats.Backend != tt.want {
				t.Errorf("backend = %q, want %q", stats.Backend, tt.want)
			}
		})
	}
}

func TestAuditLoggerStatsThroughLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	al, err := NewAuditLogger(AuditConfig{Enabled: true, OutputFile: path, BufferSize: 50})
	if err != nil {
		t.Fatal(err)
	}
	defer al.Close()

	al.Log(AuditInfo, "series_exported", "dataset", Provenance{Source: "/d/s", Target: "/d/out.qps"})
	al.Log(AuditInfo, "series_exported", "dataset", Provenance{Source: "/d/s", Target: "/d/out2.qps"})

	stats, err := al.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.EventsByName["series_exported"] != 2 {
		t.Errorf("EventsByName = %v", stats.EventsByName)
	}

	events, err := al.History("/d/s")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Target != "/d/out2.qps" {
		t.Fatalf("history = %+v", events)
	}
	for _, ev := range events {
		if ev.Level != AuditInfo || !VerifyChecksum(ev) {
			t.Errorf("event %+v does not verify", ev)
		}
	}
}
