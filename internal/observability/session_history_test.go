// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
)

func TestFormatIPv4(t *testing.T) {
	if got := formatIPv4(0x0a000001); got != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", got)
	}
}

func TestSessionHistoryRingRecentOrder(t *testing.T) {
	r := NewSessionHistoryRing(2)
	r.Push(SessionHistoryEntry{Reason: "a"})
	r.Push(SessionHistoryEntry{Reason: "b"})
	r.Push(SessionHistoryEntry{Reason: "c"})

	entries := r.Recent(0)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after wrap, got %d", len(entries))
	}
	if entries[0].Reason != "b" || entries[1].Reason != "c" {
		t.Errorf("expected [b c], got [%s %s]", entries[0].Reason, entries[1].Reason)
	}
}

func TestSessionHistoryStorePushAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl.gz")
	store, err := NewSessionHistoryStore(path, 10, 1000)
	if err != nil {
		t.Fatalf("NewSessionHistoryStore: %v", err)
	}
	defer store.Close()

	store.Push(SessionHistoryEntry{ClientAddr: "10.0.0.1", Reason: "graceful"})
	store.Push(SessionHistoryEntry{ClientAddr: "10.0.0.2", Reason: "reset"})

	recent := store.Recent(0)
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(recent))
	}
	if recent[1].Reason != "reset" {
		t.Errorf("expected most recent entry to be 'reset', got %s", recent[1].Reason)
	}
}

func TestSessionHistoryStoreWritesValidGzipJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl.gz")
	store, err := NewSessionHistoryStore(path, 10, 1000)
	if err != nil {
		t.Fatalf("NewSessionHistoryStore: %v", err)
	}
	store.Push(SessionHistoryEntry{ClientAddr: "10.0.0.1", Reason: "graceful"})
	store.Push(SessionHistoryEntry{ClientAddr: "10.0.0.2", Reason: "reset"})
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	defer gz.Close()

	var got []SessionHistoryEntry
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var e SessionHistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		got = append(got, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 JSONL records, got %d", len(got))
	}
	if got[0].ClientAddr != "10.0.0.1" || got[1].ClientAddr != "10.0.0.2" {
		t.Errorf("unexpected decoded records: %+v", got)
	}
}

func TestHistorySinkAdaptsClosedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.jsonl.gz")
	store, err := NewSessionHistoryStore(path, 10, 1000)
	if err != nil {
		t.Fatalf("NewSessionHistoryStore: %v", err)
	}
	defer store.Close()

	sink := store.HistorySink()
	sink(flowtrack.ClosedSession{
		CAddr:      0x0a000001,
		CPort:      40000,
		SAddr:      0x0a000002,
		SPort:      80,
		FinalState: flowtrack.Closed,
		Reason:     "graceful",
	})

	recent := store.Recent(0)
	if len(recent) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(recent))
	}
	if recent[0].ClientAddr != "10.0.0.1" || recent[0].ServerPort != 80 {
		t.Errorf("unexpected entry: %+v", recent[0])
	}
	if recent[0].FinalState != "C" {
		t.Errorf("expected final state %q, got %q", "C", recent[0].FinalState)
	}
}

func TestCompressSnapshotProducesOutput(t *testing.T) {
	payload := []byte(`{"active_sessions":3}`)
	compressed := CompressSnapshot(payload)
	if len(compressed) == 0 {
		t.Fatal("expected non-empty compressed output")
	}
}
