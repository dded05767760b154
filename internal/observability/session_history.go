// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
)

// SessionHistoryEntry is one closed session, the flow-tracking analog
// of the teacher's finished-backup-job record.
type SessionHistoryEntry struct {
	ClientAddr string `json:"client_addr"`
	ClientPort uint16 `json:"client_port"`
	ServerAddr string `json:"server_addr"`
	ServerPort uint16 `json:"server_port"`
	FinalState string `json:"final_state"`
	Reason     string `json:"reason"` // graceful | reset | timeout
	ClosedAt   string `json:"closed_at"`
}

func entryFromClosedSession(c flowtrack.ClosedSession) SessionHistoryEntry {
	return SessionHistoryEntry{
		ClientAddr: formatIPv4(c.CAddr),
		ClientPort: c.CPort,
		ServerAddr: formatIPv4(c.SAddr),
		ServerPort: c.SPort,
		FinalState: c.FinalState.String(),
		Reason:     c.Reason,
		ClosedAt:   time.Now().Format(time.RFC3339),
	}
}

func formatIPv4(addr uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(addr>>24), byte(addr>>16), byte(addr>>8), byte(addr))
}

// SessionHistoryRing is a fixed-capacity, thread-safe circular buffer of
// the most recently closed sessions.
type SessionHistoryRing struct {
	mu  sync.RWMutex
	buf []SessionHistoryEntry
	pos int
	cap int
	len int
}

// NewSessionHistoryRing builds a ring holding up to capacity entries.
func NewSessionHistoryRing(capacity int) *SessionHistoryRing {
	if capacity <= 0 {
		capacity = 1024
	}
	return &SessionHistoryRing{buf: make([]SessionHistoryEntry, capacity), cap: capacity}
}

// Push inserts an entry, overwriting the oldest once the ring is full.
func (r *SessionHistoryRing) Push(e SessionHistoryEntry) {
	r.mu.Lock()
	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.cap
	if r.len < r.cap {
		r.len++
	}
	r.mu.Unlock()
}

// Recent returns up to limit of the most recent entries, oldest first.
func (r *SessionHistoryRing) Recent(limit int) []SessionHistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []SessionHistoryEntry{}
	}
	result := make([]SessionHistoryEntry, n)
	start := (r.pos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		result[i] = r.buf[(start+i)%r.cap]
	}
	return result
}

// Len returns the number of entries currently stored.
func (r *SessionHistoryRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len
}

// SessionHistoryStore combines the in-memory ring with a pgzip-compressed,
// append-only JSONL export — the rolling export named in SPEC_FULL.md's
// domain-stack table, ported from the teacher's plain (uncompressed)
// active_session_store.go/session_history_store.go pattern.
type SessionHistoryStore struct {
	ring *SessionHistoryRing

	mu       sync.Mutex
	file     *os.File
	gz       *pgzip.Writer
	path     string
	maxLines int
	lines    int
}

// NewSessionHistoryStore opens (or creates) path as a pgzip stream and
// wraps it with an in-memory ring of ringCap entries. Unlike the
// teacher's plain-text store, a pgzip export cannot be read back and
// appended to mid-stream (gzip members can only be concatenated, not
// rewritten), so Recent is served purely from the ring; the file is a
// write-only rolling archive, rotated by maxLines.
func NewSessionHistoryStore(path string, ringCap, maxLines int) (*SessionHistoryStore, error) {
	if maxLines <= 0 {
		maxLines = 5000
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening session history export: %w", err)
	}
	return &SessionHistoryStore{
		ring:     NewSessionHistoryRing(ringCap),
		file:     f,
		gz:       pgzip.NewWriter(f),
		path:     path,
		maxLines: maxLines,
	}, nil
}

// Push records a closed session in memory and appends it to the
// compressed rolling export, rotating the export once maxLines is
// exceeded.
func (s *SessionHistoryStore) Push(e SessionHistoryEntry) {
	s.ring.Push(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if _, err := s.gz.Write(append(data, '\n')); err != nil {
		return
	}
	s.gz.Flush()

	s.lines++
	if s.lines > s.maxLines {
		s.rotateLocked()
	}
}

// rotateLocked starts a fresh compressed export file, discarding the
// prior one: the ring already holds the most recent entries in memory,
// so the rolling export's job is bounded disk growth, not a durable
// archive (persistence beyond the ring is an explicit Non-goal).
func (s *SessionHistoryStore) rotateLocked() {
	s.gz.Close()
	s.file.Close()

	f, err := os.Create(s.path)
	if err != nil {
		s.file, _ = os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		s.gz = pgzip.NewWriter(s.file)
		return
	}
	s.file = f
	s.gz = pgzip.NewWriter(f)
	s.lines = 0
}

// Recent returns up to limit of the most recently closed sessions.
func (s *SessionHistoryStore) Recent(limit int) []SessionHistoryEntry {
	return s.ring.Recent(limit)
}

// Close flushes and closes the compressed export file.
func (s *SessionHistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.gz.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}

// HistorySink adapts a SessionHistoryStore to flowtrack.Tracker's
// SetHistorySink callback shape.
func (s *SessionHistoryStore) HistorySink() func(flowtrack.ClosedSession) {
	return func(c flowtrack.ClosedSession) {
		s.Push(entryFromClosedSession(c))
	}
}

// snapshotEncoder compresses one-shot, on-demand session-table snapshots
// with zstd rather than pgzip (SPEC_FULL.md's domain-stack table: zstd
// for the on-demand snapshot, pgzip for the rolling export). A single
// shared encoder is reused across requests; EncodeAll is safe for
// concurrent callers.
var snapshotEncoder, _ = zstd.NewWriter(nil)

// CompressSnapshot compresses an arbitrary JSON snapshot payload with
// zstd for the HTTP layer's on-demand snapshot endpoint.
func CompressSnapshot(data []byte) []byte {
	return snapshotEncoder.EncodeAll(data, nil)
}
