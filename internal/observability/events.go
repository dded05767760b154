// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

// EventEntry is one operational event: a checksum drop, a TTL-floor drop,
// an allocator exhaustion, a reap sweep result. ID is a sortable xid
// rather than a timestamp string, so two events logged within the same
// clock tick still order and dedupe correctly.
type EventEntry struct {
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"` // debug | info | warn | crit
	Type      string `json:"type"`  // e.g. csum_err, ttl_err, exhausted, reaped
	Message   string `json:"message"`
}

// EventRing is a fixed-capacity, thread-safe circular buffer of the most
// recent operational events; older entries are overwritten once full.
type EventRing struct {
	mu  sync.RWMutex
	buf []EventEntry
	pos int
	cap int
	len int
}

// NewEventRing builds a ring holding up to capacity events.
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 256
	}
	return &EventRing{
		buf: make([]EventEntry, capacity),
		cap: capacity,
	}
}

// Push inserts an event, stamping an ID and timestamp if not already set.
func (r *EventRing) Push(e EventEntry) EventEntry {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().Format(time.RFC3339)
	}
	r.mu.Lock()
	r.buf[r.pos] = e
	r.pos = (r.pos + 1) % r.cap
	if r.len < r.cap {
		r.len++
	}
	r.mu.Unlock()
	return e
}

// PushEvent is a helper building and inserting an event from its common
// fields in one call.
func (r *EventRing) PushEvent(level, eventType, message string) EventEntry {
	return r.Push(EventEntry{Level: level, Type: eventType, Message: message})
}

// Recent returns up to limit of the most recently pushed events, oldest
// first. limit <= 0 or > Len returns everything the ring currently holds.
func (r *EventRing) Recent(limit int) []EventEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.len
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return []EventEntry{}
	}

	result := make([]EventEntry, n)
	start := (r.pos - n + r.cap) % r.cap
	for i := 0; i < n; i++ {
		result[i] = r.buf[(start+i)%r.cap]
	}
	return result
}

// Len returns the number of events currently stored.
func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.len
}
