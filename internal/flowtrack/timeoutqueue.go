// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"time"

	"github.com/scaramanga/flowtrack/internal/objcache"
)

// timeoutQueue is a FIFO queue of sessions awaiting a fixed-delay
// timeout within one coarse bucket. The original ships tcp_tmo_check/
// tcp_expire disabled; per the documented Open Question decision this
// specifies the queue itself and leaves reap policy (which bucket,
// which delay) to Config.Timeouts. Every session in a bucket
// shares that bucket's fixed delay from its own insertion time, so
// insertion order is already expiry order: reaping is "pop from the
// front while the front has expired," not a priority queue.
type timeoutQueue struct {
	cache *objcache.Cache[Session]
	delay map[TimeoutBucket]time.Duration
	head  map[TimeoutBucket]objcache.Handle
	tail  map[TimeoutBucket]objcache.Handle
}

func newTimeoutQueue(cache *objcache.Cache[Session], delay map[TimeoutBucket]time.Duration) *timeoutQueue {
	return &timeoutQueue{
		cache: cache,
		delay: delay,
		head:  make(map[TimeoutBucket]objcache.Handle),
		tail:  make(map[TimeoutBucket]objcache.Handle),
	}
}

func (q *timeoutQueue) get(h objcache.Handle) *Session { return q.cache.Get(h) }

// Add files a session into bucket's queue, stamping its expiry as
// now+delay. A zero or absent delay for the bucket means the bucket is
// disabled and Add is a no-op, matching "leave the reap policy
// configurable." A session already queued (e.g. a resend or any other
// packet that leaves it in the same logical state) is removed from its
// current bucket first, so repeated Add calls never splice an already-
// linked node into itself.
func (q *timeoutQueue) Add(h objcache.Handle, s *Session, bucket TimeoutBucket, now time.Duration) {
	d, ok := q.delay[bucket]
	if !ok || d <= 0 {
		return
	}
	q.Remove(h, s)

	s.timeoutBucket = bucket
	s.ExpireAt = now + d
	s.timeoutPrev = objcache.Zero
	s.timeoutNext = objcache.Zero

	if tail, ok := q.tail[bucket]; ok && !tail.IsZero() {
		q.get(tail).timeoutNext = h
		s.timeoutPrev = tail
	} else {
		q.head[bucket] = h
	}
	q.tail[bucket] = h
}

// Remove takes a session out of whichever timeout bucket it currently
// occupies, if any. Safe to call on a session with no timeout pending.
func (q *timeoutQueue) Remove(h objcache.Handle, s *Session) {
	if s.timeoutBucket == NoTimeout {
		return
	}
	bucket := s.timeoutBucket
	if s.timeoutPrev.IsZero() {
		q.head[bucket] = s.timeoutNext
	} else {
		q.get(s.timeoutPrev).timeoutNext = s.timeoutNext
	}
	if s.timeoutNext.IsZero() {
		q.tail[bucket] = s.timeoutPrev
	} else {
		q.get(s.timeoutNext).timeoutPrev = s.timeoutPrev
	}
	s.timeoutPrev, s.timeoutNext = objcache.Zero, objcache.Zero
	s.timeoutBucket = NoTimeout
}

// Expired drains every session from bucket whose expiry is at or before
// now, in expiry order, removing each from the queue as it is returned.
func (q *timeoutQueue) Expired(bucket TimeoutBucket, now time.Duration) []objcache.Handle {
	var expired []objcache.Handle
	for {
		h, ok := q.head[bucket]
		if !ok || h.IsZero() {
			break
		}
		s := q.get(h)
		if s.ExpireAt > now {
			break
		}
		q.Remove(h, s)
		expired = append(expired, h)
	}
	return expired
}

// Buckets reports every bucket with a configured delay, for a reap
// sweep that wants to drain all of them.
func (q *timeoutQueue) Buckets() []TimeoutBucket {
	buckets := make([]TimeoutBucket, 0, len(q.delay))
	for b, d := range q.delay {
		if d > 0 {
			buckets = append(buckets, b)
		}
	}
	return buckets
}
