// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"fmt"

	"github.com/scaramanga/flowtrack/internal/objcache"
)

// sessionTable is the hashed session table (C4): a fixed power-of-two
// number of buckets, each a move-to-front collision chain, plus a
// global LRU list. hdr_of-style chunk lookups become objcache handle
// resolution; the original's prev-pointer-of-pointer chain surgery
// becomes ordinary doubly-linked handle splicing, since both directions
// of the link are stored explicitly (§9).
type sessionTable struct {
	cache   *objcache.Cache[Session]
	buckets []objcache.Handle
	mask    uint32

	lruHead, lruTail objcache.Handle
	count            int
}

// newSessionTable builds a table with numBuckets buckets, rounded up to
// the next power of two if necessary (§4.4: "TCPHASH (power of two)").
func newSessionTable(cache *objcache.Cache[Session], numBuckets int) (*sessionTable, error) {
	if numBuckets <= 0 {
		return nil, fmt.Errorf("flowtrack: TCPHASH must be > 0, got %d", numBuckets)
	}
	n := 1
	for n < numBuckets {
		n <<= 1
	}
	buckets := make([]objcache.Handle, n)
	for i := range buckets {
		buckets[i] = objcache.Zero
	}
	return &sessionTable{cache: cache, buckets: buckets, mask: uint32(n - 1), lruHead: objcache.Zero, lruTail: objcache.Zero}, nil
}

func (t *sessionTable) bucketIndex(hash uint32) uint32 { return hash & t.mask }

func (t *sessionTable) get(h objcache.Handle) *Session {
	if h.IsZero() {
		return nil
	}
	return t.cache.Get(h)
}

// lookup scans the chain at hash's bucket for a session matching the
// 4-tuple, moving it to the front of the chain on a hit (§4.4 MTF).
func (t *sessionTable) lookup(hash uint32, srcAddr uint32, srcPort uint16, dstAddr uint32, dstPort uint16) (objcache.Handle, *Session, bool) {
	idx := t.bucketIndex(hash)
	for cur := t.buckets[idx]; !cur.IsZero(); {
		s := t.get(cur)
		if match, toServer := s.fourTupleMatch(srcAddr, srcPort, dstAddr, dstPort); match {
			t.moveToFront(idx, cur, s)
			return cur, s, toServer
		}
		cur = s.hashNext
	}
	return objcache.Zero, nil, false
}

// insert prepends a newly created session to its bucket's chain.
func (t *sessionTable) insert(h objcache.Handle, s *Session, hash uint32) {
	idx := t.bucketIndex(hash)
	s.hashPrev = objcache.Zero
	s.hashNext = t.buckets[idx]
	if !t.buckets[idx].IsZero() {
		t.get(t.buckets[idx]).hashPrev = h
	}
	t.buckets[idx] = h
	t.count++
	t.lruPushFront(h, s)
}

// remove unlinks a session from its bucket's chain in O(1) via its
// stored prev/next handles, and from the LRU list.
func (t *sessionTable) remove(hash uint32, h objcache.Handle, s *Session) {
	idx := t.bucketIndex(hash)
	if s.hashPrev.IsZero() {
		t.buckets[idx] = s.hashNext
	} else {
		t.get(s.hashPrev).hashNext = s.hashNext
	}
	if !s.hashNext.IsZero() {
		t.get(s.hashNext).hashPrev = s.hashPrev
	}
	s.hashNext, s.hashPrev = objcache.Zero, objcache.Zero
	t.lruRemove(h, s)
	t.count--
}

// moveToFront implements MTF: unlink and reinsert h at idx's chain
// head, and touch the LRU list.
func (t *sessionTable) moveToFront(idx uint32, h objcache.Handle, s *Session) {
	if t.buckets[idx] != h {
		if s.hashPrev.IsZero() {
			t.buckets[idx] = s.hashNext
		} else {
			t.get(s.hashPrev).hashNext = s.hashNext
		}
		if !s.hashNext.IsZero() {
			t.get(s.hashNext).hashPrev = s.hashPrev
		}
		s.hashPrev = objcache.Zero
		s.hashNext = t.buckets[idx]
		if !t.buckets[idx].IsZero() {
			t.get(t.buckets[idx]).hashPrev = h
		}
		t.buckets[idx] = h
	}
	t.lruTouch(h, s)
}

// Count returns the number of live sessions in the table.
func (t *sessionTable) Count() int { return t.count }

func (t *sessionTable) lruPushFront(h objcache.Handle, s *Session) {
	s.lruPrev = objcache.Zero
	s.lruNext = t.lruHead
	if !t.lruHead.IsZero() {
		t.get(t.lruHead).lruPrev = h
	}
	t.lruHead = h
	if t.lruTail.IsZero() {
		t.lruTail = h
	}
}

func (t *sessionTable) lruRemove(h objcache.Handle, s *Session) {
	if s.lruPrev.IsZero() {
		t.lruHead = s.lruNext
	} else {
		t.get(s.lruPrev).lruNext = s.lruNext
	}
	if s.lruNext.IsZero() {
		t.lruTail = s.lruPrev
	} else {
		t.get(s.lruNext).lruPrev = s.lruPrev
	}
	s.lruNext, s.lruPrev = objcache.Zero, objcache.Zero
}

// lruTouch moves h to the LRU head (§4.4: "the entry point moves the
// session to LRU head on every packet").
func (t *sessionTable) lruTouch(h objcache.Handle, s *Session) {
	if t.lruHead == h {
		return
	}
	t.lruRemove(h, s)
	t.lruPushFront(h, s)
}

// LRUTail returns the least-recently-touched session, for reap
// policies that want an LRU-ordered sweep.
func (t *sessionTable) LRUTail() (objcache.Handle, *Session) {
	if t.lruTail.IsZero() {
		return objcache.Zero, nil
	}
	return t.lruTail, t.get(t.lruTail)
}
