// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package memchunk implements the chunk-backed arena that underlies every
// allocation the tracker makes: a single contiguous reservation split into
// fixed-size chunks, a parallel header array giving O(1) chunk lookup, and
// named pools that reserve chunks against a process-wide global pool.
package memchunk

import (
	"errors"
	"fmt"
	"sync"
)

// ChunkShift and ChunkSize fix the unit of transfer between the region,
// pools and objcaches. 8KiB, matching the original allocator's default.
const (
	ChunkShift = 13
	ChunkSize  = 1 << ChunkShift
)

var (
	// ErrExhausted is returned when a pool (or the global pool) has no
	// chunks left to hand out.
	ErrExhausted = errors.New("memchunk: chunk pool exhausted")
	// ErrBusy is returned by Region.Close when chunks are still checked
	// out of the global pool.
	ErrBusy = errors.New("memchunk: region has chunks still in use")
)

const nilIdx = -1

// NilSlot is the sentinel value for "no chunk"/"no slot" used throughout
// the Chunk and objcache handle APIs.
const NilSlot int32 = nilIdx

// chunkHeader is the tagged record living in the region's header array,
// parallel to the chunk data array. In the free state only next is
// meaningful; in the in-use state ownerID/objSize/inuse/freeHead describe
// the objcache slab carved from this chunk.
type chunkHeader struct {
	idx  int32
	next int32 // free-list link (index into hdr), nilIdx if none

	inUse bool
	gen   uint32 // bumped each time the chunk changes owner, for stale-handle detection

	ownerID  uint64 // identity of the owning Cache[T], 0 if unowned
	objSize  int32
	freeHead int32 // intra-chunk free-list head (slot index), nilIdx if none
	inuse    int32 // live object count

	// partial/full list linkage, maintained by the owning objcache.
	listPrev, listNext int32
	inFull             bool
}

// Region owns one contiguous reservation of N chunks plus their header
// array, and the global pool that all other pools draw from.
type Region struct {
	n    int
	data []byte // N * ChunkSize bytes
	hdr  []chunkHeader

	mu     sync.Mutex
	global *Pool

	nextCacheID uint64
	closed      bool
}

// NewRegion reserves numchunks chunks backed by an anonymous mapping
// (mmap on unix build targets, a plain heap slice otherwise) and
// initializes every chunk header into the free state, linked in
// ascending address order into the global pool's free list.
func NewRegion(numchunks int) (*Region, error) {
	if numchunks <= 0 {
		return nil, fmt.Errorf("memchunk: numchunks must be > 0, got %d", numchunks)
	}

	data, err := reserve(numchunks * ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("memchunk: reserving region: %w", err)
	}

	r := &Region{
		n:    numchunks,
		data: data,
		hdr:  make([]chunkHeader, numchunks),
	}
	r.global = &Pool{label: "global", region: r, reserve: numchunks}

	for i := numchunks - 1; i >= 0; i-- {
		r.hdr[i] = chunkHeader{idx: int32(i), next: r.global.freeHead}
		r.global.freeHead = int32(i)
		r.global.numfree++
	}
	return r, nil
}

// Close releases the entire backing mapping in one operation. It fails
// if any chunk is still checked out of the global pool.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if r.global.numfree != r.n {
		return ErrBusy
	}
	if err := release(r.data); err != nil {
		return err
	}
	r.closed = true
	return nil
}

// GlobalPool returns the region's singleton global pool.
func (r *Region) GlobalPool() *Pool { return r.global }

// dataOf returns the byte slice backing chunk idx.
func (r *Region) dataOf(idx int32) []byte {
	off := int(idx) * ChunkSize
	return r.data[off : off+ChunkSize]
}

// acquire pops a free chunk from pool, spilling from the global pool if
// pool's own free list is empty. Returns ErrExhausted if both are empty.
func (r *Region) acquire(p *Pool) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.freeHead == nilIdx && p != r.global {
		if err := r.refillLocked(p, 1); err != nil {
			return nilIdx, err
		}
	}
	if p.freeHead == nilIdx {
		return nilIdx, ErrExhausted
	}

	idx := p.freeHead
	h := &r.hdr[idx]
	p.freeHead = h.next
	p.numfree--
	h.next = nilIdx
	return idx, nil
}

// release returns a chunk to pool, unless pool is already at its
// reserve watermark, in which case it spills to the global pool instead.
func (r *Region) release(p *Pool, idx int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(p, idx)
}

func (r *Region) releaseLocked(p *Pool, idx int32) {
	h := &r.hdr[idx]
	*h = chunkHeader{idx: idx, gen: h.gen}

	target := p
	if p != r.global && p.numfree >= p.reserve {
		target = r.global
	}
	h.next = target.freeHead
	target.freeHead = idx
	target.numfree++
}

// refillLocked draws n chunks from the global pool into p's free list.
// Caller holds r.mu.
func (r *Region) refillLocked(p *Pool, n int) error {
	if r.global.numfree < n {
		return ErrExhausted
	}
	for i := 0; i < n; i++ {
		idx := r.global.freeHead
		h := &r.hdr[idx]
		r.global.freeHead = h.next
		r.global.numfree--

		h.next = p.freeHead
		p.freeHead = idx
		p.numfree++
	}
	return nil
}

// Stats reports region-wide free/in-use chunk counts, for observability.
type Stats struct {
	TotalChunks int
	GlobalFree  int
}

func (r *Region) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{TotalChunks: r.n, GlobalFree: r.global.numfree}
}
