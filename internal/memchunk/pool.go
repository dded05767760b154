// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package memchunk

import "fmt"

// Pool is a named reservation of chunks drawn from a Region's global
// pool. Allocations that exhaust a pool's own free list spill to the
// global pool; frees that would push a pool's free count above its
// reserve watermark spill back to the global pool instead.
type Pool struct {
	label   string
	region  *Region
	freeHead int32
	numfree int
	reserve int
}

// NewPool draws numchunks chunks from the region's global pool into a
// new named pool. Fails with ErrExhausted if the global pool cannot
// supply that many.
func (r *Region) NewPool(label string, numchunks int) (*Pool, error) {
	if numchunks <= 0 {
		return nil, fmt.Errorf("memchunk: pool %q: numchunks must be > 0, got %d", label, numchunks)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := &Pool{label: label, region: r, freeHead: nilIdx, reserve: numchunks}
	if err := r.refillLocked(p, numchunks); err != nil {
		return nil, fmt.Errorf("memchunk: pool %q: %w", label, err)
	}
	return p, nil
}

// Destroy asserts the pool's free count matches its reserve (every
// chunk checked out has been returned) and releases every chunk back to
// the global pool.
func (p *Pool) Destroy() error {
	r := p.region
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.numfree != p.reserve {
		return fmt.Errorf("memchunk: pool %q destroyed with %d/%d chunks checked out", p.label, p.reserve-p.numfree, p.reserve)
	}
	for p.freeHead != nilIdx {
		idx := p.freeHead
		h := &r.hdr[idx]
		p.freeHead = h.next
		p.numfree--
		r.releaseLocked(r.global, idx)
	}
	return nil
}

// Label returns the pool's name.
func (p *Pool) Label() string { return p.label }

// Acquire hands out one chunk from the pool, spilling from the global
// pool if necessary. Returns ErrExhausted if neither has a free chunk.
func (p *Pool) Acquire() (Chunk, error) {
	idx, err := p.region.acquire(p)
	if err != nil {
		return Chunk{}, err
	}
	return p.region.ChunkAt(idx), nil
}

// Release returns c to the pool, or to the global pool if the pool is
// already at its reserve watermark.
func (p *Pool) Release(c Chunk) {
	p.region.release(p, c.Index())
}

// Numfree and Reserve report the pool's current watermark state, for
// tests and observability (§8 invariant 4: 0 ≤ numfree ≤ reserve).
func (p *Pool) Numfree() int {
	p.region.mu.Lock()
	defer p.region.mu.Unlock()
	return p.numfree
}

func (p *Pool) Reserve() int { return p.reserve }
