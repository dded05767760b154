// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package memchunk

// Chunk is a lightweight handle onto one chunk's header and data, valid
// for the lifetime of the Region it came from. It is the mechanism by
// which objcache carves typed slabs out of chunk-sized slices without
// reaching into Region internals directly: hdr_of becomes an O(1) index
// into the region's header array rather than pointer-difference
// arithmetic.
type Chunk struct {
	r   *Region
	idx int32
}

// IsZero reports whether c is the zero Chunk (no chunk acquired).
func (c Chunk) IsZero() bool { return c.r == nil }

// Index returns the chunk's position in the region, usable as part of a
// stable handle (see objcache.Handle).
func (c Chunk) Index() int32 { return c.idx }

// Data returns the ChunkSize-byte slice backing this chunk.
func (c Chunk) Data() []byte { return c.r.dataOf(c.idx) }

// Owner returns the identity of the objcache currently carving this
// chunk, or 0 if unowned.
func (c Chunk) Owner() uint64 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].ownerID
}

// SetOwner stamps the chunk with the owning cache's identity and marks
// it in-use. Taking ownership of a previously-unowned chunk bumps its
// generation counter, so handles minted before the chunk was released
// and recycled can be told apart from current ones.
func (c Chunk) SetOwner(id uint64) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	h := &c.r.hdr[c.idx]
	if id != 0 && h.ownerID == 0 {
		h.gen++
	}
	h.ownerID = id
	h.inUse = id != 0
}

// Gen returns the chunk's current generation counter.
func (c Chunk) Gen() uint32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].gen
}

// ObjSize returns the fixed object size this chunk is currently carved
// into.
func (c Chunk) ObjSize() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].objSize
}

// SetObjSize records the object size this chunk is carved into.
func (c Chunk) SetObjSize(n int32) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].objSize = n
}

// Inuse returns the live object count for this chunk.
func (c Chunk) Inuse() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].inuse
}

// IncInuse increments the live object count and returns the new value.
func (c Chunk) IncInuse() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].inuse++
	return c.r.hdr[c.idx].inuse
}

// DecInuse decrements the live object count and returns the new value.
func (c Chunk) DecInuse() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].inuse--
	return c.r.hdr[c.idx].inuse
}

// FreeHead returns the intra-chunk object free-list head slot, or -1.
func (c Chunk) FreeHead() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].freeHead
}

// SetFreeHead sets the intra-chunk object free-list head slot.
func (c Chunk) SetFreeHead(slot int32) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].freeHead = slot
}

// InFull reports whether the owning objcache currently lists this
// chunk on its full list (as opposed to partials).
func (c Chunk) InFull() bool {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].inFull
}

// SetInFull records which list (partials/full) the owning objcache
// currently files this chunk under.
func (c Chunk) SetInFull(v bool) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].inFull = v
}

// ListPrev and ListNext return the doubly-linked partial/full list
// neighbors, as chunk indices (NilSlot for no neighbor).
func (c Chunk) ListPrev() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].listPrev
}

func (c Chunk) ListNext() int32 {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	return c.r.hdr[c.idx].listNext
}

// SetListPrev and SetListNext set the doubly-linked partial/full list
// neighbors independently, so callers never need to read-modify-write
// the pair under their own locking.
func (c Chunk) SetListPrev(prev int32) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].listPrev = prev
}

func (c Chunk) SetListNext(next int32) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.hdr[c.idx].listNext = next
}

// ChunkAt returns a Chunk handle for the given chunk index, the O(1)
// hdr_of operation: no arithmetic beyond the index itself, since the
// index is carried in the handle rather than recovered from an address.
func (r *Region) ChunkAt(idx int32) Chunk { return Chunk{r: r, idx: idx} }

// NextCacheID hands out a process-unique identity for a new objcache,
// used to stamp chunk ownership and to verify hdr_of(obj).cache == self.
func (r *Region) NextCacheID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextCacheID++
	return r.nextCacheID
}
