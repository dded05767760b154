// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package objcache

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	"github.com/scaramanga/flowtrack/internal/memchunk"
)

const minObjSize = int32(unsafe.Sizeof(uintptr(0)))

// Cache is a slab allocator for one fixed object size T, backed by
// chunks drawn from a single memchunk.Pool. It maintains a current bump
// chunk for the fast allocation path, plus partial and full chunk
// lists threaded through the region's shared chunk headers.
type Cache[T any] struct {
	id    uint64
	label string

	region *memchunk.Region
	pool   *memchunk.Pool

	objSize     int32
	objPerChunk int32
	poison      bool

	mu sync.Mutex

	current memchunk.Chunk // zero value if no current bump chunk
	bumpOff int32           // next free byte offset within current
	bumpEnd int32           // end of the chunk's data area

	partialHead, partialTail int32
	fullHead, fullTail        int32
}

// New creates a cache of objects of type T backed by pool. obj_sz is
// rounded up to at least pointer size so a free-list link fits inside
// every free object, and must not exceed memchunk.ChunkSize.
func New[T any](region *memchunk.Region, pool *memchunk.Pool, label string, poison bool) (*Cache[T], error) {
	var zero T
	objSize := int32(unsafe.Sizeof(zero))
	if objSize < minObjSize {
		objSize = minObjSize
	}
	if objSize > memchunk.ChunkSize {
		return nil, fmt.Errorf("objcache %q: object size %d exceeds chunk size %d", label, objSize, memchunk.ChunkSize)
	}

	return &Cache[T]{
		id:          region.NextCacheID(),
		label:       label,
		region:      region,
		pool:        pool,
		objSize:     objSize,
		objPerChunk: memchunk.ChunkSize / objSize,
		poison:      poison,
		partialHead: memchunk.NilSlot, partialTail: memchunk.NilSlot,
		fullHead: memchunk.NilSlot, fullTail: memchunk.NilSlot,
	}, nil
}

// Label returns the cache's name.
func (c *Cache[T]) Label() string { return c.label }

// ObjPerChunk returns CHUNK_SIZE/obj_sz for this cache.
func (c *Cache[T]) ObjPerChunk() int32 { return c.objPerChunk }

// Close destroys every objcache-owned chunk's bookkeeping and releases
// them back to the pool. It does not assert on live objects; callers
// are expected to have freed everything first (mirrors objcache_fini,
// which trusts the caller).
func (c *Cache[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for idx := c.partialHead; idx != memchunk.NilSlot; {
		ch := c.region.ChunkAt(idx)
		next := ch.ListNext()
		ch.SetOwner(0)
		c.pool.Release(ch)
		idx = next
	}
	for idx := c.fullHead; idx != memchunk.NilSlot; {
		ch := c.region.ChunkAt(idx)
		next := ch.ListNext()
		ch.SetOwner(0)
		c.pool.Release(ch)
		idx = next
	}
	if !c.current.IsZero() {
		c.current.SetOwner(0)
		c.pool.Release(c.current)
	}
	c.partialHead, c.partialTail = memchunk.NilSlot, memchunk.NilSlot
	c.fullHead, c.fullTail = memchunk.NilSlot, memchunk.NilSlot
	c.current = memchunk.Chunk{}
}

// Alloc returns a handle to a freshly carved object, selecting the
// first viable path: partial chunk free list, bump pointer into the
// current chunk, or a freshly acquired chunk from the pool. Returns
// memchunk.ErrExhausted if the pool cannot supply a new chunk.
func (c *Cache[T]) Alloc() (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocLocked()
}

// AllocZeroed is Alloc followed by a zero-fill of the object's bytes.
func (c *Cache[T]) AllocZeroed() (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, err := c.allocLocked()
	if err != nil {
		return h, err
	}
	data := c.slotBytes(h)
	for i := range data {
		data[i] = 0
	}
	return h, nil
}

func (c *Cache[T]) allocLocked() (Handle, error) {
	if h, ok := c.allocPartial(); ok {
		return h, nil
	}
	if h, ok := c.allocBump(); ok {
		return h, nil
	}
	return c.allocSlow()
}

// allocPartial is the partial path (§4.3 step 1): pop one object from
// the head partial chunk's intra-chunk free list.
func (c *Cache[T]) allocPartial() (Handle, bool) {
	if c.partialHead == memchunk.NilSlot {
		return Handle{}, false
	}
	ch := c.region.ChunkAt(c.partialHead)
	slot := ch.FreeHead()
	if slot == memchunk.NilSlot {
		return Handle{}, false
	}

	next := readNextSlot(ch.Data(), slot, c.objSize)
	ch.SetFreeHead(next)
	ch.IncInuse()

	if next == memchunk.NilSlot && !c.isCurrent(ch) {
		c.moveToFull(ch)
	}
	return c.handle(ch, slot), true
}

// allocBump is the bump path (§4.3 step 2): carve the next slot out of
// the current chunk's untouched tail region.
func (c *Cache[T]) allocBump() (Handle, bool) {
	if c.current.IsZero() || c.bumpOff+c.objSize > c.bumpEnd {
		return Handle{}, false
	}
	slot := c.bumpOff / c.objSize
	c.bumpOff += c.objSize
	inuse := c.current.IncInuse()

	ch := c.current
	if inuse == c.objPerChunk && ch.FreeHead() == memchunk.NilSlot {
		c.pushFull(ch)
		c.current = memchunk.Chunk{}
		c.bumpOff, c.bumpEnd = 0, 0
	}
	return c.handle(ch, slot), true
}

// allocSlow is the slow path (§4.3 step 3): acquire a new chunk from
// the pool and initialize it as the current bump chunk.
func (c *Cache[T]) allocSlow() (Handle, error) {
	ch, err := c.pool.Acquire()
	if err != nil {
		return Zero, err
	}
	ch.SetOwner(c.id)
	ch.SetObjSize(c.objSize)
	ch.SetFreeHead(memchunk.NilSlot)

	c.current = ch
	c.bumpOff = 0
	c.bumpEnd = c.objPerChunk * c.objSize

	h, ok := c.allocBump()
	if !ok {
		// Unreachable: a freshly initialized chunk always has room
		// for at least one object.
		return Zero, fmt.Errorf("objcache %q: slow path failed to bump-allocate from a fresh chunk", c.label)
	}
	return h, nil
}

// Free returns the object at h to its owning chunk's free list,
// merging the chunk back into the pool once its last object is freed.
func (c *Cache[T]) Free(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.region.ChunkAt(h.chunk)
	if err := c.checkFree(ch, h); err != nil {
		return err
	}

	wasEmpty := ch.FreeHead() == memchunk.NilSlot
	if wasEmpty && !c.isCurrent(ch) && ch.InFull() {
		c.moveToPartial(ch)
	}

	if c.poison {
		poisonBytes(c.slotBytes(h))
	}
	writeNextSlot(ch.Data(), h.slot, c.objSize, ch.FreeHead())
	ch.SetFreeHead(h.slot)

	if ch.DecInuse() == 0 {
		if c.isCurrent(ch) {
			c.current = memchunk.Chunk{}
			c.bumpOff, c.bumpEnd = 0, 0
		} else {
			c.unlink(ch)
		}
		ch.SetOwner(0)
		if c.poison {
			poisonBytes(ch.Data())
		}
		c.pool.Release(ch)
	}
	return nil
}

// FreeChecked is Free with the full debug invariant suite (owning
// cache, double-free, bump-range overlap) run unconditionally,
// regardless of build tags. It exists for callers that want the
// stronger check on a hot path they specifically suspect, without
// rebuilding the binary with the debug tag.
func (c *Cache[T]) FreeChecked(h Handle) error {
	c.mu.Lock()
	ch := c.region.ChunkAt(h.chunk)
	err := c.checkInvariantsLocked(ch, h)
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Free(h)
}

func (c *Cache[T]) checkInvariantsLocked(ch memchunk.Chunk, h Handle) error {
	if ch.Owner() != c.id {
		return fmt.Errorf("objcache %q: free of object from chunk owned by cache %d, expected %d", c.label, ch.Owner(), c.id)
	}
	if ch.Gen() != h.gen {
		return fmt.Errorf("objcache %q: free of stale handle (chunk recycled since allocation)", c.label)
	}
	for slot := ch.FreeHead(); slot != memchunk.NilSlot; slot = readNextSlot(ch.Data(), slot, c.objSize) {
		if slot == h.slot {
			return fmt.Errorf("objcache %q: double free of slot %d in chunk %d", c.label, h.slot, h.chunk)
		}
	}
	if c.isCurrent(ch) {
		off := h.slot * c.objSize
		if off >= c.bumpOff && off < c.bumpEnd {
			return fmt.Errorf("objcache %q: free of slot %d still inside the unallocated bump range", c.label, h.slot)
		}
	}
	return nil
}

// Get dereferences a handle as *T. The caller must not retain the
// pointer past the matching Free call.
func (c *Cache[T]) Get(h Handle) *T {
	data := c.slotBytes(h)
	return (*T)(unsafe.Pointer(&data[0]))
}

func (c *Cache[T]) slotBytes(h Handle) []byte {
	ch := c.region.ChunkAt(h.chunk)
	off := h.slot * c.objSize
	return ch.Data()[off : off+c.objSize]
}

func (c *Cache[T]) handle(ch memchunk.Chunk, slot int32) Handle {
	return Handle{chunk: ch.Index(), slot: slot, gen: ch.Gen()}
}

func (c *Cache[T]) isCurrent(ch memchunk.Chunk) bool {
	return !c.current.IsZero() && c.current.Index() == ch.Index()
}

func (c *Cache[T]) moveToFull(ch memchunk.Chunk) {
	if ch.InFull() {
		return
	}
	c.unlink(ch)
	c.pushFull(ch)
}

func (c *Cache[T]) moveToPartial(ch memchunk.Chunk) {
	c.unlink(ch)
	c.pushPartial(ch)
}

func (c *Cache[T]) pushPartial(ch memchunk.Chunk) {
	ch.SetInFull(false)
	ch.SetListPrev(memchunk.NilSlot)
	ch.SetListNext(c.partialHead)
	if c.partialHead != memchunk.NilSlot {
		c.region.ChunkAt(c.partialHead).SetListPrev(ch.Index())
	} else {
		c.partialTail = ch.Index()
	}
	c.partialHead = ch.Index()
}

func (c *Cache[T]) pushFull(ch memchunk.Chunk) {
	ch.SetInFull(true)
	ch.SetListPrev(memchunk.NilSlot)
	ch.SetListNext(c.fullHead)
	if c.fullHead != memchunk.NilSlot {
		c.region.ChunkAt(c.fullHead).SetListPrev(ch.Index())
	} else {
		c.fullTail = ch.Index()
	}
	c.fullHead = ch.Index()
}

// unlink removes ch from whichever of partials/full it currently sits
// on. It is a no-op if ch is not on either list (e.g. it is the
// current bump chunk, which is tracked outside both lists).
func (c *Cache[T]) unlink(ch memchunk.Chunk) {
	prev, next := ch.ListPrev(), ch.ListNext()
	head, tail := &c.partialHead, &c.partialTail
	if ch.InFull() {
		head, tail = &c.fullHead, &c.fullTail
	}

	if prev != memchunk.NilSlot {
		c.region.ChunkAt(prev).SetListNext(next)
	} else if *head == ch.Index() {
		*head = next
	}
	if next != memchunk.NilSlot {
		c.region.ChunkAt(next).SetListPrev(prev)
	} else if *tail == ch.Index() {
		*tail = prev
	}
	ch.SetListPrev(memchunk.NilSlot)
	ch.SetListNext(memchunk.NilSlot)
}

func readNextSlot(data []byte, slot, objSize int32) int32 {
	off := slot * objSize
	return int32(binary.LittleEndian.Uint32(data[off : off+4]))
}

func writeNextSlot(data []byte, slot, objSize, next int32) {
	off := slot * objSize
	binary.LittleEndian.PutUint32(data[off:off+4], uint32(next))
}

func poisonBytes(b []byte) {
	const poisonByte = 0xAF
	for i := range b {
		b[i] = poisonByte
	}
}
