// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package objcache

import (
	"testing"

	"github.com/scaramanga/flowtrack/internal/memchunk"
)

type testObj struct {
	A, B uint64
	C    int32
}

func newTestCache(t *testing.T, numchunks int) (*memchunk.Region, *memchunk.Pool, *Cache[testObj]) {
	t.Helper()
	r, err := memchunk.NewRegion(numchunks)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	p, err := r.NewPool("test", numchunks)
	if err != nil {
		t.Fatal(err)
	}

	c, err := New[testObj](r, p, "testobj", false)
	if err != nil {
		t.Fatal(err)
	}
	return r, p, c
}

func TestAllocFreeRoundTrip(t *testing.T) {
	_, _, c := newTestCache(t, 2)

	h, err := c.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	obj := c.Get(h)
	obj.A = 7

	if err := c.Free(h); err != nil {
		t.Fatal(err)
	}
}

func TestAllocZeroedZeroesObject(t *testing.T) {
	_, _, c := newTestCache(t, 2)

	h, err := c.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	c.Get(h).A = 0xdeadbeef
	if err := c.Free(h); err != nil {
		t.Fatal(err)
	}

	h2, err := c.AllocZeroed()
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Get(h2).A; got != 0 {
		t.Fatalf("AllocZeroed left A = %#x, want 0", got)
	}
}

func TestFreeRejectsWrongCache(t *testing.T) {
	r, err := memchunk.NewRegion(4)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { r.Close() })

	p1, err := r.NewPool("mine", 2)
	if err != nil {
		t.Fatal(err)
	}
	c1, err := New[testObj](r, p1, "mine", false)
	if err != nil {
		t.Fatal(err)
	}

	p2, err := r.NewPool("other", 2)
	if err != nil {
		t.Fatal(err)
	}
	c2, err := New[testObj](r, p2, "other", false)
	if err != nil {
		t.Fatal(err)
	}

	h, err := c2.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.Free(h); err == nil {
		t.Fatal("expected error freeing a handle from a different cache")
	}
}

// TestAllocatorStress mirrors scenario E6: open N = obj_per_chunk + 1
// concurrent-in-time objects, then tear each down in reverse. After
// teardown inuse is 0, every chunk has returned to the pool, and the
// pool's free count is back at its reserve.
func TestAllocatorStress(t *testing.T) {
	numchunks := 4
	_, p, c := newTestCache(t, numchunks)

	n := int(c.ObjPerChunk()) + 1
	handles := make([]Handle, n)
	var err error
	for i := 0; i < n; i++ {
		handles[i], err = c.Alloc()
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
	}

	for i := n - 1; i >= 0; i-- {
		if err := c.Free(handles[i]); err != nil {
			t.Fatalf("free %d: %v", i, err)
		}
	}

	if got := p.Numfree(); got != p.Reserve() {
		t.Fatalf("pool free after stress test = %d, want reserve %d", got, p.Reserve())
	}
}

// TestPartialPathReusesFreedSlots: freeing one object out of a full
// chunk must move it back to partials and make that slot available
// again before any new chunk is acquired.
func TestPartialPathReusesFreedSlots(t *testing.T) {
	_, p, c := newTestCache(t, 4)
	before := p.Numfree()

	perChunk := int(c.ObjPerChunk())
	handles := make([]Handle, perChunk)
	var err error
	for i := range handles {
		handles[i], err = c.Alloc()
		if err != nil {
			t.Fatal(err)
		}
	}
	if got := p.Numfree(); got != before-1 {
		t.Fatalf("expected exactly one chunk drawn, pool free = %d, want %d", got, before-1)
	}

	if err := c.Free(handles[0]); err != nil {
		t.Fatal(err)
	}

	h, err := c.Alloc()
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Numfree(); got != before-1 {
		t.Fatalf("reallocating a freed slot drew a new chunk: pool free = %d, want %d", got, before-1)
	}
	if err := c.Free(h); err != nil {
		t.Fatal(err)
	}
}
