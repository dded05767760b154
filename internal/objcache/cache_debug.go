// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build debug

package objcache

import (
	"fmt"

	"github.com/scaramanga/flowtrack/internal/memchunk"
)

// checkFree runs the invariant checks the original guards behind
// OBJCACHE_DEBUG_FREE: the recovered chunk must be owned by this cache
// (§8 invariant 1), the object must not already be on its chunk's free
// list (double free), and it must lie outside the chunk's unallocated
// bump range. Violations are programming errors (§7 ¶4): assert and
// abort rather than return an error.
func (c *Cache[T]) checkFree(ch memchunk.Chunk, h Handle) error {
	if ch.Owner() != c.id {
		abortf("objcache %q: free of object from chunk owned by cache %d, expected %d", c.label, ch.Owner(), c.id)
	}
	if ch.Gen() != h.gen {
		abortf("objcache %q: free of stale handle (chunk recycled since allocation)", c.label)
	}

	for slot := ch.FreeHead(); slot != memchunk.NilSlot; slot = readNextSlot(ch.Data(), slot, c.objSize) {
		if slot == h.slot {
			abortf("objcache %q: double free of slot %d in chunk %d", c.label, h.slot, h.chunk)
		}
	}

	if c.isCurrent(ch) {
		off := h.slot * c.objSize
		if off >= c.bumpOff && off < c.bumpEnd {
			abortf("objcache %q: free of slot %d still inside the unallocated bump range", c.label, h.slot)
		}
	}
	return nil
}

// abortf panics with an invariant-violation message. Debug builds never
// recover from this: it is the Go analogue of the original's assert().
func abortf(format string, args ...any) {
	panic(fmt.Sprintf("objcache: invariant violation: "+format, args...))
}
