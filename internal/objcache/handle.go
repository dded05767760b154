// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package objcache implements typed slab allocation over memchunk: a
// per-object-size cache carving fixed-size chunks into objects, with a
// partial/bump/slow allocation path and O(1) handle-to-owner lookup.
package objcache

import "github.com/scaramanga/flowtrack/internal/memchunk"

// Handle is an opaque, copyable reference to a live object. Per the
// original allocator's own suggestion for a managed-memory port, it
// carries the cache's chunk index and intra-chunk slot directly rather
// than recovering them by subtracting addresses: hdr_of(obj) becomes a
// field read on the handle instead of pointer arithmetic. The
// generation guards against using a handle after its chunk has been
// released and recycled for a different object.
type Handle struct {
	chunk int32
	slot  int32
	gen   uint32
}

// Zero is the handle value returned on allocation failure.
var Zero = Handle{chunk: memchunk.NilSlot, slot: memchunk.NilSlot}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.chunk == memchunk.NilSlot }
