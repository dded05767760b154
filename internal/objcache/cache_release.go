// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build !debug

package objcache

import (
	"fmt"

	"github.com/scaramanga/flowtrack/internal/memchunk"
)

// checkFree is the release-build counterpart of cache_debug.go's
// checkFree: it keeps the one check cheap enough to pay for
// unconditionally (the chunk must belong to this cache; FreeChecked in
// cache.go restores the full debug check explicitly) and skips the rest,
// matching the original's OBJCACHE_DEBUG_FREE compile-time gate.
func (c *Cache[T]) checkFree(ch memchunk.Chunk, h Handle) error {
	if ch.Owner() != c.id {
		return fmt.Errorf("objcache %q: free of object from chunk owned by cache %d, expected %d", c.label, ch.Owner(), c.id)
	}
	return nil
}
