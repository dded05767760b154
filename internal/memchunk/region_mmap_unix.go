// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

//go:build unix

package memchunk

import "golang.org/x/sys/unix"

// reserve maps an anonymous, private region of the requested size,
// mirroring the original allocator's USE_MMAP path.
func reserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
}

// release unmaps a reservation previously returned by reserve.
func release(data []byte) error {
	return unix.Munmap(data)
}
