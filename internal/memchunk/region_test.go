// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package memchunk

import "testing"

func TestNewRegionRejectsZero(t *testing.T) {
	if _, err := NewRegion(0); err == nil {
		t.Fatal("expected error for numchunks == 0")
	}
	if _, err := NewRegion(-1); err == nil {
		t.Fatal("expected error for negative numchunks")
	}
}

func TestRegionGlobalPoolStartsFull(t *testing.T) {
	r, err := NewRegion(8)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	if got := r.GlobalPool().Numfree(); got != 8 {
		t.Fatalf("GlobalPool().Numfree() = %d, want 8", got)
	}
}

func TestRegionAcquireReleaseRoundTrip(t *testing.T) {
	r, err := NewRegion(4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	gp := r.GlobalPool()
	c, err := gp.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if got := gp.Numfree(); got != 3 {
		t.Fatalf("Numfree after acquire = %d, want 3", got)
	}

	gp.Release(c)
	if got := gp.Numfree(); got != 4 {
		t.Fatalf("Numfree after release = %d, want 4", got)
	}
}

func TestRegionAcquireExhaustion(t *testing.T) {
	r, err := NewRegion(2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	gp := r.GlobalPool()
	if _, err := gp.Acquire(); err != nil {
		t.Fatal(err)
	}
	if _, err := gp.Acquire(); err != nil {
		t.Fatal(err)
	}
	if _, err := gp.Acquire(); err != ErrExhausted {
		t.Fatalf("Acquire on exhausted pool = %v, want ErrExhausted", err)
	}
}

func TestRegionCloseRejectsBusy(t *testing.T) {
	r, err := NewRegion(2)
	if err != nil {
		t.Fatal(err)
	}
	gp := r.GlobalPool()
	if _, err := gp.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != ErrBusy {
		t.Fatalf("Close with chunk checked out = %v, want ErrBusy", err)
	}
}

func TestChunkAtIsO1Handle(t *testing.T) {
	r, err := NewRegion(4)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	c := r.ChunkAt(2)
	c.SetOwner(42)
	if got := r.ChunkAt(2).Owner(); got != 42 {
		t.Fatalf("Owner() = %d, want 42", got)
	}
}
