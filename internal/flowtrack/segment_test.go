// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import "testing"

// TestTupleHashSymmetric exercises §8 invariant 5: the tuple hash must
// be direction-independent, since a response packet swaps src/dst but
// must land in the same bucket as the request that opened it.
func TestTupleHashSymmetric(t *testing.T) {
	a := tupleHash(0x0a000001, 40000, 0x0a000002, 80)
	b := tupleHash(0x0a000002, 80, 0x0a000001, 40000)
	if a != b {
		t.Fatalf("tupleHash not symmetric: %#x != %#x", a, b)
	}
}

func TestSequenceWrapArithmetic(t *testing.T) {
	const maxU32 = ^uint32(0)
	if !before(maxU32, 0) {
		t.Error("expected maxU32 before 0 (wraparound)")
	}
	if !after(0, maxU32) {
		t.Error("expected 0 after maxU32 (wraparound)")
	}
	if before(100, 50) {
		t.Error("100 should not be before 50")
	}
	if !before(50, 100) {
		t.Error("50 should be before 100")
	}
}

func TestReceiveWindowNeverNegative(t *testing.T) {
	if got := receiveWindow(100, 10, 200); got != 0 {
		t.Errorf("expected clamped 0, got %d", got)
	}
	if got := receiveWindow(100, 1000, 200); got != 900 {
		t.Errorf("expected 900, got %d", got)
	}
}

func TestParseOptionsFastStopsAtEOL(t *testing.T) {
	opts := []byte{optTimestamp, 10, 0, 0, 0, 42, 0, 0, 0, 7, optEOL, optTimestamp, 10}
	tsval, saw, malformed := parseOptionsFast(opts)
	if !saw || tsval != 42 {
		t.Fatalf("expected tsval=42 saw=true, got tsval=%d saw=%v", tsval, saw)
	}
	if malformed {
		t.Error("well-formed options should not be flagged malformed")
	}
}

func TestParseOptionsFastClampsShortLength(t *testing.T) {
	// A bogus option kind with length byte < 2 must not stall the scan.
	opts := []byte{0x22, 0, optNOP, optEOL}
	_, _, malformed := parseOptionsFast(opts)
	if !malformed {
		t.Error("expected malformed=true for a too-short option length")
	}
}

func TestParseOptionsSynClampsWScale(t *testing.T) {
	opts := []byte{optWScale, 3, 250, optEOL}
	so := parseOptionsSyn(opts)
	if !so.WScaleOK || so.WScale != maxWScale {
		t.Fatalf("expected WScale clamped to %d, got %d (ok=%v)", maxWScale, so.WScale, so.WScaleOK)
	}
}

func TestParseOptionsSynSackPermittedAndTimestamp(t *testing.T) {
	opts := []byte{
		optSACKPermitted, 2,
		optTimestamp, 10, 0, 0, 0, 99, 0, 0, 0, 0,
		optEOL,
	}
	so := parseOptionsSyn(opts)
	if !so.SACKOK {
		t.Error("expected SACKOK true")
	}
	if !so.TSOK || so.TSVal != 99 {
		t.Errorf("expected TSOK true TSVal=99, got TSOK=%v TSVal=%d", so.TSOK, so.TSVal)
	}
}
