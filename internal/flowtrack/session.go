// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"time"

	"github.com/scaramanga/flowtrack/internal/objcache"
)

// SessionState is one of the named states a session progresses
// through (§3). Named transition functions in state.go replace the
// original's state++ sub-state arithmetic (§9).
type SessionState int

const (
	S1 SessionState = iota
	S2
	S3
	Established
	CF1
	CF2
	CF3
	SF1
	SF2
	SF3
	Closed
)

func (s SessionState) String() string {
	switch s {
	case S1:
		return "S1"
	case S2:
		return "S2"
	case S3:
		return "S3"
	case Established:
		return "E"
	case CF1:
		return "CF1"
	case CF2:
		return "CF2"
	case CF3:
		return "CF3"
	case SF1:
		return "SF1"
	case SF2:
		return "SF2"
	case SF3:
		return "SF3"
	case Closed:
		return "C"
	default:
		return "?"
	}
}

// DirFlags is the per-direction option bitset (§3): SACK_OK, TSTAMP_OK,
// WSCALE_OK.
type DirFlags uint8

const (
	SACKOK DirFlags = 1 << iota
	TSTAMPOK
	WSCALEOK
)

func (f DirFlags) Has(bit DirFlags) bool { return f&bit != 0 }

// TCPState is the per-direction window-tracking state (§3).
type TCPState struct {
	SndUna, SndNxt uint32
	RcvNxt, RcvWup uint32
	RcvWnd         uint32
	Flags          DirFlags
	Scale          uint8
	TSRecent       uint32
	TSRecentStamp  time.Duration
}

// TimeoutBucket names one of the tracker's coarse timeout queues.
// BucketSYN1 is the only queue (§6 Open Question decision); NoTimeout
// marks a session that is not in any queue.
type TimeoutBucket int

const (
	NoTimeout TimeoutBucket = iota
	BucketSYN1
)

// Session is one tracked TCP conversation (§3). Hash-chain, LRU and
// timeout-queue linkage is carried as objcache.Handle values rather
// than Go pointers: the session arena may be backed by an anonymous
// mapping outside the Go heap (memchunk.Region's mmap path), and a
// *Session stored inside that memory would be invisible to the garbage
// collector. Handles are plain integers, safe to store anywhere, and
// hdr_of-style owner recovery is a field read rather than pointer
// arithmetic (§9).
type Session struct {
	CAddr, SAddr uint32
	CPort, SPort uint16

	State SessionState

	// FirstClientData records which side's data was seen first on
	// entry to Established, per the E1 scenario's "direction=client-
	// first" note.
	FirstClientData bool
	sawFirstData    bool

	CWnd TCPState

	// SWnd is absent until the server's SYN+ACK is seen (§3: "the
	// server window state is allocated lazily"). Rather than a
	// separate objcache allocation (and a second handle to manage
	// safely), the zero value is embedded directly and SWndValid
	// carries the optionality (§9: "s_wnd ... is naturally an
	// optional value").
	SWnd      TCPState
	SWndValid bool

	hashNext, hashPrev objcache.Handle
	lruNext, lruPrev   objcache.Handle

	timeoutBucket            TimeoutBucket
	timeoutNext, timeoutPrev objcache.Handle
	ExpireAt                 time.Duration

	self objcache.Handle
}

// Closer reports which side sent the first FIN, valid once the session
// has entered a CF or SF state.
func (s *Session) Closer() (clientCloser bool) {
	switch s.State {
	case CF1, CF2, CF3:
		return true
	default:
		return false
	}
}

// direction selects the sender's and the peer's window state for a
// packet traveling in the given direction (§4.6: "snd is the sender's
// window state, rcv the peer's").
func (s *Session) direction(toServer bool) (snd, rcv *TCPState) {
	if toServer {
		return &s.CWnd, &s.SWnd
	}
	return &s.SWnd, &s.CWnd
}

// fourTupleMatch reports whether (srcAddr,srcPort,dstAddr,dstPort)
// belongs to this session, and if so whether the packet travels toward
// the server (§4.4).
func (s *Session) fourTupleMatch(srcAddr uint32, srcPort uint16, dstAddr uint32, dstPort uint16) (match, toServer bool) {
	if s.CAddr == srcAddr && s.CPort == srcPort && s.SAddr == dstAddr && s.SPort == dstPort {
		return true, true
	}
	if s.CAddr == dstAddr && s.CPort == dstPort && s.SAddr == srcAddr && s.SPort == srcPort {
		return true, false
	}
	return false, false
}
