// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"encoding/binary"
	"time"
)

// TCP option kinds (RFC 793, RFC 1323).
const (
	optEOL           = 0
	optNOP           = 1
	optMSS           = 2
	optWScale        = 3
	optSACKPermitted = 4
	optSACK          = 5
	optTimestamp     = 8
)

// maxWScale is RFC 1323's ceiling on the window scale shift count.
const maxWScale = 14

// Segment is the per-packet descriptor C5 builds: header fields already
// byte-swapped to host order, the payload span, and the options the
// state machine and window tracker need.
type Segment struct {
	IPH  IPHeader
	TCPH TCPHeader

	TS time.Duration

	Seq    uint32
	Ack    uint32
	SeqEnd uint32
	Win    uint32
	Len    int

	// Hash is the symmetric tuple hash (§4.4); reducing it modulo the
	// session table's bucket count is the table's job, not the
	// segment parser's.
	Hash uint32

	Payload []byte

	TSVal        uint32
	SawTimestamp bool

	// OptsMalformed records a too-short option length field seen
	// while scanning; the scan itself always completes (§4.5, §7).
	OptsMalformed bool
}

// BuildSegment parses pkt/dcb into a Segment. It does not validate TTL
// or checksum; callers run those gates separately (§4.7 step 2) so a
// dropped packet is counted before a segment is even built for it, or
// after, as the caller prefers.
func BuildSegment(pkt Packet, dcb DCB) Segment {
	iph, tcph := dcb.IP, dcb.TCP
	length := iph.TotalLen() - iph.IHL() - tcph.DataOffset()
	if length < 0 {
		length = 0
	}
	seq := tcph.Seq()

	seg := Segment{
		IPH:    iph,
		TCPH:   tcph,
		TS:     pkt.Timestamp(),
		Seq:    seq,
		Ack:    tcph.Ack(),
		SeqEnd: seq + uint32(length),
		Win:    uint32(tcph.Window()),
		Len:    length,
		Hash:   tupleHash(iph.SrcAddr(), tcph.SrcPort(), iph.DstAddr(), tcph.DstPort()),
	}
	if length > 0 {
		seg.Payload = tcph.Payload(length)
	}

	tsval, saw, malformed := parseOptionsFast(tcph.Options())
	seg.TSVal, seg.SawTimestamp, seg.OptsMalformed = tsval, saw, malformed
	return seg
}

// tupleHash computes the symmetric 4-tuple hash (§4.4, §8 invariant 5):
// XOR is commutative, so swapping (addrA,portA) with (addrB,portB)
// yields the same value without any special-casing of direction.
func tupleHash(addrA uint32, portA uint16, addrB uint32, portB uint16) uint32 {
	h := (addrA ^ uint32(portA)) ^ (addrB ^ uint32(portB))
	h ^= h >> 16
	h ^= h >> 8
	return h
}

// tcpChecksum verifies the TCP/IPv4 pseudo-header checksum (§4.5):
// pseudo-header + TCP header + payload, ones-complement folded, valid
// when the complement of the folded sum equals zero.
func tcpChecksum(iph IPHeader, tcpSeg []byte) bool {
	var sum uint32
	sa, da := iph.SrcAddr(), iph.DstAddr()
	sum += sa >> 16
	sum += sa & 0xffff
	sum += da >> 16
	sum += da & 0xffff
	sum += uint32(iph.Protocol())
	sum += uint32(len(tcpSeg))
	sum += sumWords(tcpSeg)

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(^sum) == 0
}

func sumWords(b []byte) uint32 {
	var sum uint32
	n := len(b)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if i < n {
		sum += uint32(b[i]) << 8
	}
	return sum
}

// before, after and between implement wrap-safe sequence comparison
// over 32-bit modular arithmetic (§4.5, §8 invariant 6).
func before(a, b uint32) bool { return int32(a-b) < 0 }
func after(a, b uint32) bool  { return before(b, a) }
func between(s1, s2, s3 uint32) bool { return s3-s2 >= s1-s2 }

// receiveWindow computes max(0, rcv_wup + rcv_wnd - rcv_nxt) (§4.5).
func receiveWindow(rcvWup, rcvWnd, rcvNxt uint32) uint32 {
	w := int64(rcvWup) + int64(rcvWnd) - int64(rcvNxt)
	if w < 0 {
		return 0
	}
	return uint32(w)
}

// inWindow reports whether a segment [seq, seqEnd) is acceptable given
// the receiver's current window (§4.5): !before(seq_end, rcv_wup) &&
// !after(seq, rcv_nxt + window).
func inWindow(seq, seqEnd, rcvWup, rcvNxt, window uint32) bool {
	return !before(seqEnd, rcvWup) && !after(seq, rcvNxt+window)
}

// parseOptionsFast is the every-packet options scan (§4.5): it looks
// only for a timestamp option. A malformed length field (< 2) is
// reported and the scan advances as though length were 2, so it always
// terminates. Per the documented Open Question decision, the scan
// stops at the first EOL rather than continuing past it.
func parseOptionsFast(opts []byte) (tsval uint32, saw bool, malformed bool) {
	i := 0
	for i < len(opts) {
		switch opts[i] {
		case optEOL:
			return tsval, saw, malformed
		case optNOP:
			i++
		case optTimestamp:
			if i+10 > len(opts) {
				return tsval, saw, malformed
			}
			tsval = binary.BigEndian.Uint32(opts[i+2 : i+6])
			saw = true
			i += 10
		default:
			if i+1 >= len(opts) {
				return tsval, saw, malformed
			}
			length := int(opts[i+1])
			if length < 2 {
				malformed = true
				length = 2
			}
			i += length
		}
	}
	return tsval, saw, malformed
}

// SynOptions holds the subset of SYN-time options the state machine
// needs to initialize a new direction's window state (§4.6).
type SynOptions struct {
	SACKOK    bool
	TSOK      bool
	TSVal     uint32
	WScaleOK  bool
	WScale    uint8
	Malformed bool
}

// parseOptionsSyn is the SYN-only options scan (§4.5): records
// SACK_PERMITTED presence, TIMESTAMP value, and WSCALE clamped to 14
// per RFC 1323. Like parseOptionsFast it stops at the first EOL and
// clamps malformed lengths to guarantee forward progress.
func parseOptionsSyn(opts []byte) SynOptions {
	var so SynOptions
	i := 0
	for i < len(opts) {
		switch opts[i] {
		case optEOL:
			return so
		case optNOP:
			i++
		case optSACKPermitted:
			so.SACKOK = true
			i += 2
		case optWScale:
			if i+3 > len(opts) {
				return so
			}
			scale := opts[i+2]
			if scale > maxWScale {
				scale = maxWScale
			}
			so.WScaleOK = true
			so.WScale = scale
			i += 3
		case optTimestamp:
			if i+10 > len(opts) {
				return so
			}
			so.TSOK = true
			so.TSVal = binary.BigEndian.Uint32(opts[i+2 : i+6])
			i += 10
		default:
			if i+1 >= len(opts) {
				return so
			}
			length := int(opts[i+1])
			if length < 2 {
				so.Malformed = true
				length = 2
			}
			i += length
		}
	}
	return so
}
