// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package flowtrack reconstructs per-connection TCP state from a stream
// of captured IPv4/TCP packets: a hashed session table with move-to-front
// collision chains, wrap-safe sequence tracking and an RFC-793-flavored
// state machine. It consumes packets and decode control blocks from an
// external decoder and never touches the network or the filesystem
// itself.
package flowtrack

import (
	"encoding/binary"
	"time"
)

// Packet is the only thing the tracker needs from a captured frame: its
// capture timestamp. Everything else about how a packet was captured or
// decoded is opaque to this package.
type Packet interface {
	Timestamp() time.Duration
}

// IPHeader is a big-endian IPv4 header view over a decoder-owned byte
// slice. Accessors read network byte order directly; there is no
// intermediate struct to keep in sync with the wire.
type IPHeader []byte

func (h IPHeader) IHL() int         { return int(h[0]&0x0f) * 4 }
func (h IPHeader) TotalLen() int    { return int(binary.BigEndian.Uint16(h[2:4])) }
func (h IPHeader) TTL() uint8       { return h[8] }
func (h IPHeader) Protocol() uint8  { return h[9] }
func (h IPHeader) SrcAddr() uint32  { return binary.BigEndian.Uint32(h[12:16]) }
func (h IPHeader) DstAddr() uint32  { return binary.BigEndian.Uint32(h[16:20]) }

// TCPHeader is a big-endian TCP header view over a decoder-owned byte
// slice, including any options that follow the fixed 20-byte header.
type TCPHeader []byte

func (h TCPHeader) SrcPort() uint16    { return binary.BigEndian.Uint16(h[0:2]) }
func (h TCPHeader) DstPort() uint16    { return binary.BigEndian.Uint16(h[2:4]) }
func (h TCPHeader) Seq() uint32        { return binary.BigEndian.Uint32(h[4:8]) }
func (h TCPHeader) Ack() uint32        { return binary.BigEndian.Uint32(h[8:12]) }
func (h TCPHeader) DataOffset() int    { return int(h[12]>>4) * 4 }
func (h TCPHeader) Flags() Flags       { return Flags(h[13]) }
func (h TCPHeader) Window() uint16     { return binary.BigEndian.Uint16(h[14:16]) }
func (h TCPHeader) Checksum() uint16   { return binary.BigEndian.Uint16(h[16:18]) }
func (h TCPHeader) Options() []byte    { return h[20:h.DataOffset()] }

// Segment returns the TCP header plus payloadLen bytes of payload, the
// span the pseudo-header checksum is computed over.
func (h TCPHeader) Segment(payloadLen int) []byte {
	end := h.DataOffset() + payloadLen
	return h[:end]
}

// Payload returns payloadLen bytes following the TCP header.
func (h TCPHeader) Payload(payloadLen int) []byte {
	off := h.DataOffset()
	return h[off : off+payloadLen]
}

// DCB is the decode control block: decoder-produced, already-validated
// pointers into the packet buffer. The core trusts IHL/DataOffset have
// been bounds-checked by the decoder; it does not re-validate framing.
type DCB struct {
	IP  IPHeader
	TCP TCPHeader
}

// Flags is the TCP control-bit octet.
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

// evasionMask is the flag subset the state machine keys transitions on
// (§4.6): SYN, ACK, FIN, RST.
const evasionMask = FlagSYN | FlagACK | FlagFIN | FlagRST

// Has reports whether every bit in mask is set in f.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Masked returns f restricted to the SYN/ACK/FIN/RST subset the state
// machine reasons about.
func (f Flags) Masked() Flags { return f & evasionMask }

func (f Flags) String() string {
	var b []byte
	add := func(set bool, c byte) {
		if set {
			b = append(b, c)
		}
	}
	add(f.Has(FlagSYN), 'S')
	add(f.Has(FlagACK), 'A')
	add(f.Has(FlagFIN), 'F')
	add(f.Has(FlagRST), 'R')
	add(f.Has(FlagPSH), 'P')
	add(f.Has(FlagURG), 'U')
	if len(b) == 0 {
		return "."
	}
	return string(b)
}
