// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package flowtrack

import (
	"encoding/binary"
	"time"
)

const protoTCP = 6

// fixedPacket is a minimal Packet implementation for tests: a single
// logical timestamp, nothing else.
type fixedPacket struct{ ts time.Duration }

func (p fixedPacket) Timestamp() time.Duration { return p.ts }

func ipv4(a, b, c, d byte) uint32 {
	return binary.BigEndian.Uint32([]byte{a, b, c, d})
}

// synOptions builds a TCP options block (WSCALE + SACK_PERMITTED +
// TIMESTAMP, NOP-padded to a 4-byte boundary), the option set a real
// stack sends on its opening SYN.
func synOptions(tsval uint32) []byte {
	opts := []byte{
		optWScale, 3, 7,
		optSACKPermitted, 2,
		optTimestamp, 10, 0, 0, 0, 0, 0, 0, 0, 0,
		optNOP,
	}
	binary.BigEndian.PutUint32(opts[7:11], tsval)
	return opts
}

func buildIPHeader(totalLen int, ttl uint8, src, dst uint32) IPHeader {
	b := make([]byte, 20)
	b[0] = 0x45
	binary.BigEndian.PutUint16(b[2:4], uint16(totalLen))
	b[8] = ttl
	b[9] = protoTCP
	binary.BigEndian.PutUint32(b[12:16], src)
	binary.BigEndian.PutUint32(b[16:20], dst)
	return IPHeader(b)
}

func buildTCPHeader(srcPort, dstPort uint16, seq, ack uint32, flags Flags, win uint16, opts, payload []byte) TCPHeader {
	dataOff := 20 + len(opts)
	b := make([]byte, dataOff+len(payload))
	binary.BigEndian.PutUint16(b[0:2], srcPort)
	binary.BigEndian.PutUint16(b[2:4], dstPort)
	binary.BigEndian.PutUint32(b[4:8], seq)
	binary.BigEndian.PutUint32(b[8:12], ack)
	b[12] = byte((dataOff / 4) << 4)
	b[13] = byte(flags)
	binary.BigEndian.PutUint16(b[14:16], win)
	copy(b[20:dataOff], opts)
	copy(b[dataOff:], payload)
	return TCPHeader(b)
}

// fillChecksum computes and writes the TCP/IPv4 pseudo-header checksum
// into tcpSeg in place, using the same fold tcpChecksum verifies
// against, so a freshly built segment always passes the checksum gate.
func fillChecksum(iph IPHeader, tcpSeg []byte) {
	tcpSeg[16], tcpSeg[17] = 0, 0
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
	binary.BigEndian.PutUint16(tcpSeg[16:18], ^uint16(sum))
}

// pkt builds a fully-formed, checksum-valid DCB plus its Packet
// wrapper for one TCP segment.
func pkt(t time.Duration, srcIP, dstIP uint32, srcPort, dstPort uint16, seq, ack uint32, flags Flags, win uint16, opts, payload []byte) (Packet, DCB) {
	tcph := buildTCPHeader(srcPort, dstPort, seq, ack, flags, win, opts, payload)
	iph := buildIPHeader(20+len(tcph), 64, srcIP, dstIP)
	fillChecksum(iph, tcph)
	return fixedPacket{ts: t}, DCB{IP: iph, TCP: tcph}
}
