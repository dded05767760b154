// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
)

// demoPacket is the minimal flowtrack.Packet a synthetic source needs
// to supply: a capture timestamp against the shared logical clock.
type demoPacket struct{ ts time.Duration }

func (p demoPacket) Timestamp() time.Duration { return p.ts }

// demoOutcome names how a synthetic flow ends, exercising all three of
// Track/Reap's free paths (graceful, reset, timeout).
type demoOutcome int

const (
	outcomeGraceful demoOutcome = iota
	outcomeReset
	outcomeTimeout
)

type demoFlow struct {
	clientAddr, serverAddr uint32
	clientPort, serverPort uint16
	outcome                demoOutcome
}

// demoFlows builds a small, fixed population of synthetic connections
// cycling across the three free paths Track/Reap can take. Real packet
// capture is an external collaborator (SPEC_FULL.md §1's narrow
// Packet/DCB boundary); this is the minimal stand-in that exercises
// Track end to end without one.
func demoFlows(n int) []demoFlow {
	flows := make([]demoFlow, 0, n)
	outcomes := [...]demoOutcome{outcomeGraceful, outcomeGraceful, outcomeReset, outcomeTimeout}
	for i := 0; i < n; i++ {
		flows = append(flows, demoFlow{
			clientAddr: ipv4(10, 0, byte(i>>8), byte(i)),
			serverAddr: ipv4(93, 184, 216, 34),
			clientPort: uint16(40000 + i),
			serverPort: 443,
			outcome:    outcomes[i%len(outcomes)],
		})
	}
	return flows
}

func ipv4(a, b, c, d byte) uint32 {
	return uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d)
}

// demoSource drives demoFlows against a Tracker on a fixed tick,
// standing in for a capture pipeline decoding real frames into
// Packet/DCB values.
type demoSource struct {
	nowFn func() time.Duration
	tick  time.Duration
	flows []demoFlow
}

func newDemoSource(nowFn func() time.Duration) *demoSource {
	return &demoSource{nowFn: nowFn, tick: 500 * time.Millisecond, flows: demoFlows(12)}
}

// run feeds every flow's packet sequence to tr.Track once per tick,
// looping forever until ctx is cancelled. It is the sole caller of
// Track in flowtrackd, honoring the tracker's single-writer contract
// (§5).
func (d *demoSource) run(ctx context.Context, tr *flowtrack.Tracker, logger *slog.Logger) {
	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	idx := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := d.flows[idx%len(d.flows)]
			idx++
			if err := d.driveFlow(tr, f); err != nil {
				logger.Warn("demo source: track failed", "error", err)
			}
		}
	}
}

// driveFlow sends the packet sequence for f's outcome: a SYN handshake
// plus one data segment and a bidirectional FIN teardown for
// outcomeGraceful, a SYN followed by a server RST for outcomeReset,
// and a lone SYN (left for the maintenance scheduler's reap to expire)
// for outcomeTimeout.
func (d *demoSource) driveFlow(tr *flowtrack.Tracker, f demoFlow) error {
	seq := uint32(1000)
	ack := uint32(0)

	track := func(srcAddr, dstAddr uint32, srcPort, dstPort uint16, seq, ack uint32, flags flowtrack.Flags, payload []byte) error {
		pkt, dcb := buildPacket(srcAddr, dstAddr, srcPort, dstPort, seq, ack, flags, 65535, payload, d.nowFn())
		return tr.Track(pkt, dcb)
	}

	if err := track(f.clientAddr, f.serverAddr, f.clientPort, f.serverPort, seq, 0, flowtrack.FlagSYN, nil); err != nil {
		return err
	}
	seq++

	if f.outcome == outcomeTimeout {
		return nil
	}

	// A RST answering the opening SYN (still state S1) refuses the
	// connection outright (state.go's transitionS1); a SYN+ACK would
	// already have advanced past S1, where RST has no such shortcut.
	if f.outcome == outcomeReset {
		return track(f.serverAddr, f.clientAddr, f.serverPort, f.clientPort, 9000, seq, flowtrack.FlagRST|flowtrack.FlagACK, nil)
	}

	if err := track(f.serverAddr, f.clientAddr, f.serverPort, f.clientPort, 9000, seq, flowtrack.FlagSYN|flowtrack.FlagACK, nil); err != nil {
		return err
	}
	ack = 9001

	if err := track(f.clientAddr, f.serverAddr, f.clientPort, f.serverPort, seq, ack, flowtrack.FlagACK, nil); err != nil {
		return err
	}
	if err := track(f.clientAddr, f.serverAddr, f.clientPort, f.serverPort, seq, ack, flowtrack.FlagACK, []byte("hello")); err != nil {
		return err
	}
	seq += 5

	if err := track(f.clientAddr, f.serverAddr, f.clientPort, f.serverPort, seq, ack, flowtrack.FlagFIN|flowtrack.FlagACK, nil); err != nil {
		return err
	}
	seq++
	if err := track(f.serverAddr, f.clientAddr, f.serverPort, f.clientPort, ack, seq, flowtrack.FlagACK, nil); err != nil {
		return err
	}
	if err := track(f.serverAddr, f.clientAddr, f.serverPort, f.clientPort, ack, seq, flowtrack.FlagFIN|flowtrack.FlagACK, nil); err != nil {
		return err
	}
	ack++
	return track(f.clientAddr, f.serverAddr, f.clientPort, f.serverPort, seq, ack, flowtrack.FlagACK, nil)
}

// buildPacket assembles a minimal IPv4/TCP frame as a decoder would
// hand it to Track: a DCB of header views over a single contiguous
// buffer, with a correct TCP/IPv4 pseudo-header checksum so the
// tracker's checksum gate (§4.5) passes.
func buildPacket(srcAddr, dstAddr uint32, srcPort, dstPort uint16, seq, ack uint32, flags flowtrack.Flags, window uint16, payload []byte, ts time.Duration) (demoPacket, flowtrack.DCB) {
	tcp := make([]byte, 20+len(payload))
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], ack)
	tcp[12] = 5 << 4
	tcp[13] = byte(flags)
	binary.BigEndian.PutUint16(tcp[14:16], window)
	copy(tcp[20:], payload)

	ip := make([]byte, 20)
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(len(ip)+len(tcp)))
	ip[8] = 64
	ip[9] = 6
	binary.BigEndian.PutUint32(ip[12:16], srcAddr)
	binary.BigEndian.PutUint32(ip[16:20], dstAddr)

	iph := flowtrack.IPHeader(ip)
	binary.BigEndian.PutUint16(tcp[16:18], demoChecksum(iph, tcp))

	return demoPacket{ts: ts}, flowtrack.DCB{IP: iph, TCP: flowtrack.TCPHeader(tcp)}
}

// demoChecksum computes the standard TCP/IPv4 pseudo-header checksum,
// the encode-side mirror of the tracker's own verification in
// segment.go's tcpChecksum.
func demoChecksum(iph flowtrack.IPHeader, tcpSeg []byte) uint16 {
	var sum uint32
	sa, da := iph.SrcAddr(), iph.DstAddr()
	sum += sa >> 16
	sum += sa & 0xffff
	sum += da >> 16
	sum += da & 0xffff
	sum += uint32(iph.Protocol())
	sum += uint32(len(tcpSeg))
	sum += demoSumWords(tcpSeg)

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

func demoSumWords(b []byte) uint32 {
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
