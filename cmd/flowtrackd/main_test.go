// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"testing"
	"time"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
	"github.com/scaramanga/flowtrack/internal/logging"
	"github.com/scaramanga/flowtrack/internal/memchunk"
)

func TestBuildPacketPassesChecksumGate(t *testing.T) {
	region, err := memchunk.NewRegion(16)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	defer region.Close()

	cfg := flowtrack.DefaultConfig()
	cfg.HashBuckets = 16
	cfg.SessionPoolChunks = 8
	tr, err := flowtrack.NewTracker(region, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	pkt, dcb := buildPacket(ipv4(10, 0, 0, 1), ipv4(10, 0, 0, 2), 40000, 443, 1000, 0, flowtrack.FlagSYN, 65535, nil, 0)
	if err := tr.Track(pkt, dcb); err != nil {
		t.Fatalf("Track: %v", err)
	}
	if tr.ActiveSessions() != 1 {
		t.Fatalf("expected a session to open on a checksum-valid SYN, got %d active", tr.ActiveSessions())
	}
}

func TestDemoFlowsCoverAllOutcomes(t *testing.T) {
	flows := demoFlows(12)
	var graceful, reset, timeout int
	for _, f := range flows {
		switch f.outcome {
		case outcomeGraceful:
			graceful++
		case outcomeReset:
			reset++
		case outcomeTimeout:
			timeout++
		}
	}
	if graceful == 0 || reset == 0 || timeout == 0 {
		t.Fatalf("expected all three outcomes represented, got graceful=%d reset=%d timeout=%d", graceful, reset, timeout)
	}
}

func TestDriveFlowGracefulClosesSession(t *testing.T) {
	tr := newDemoTracker(t)
	f := demoFlow{
		clientAddr: ipv4(10, 0, 0, 5),
		serverAddr: ipv4(93, 184, 216, 34),
		clientPort: 40005,
		serverPort: 443,
		outcome:    outcomeGraceful,
	}
	src := newDemoSource(func() time.Duration { return 0 })
	if err := src.driveFlow(tr, f); err != nil {
		t.Fatalf("driveFlow: %v", err)
	}
	if tr.ActiveSessions() != 0 {
		t.Fatalf("expected graceful close to free the session, got %d active", tr.ActiveSessions())
	}
	if tr.Snapshot().Freed != 1 {
		t.Fatalf("expected exactly one freed session, got %+v", tr.Snapshot())
	}
}

func TestDriveFlowResetClosesSession(t *testing.T) {
	tr := newDemoTracker(t)
	f := demoFlow{
		clientAddr: ipv4(10, 0, 0, 6),
		serverAddr: ipv4(93, 184, 216, 34),
		clientPort: 40006,
		serverPort: 443,
		outcome:    outcomeReset,
	}
	src := newDemoSource(func() time.Duration { return 0 })
	if err := src.driveFlow(tr, f); err != nil {
		t.Fatalf("driveFlow: %v", err)
	}
	if tr.ActiveSessions() != 0 {
		t.Fatalf("expected reset to free the session, got %d active", tr.ActiveSessions())
	}
}

func TestDriveFlowTimeoutLeavesSessionOpenUntilReap(t *testing.T) {
	tr := newDemoTracker(t)
	f := demoFlow{
		clientAddr: ipv4(10, 0, 0, 7),
		serverAddr: ipv4(93, 184, 216, 34),
		clientPort: 40007,
		serverPort: 443,
		outcome:    outcomeTimeout,
	}
	src := newDemoSource(func() time.Duration { return 0 })
	if err := src.driveFlow(tr, f); err != nil {
		t.Fatalf("driveFlow: %v", err)
	}
	if tr.ActiveSessions() != 1 {
		t.Fatalf("expected the timeout flow to leave its session open, got %d active", tr.ActiveSessions())
	}
	if freed := tr.Reap(200 * time.Second); freed != 1 {
		t.Fatalf("expected reap to free the stalled session, got %d", freed)
	}
}

func newDemoTracker(t *testing.T) *flowtrack.Tracker {
	t.Helper()
	region, err := memchunk.NewRegion(16)
	if err != nil {
		t.Fatalf("NewRegion: %v", err)
	}
	cfg := flowtrack.DefaultConfig()
	cfg.HashBuckets = 16
	cfg.SessionPoolChunks = 8
	cfg.Timeouts[flowtrack.BucketSYN1] = 1 * time.Second
	tr, err := flowtrack.NewTracker(region, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	t.Cleanup(func() { region.Close() })
	return tr
}
