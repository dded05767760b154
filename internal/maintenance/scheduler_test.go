// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package maintenance

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsReapOnTick(t *testing.T) {
	var calls int64
	reap := func(now time.Duration) int {
		atomic.AddInt64(&calls, 1)
		return 3
	}

	var ticks int64
	s, err := NewScheduler("@every 30ms", testLogger(), reap, func() time.Duration { return 0 }, func(r ReapResult) {
		atomic.AddInt64(&ticks, 1)
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&ticks) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if atomic.LoadInt64(&calls) == 0 {
		t.Fatal("expected reap to have run at least once")
	}
	result := s.LastResult()
	if result == nil || result.Status != "completed" || result.Freed != 3 {
		t.Fatalf("unexpected last result: %+v", result)
	}
}

func TestSchedulerSkipsOverlappingTick(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	reap := func(now time.Duration) int {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return 0
	}

	var skipped int64
	s, err := NewScheduler("@every 20ms", testLogger(), reap, func() time.Duration { return 0 }, func(r ReapResult) {
		if r.Status == "skipped" {
			atomic.AddInt64(&skipped, 1)
		}
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("reap never started")
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(&skipped) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	s.Stop(context.Background())

	if atomic.LoadInt64(&skipped) == 0 {
		t.Fatal("expected at least one overlapping tick to be skipped")
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	_, err := NewScheduler("not a cron expression", testLogger(), func(time.Duration) int { return 0 }, func() time.Duration { return 0 }, nil)
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}
