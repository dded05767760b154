// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package maintenance drives the tracker's externally-triggered upkeep:
// reaping timed-out sessions on a cron schedule. It never touches the
// tracker from more than one goroutine at a time (see flowtrack's
// single-caller contract) and never runs concurrently with Track itself
// by construction — the cron goroutine and the packet-processing
// goroutine are distinct, coordinated by the caller, not by a lock here.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ReapResult records the outcome of one maintenance tick.
type ReapResult struct {
	Status    string // completed | skipped
	Freed     int
	Duration  time.Duration
	Timestamp time.Time
}

// Scheduler runs a single cron-driven reap job against a tracker,
// grounded on the teacher's per-backup-entry Scheduler but reduced to
// one job: the tracker has one maintenance concern (reaping), not N
// independent backup entries.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	reap  func(now time.Duration) int
	nowFn func() time.Duration

	onTick func(ReapResult)

	mu         sync.Mutex
	running    bool
	lastResult *ReapResult
}

// NewScheduler builds a scheduler firing reap on schedule (a standard
// cron expression, e.g. "@every 10s"). nowFn supplies the logical
// packet-stream clock Reap expects (§5); onTick, if non-nil, is called
// after every tick with the result, letting the caller log an
// operational event or trigger an export without maintenance importing
// the observability package.
func NewScheduler(schedule string, logger *slog.Logger, reap func(now time.Duration) int, nowFn func() time.Duration, onTick func(ReapResult)) (*Scheduler, error) {
	s := &Scheduler{
		logger: logger,
		reap:   reap,
		nowFn:  nowFn,
		onTick: onTick,
	}

	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	if _, err := c.AddFunc(schedule, s.executeTick); err != nil {
		return nil, fmt.Errorf("maintenance: adding reap schedule %q: %w", schedule, err)
	}
	s.cron = c
	return s, nil
}

// Start begins firing the reap schedule.
func (s *Scheduler) Start() {
	s.logger.Info("maintenance scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits (up to ctx's deadline) for any
// in-flight tick to finish.
func (s *Scheduler) Stop(ctx context.Context) {
	s.logger.Info("maintenance scheduler stopping")
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("maintenance scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("maintenance scheduler stop timed out")
	}
}

// LastResult returns the outcome of the most recent tick, or nil before
// the first one fires.
func (s *Scheduler) LastResult() *ReapResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scheduler) executeTick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("reap already running, skipping scheduled tick")
		result := ReapResult{Status: "skipped", Timestamp: time.Now()}
		s.mu.Lock()
		s.lastResult = &result
		s.mu.Unlock()
		if s.onTick != nil {
			s.onTick(result)
		}
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	freed := s.reap(s.nowFn())
	duration := time.Since(start)

	result := ReapResult{
		Status:    "completed",
		Freed:     freed,
		Duration:  duration,
		Timestamp: time.Now(),
	}
	s.mu.Lock()
	s.lastResult = &result
	s.mu.Unlock()

	s.logger.Debug("reap tick completed", "freed", freed, "duration", duration)
	if s.onTick != nil {
		s.onTick(result)
	}
}
