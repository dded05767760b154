// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package logging wraps log/slog behind a narrow Sink interface so the
// tracking core can log anomaly-rate counters without importing a
// concrete handler, and so high-frequency call sites (a bad checksum
// on every packet of a scan) can be rate limited per call site rather
// than silenced outright or left to flood the log.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/time/rate"
)

// Level mirrors slog's levels so callers never need to import log/slog
// directly.
type Level int

const (
	Debug Level = iota
	Info
	Warn
	Crit
)

func (l Level) slog() slog.Level {
	switch l {
	case Debug:
		return slog.LevelDebug
	case Warn:
		return slog.LevelWarn
	case Crit:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Mode selects whether a call site is rate limited. Named constants
// read better at call sites than a bare bool (§7: "M_LIMIT").
type Mode int

const (
	Unlimited Mode = iota
	RateLimit
)

// Sink is the logging surface the tracking core depends on. Anything
// that can format and optionally rate-limit a message satisfies it;
// tests can pass a recording fake instead of standing up a real
// *slog.Logger.
type Sink interface {
	Logf(level Level, mode Mode, format string, args ...any)
}

// Discard returns a Sink that drops every message, for callers that
// don't want to wire up logging (tests, default-constructed Trackers).
func Discard() Sink { return discardSink{} }

type discardSink struct{}

func (discardSink) Logf(Level, Mode, string, ...any) {}

// perSiteRate and perSiteBurst are the token-bucket settings applied
// to a RateLimit call site: one message per second, burst of 5, matching
// the original's "don't let a single scan drown the log" intent
// without silencing the condition entirely.
const (
	perSiteRate  = 1
	perSiteBurst = 5
)

// SlogSink adapts a *slog.Logger into a Sink, rate limiting any call
// site passed with RateLimit. The limiter is keyed by the call site's
// program counter, so two different Logf call sites never share a
// bucket even if their messages happen to collide.
type SlogSink struct {
	log *slog.Logger

	mu       sync.Mutex
	limiters map[uintptr]*rate.Limiter
}

// NewSlogSink wraps log for use as a Sink.
func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log, limiters: make(map[uintptr]*rate.Limiter)}
}

func (s *SlogSink) Logf(level Level, mode Mode, format string, args ...any) {
	if mode == RateLimit && !s.allow() {
		return
	}
	s.log.Log(context.Background(), level.slog(), fmt.Sprintf(format, args...))
}

// allow reports whether the caller's call site (two frames up: Logf's
// caller) may log right now, consuming a token if so.
func (s *SlogSink) allow() bool {
	var pc [1]uintptr
	// skip runtime.Callers, allow, Logf
	n := runtime.Callers(3, pc[:])
	if n == 0 {
		return true
	}
	site := pc[0]

	s.mu.Lock()
	lim, ok := s.limiters[site]
	if !ok {
		lim = rate.NewLimiter(perSiteRate, perSiteBurst)
		s.limiters[site] = lim
	}
	s.mu.Unlock()

	return lim.Allow()
}
