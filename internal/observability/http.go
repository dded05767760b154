// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
)

// startTime records process start, for the health endpoint's uptime.
var startTime = time.Now()

// Version is set via ldflags at build time (-X ...Version=x.y.z).
var Version = "dev"

// HealthResponse is the GET /api/v1/health payload.
type HealthResponse struct {
	Status  string       `json:"status"`
	Uptime  string       `json:"uptime"`
	Version string       `json:"version"`
	Go      string       `json:"go"`
	Runtime RuntimeStats `json:"runtime"`
}

// RuntimeStats are Go-runtime diagnostics, not tracker state — useful
// for telling "the process is slow" apart from "the allocator is
// exhausted."
type RuntimeStats struct {
	GoRoutines  int     `json:"goroutines"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	HeapSysMB   float64 `json:"heap_sys_mb"`
	GCCycles    uint32  `json:"gc_cycles"`
}

// StatsResponse is the GET /api/v1/stats payload: the tracker's own
// counters plus host memory pressure, read without ever touching
// Track's single-writer state directly (§5).
type StatsResponse struct {
	flowtrack.Stats
	ActiveSessions int         `json:"active_sessions"`
	Memory         MemoryStats `json:"memory"`
}

// NewRouter builds the observability HTTP surface: JSON endpoints over
// tracker/event/session-history state, plus a Prometheus exposition
// endpoint over reg. Grounded on the teacher's NewRouter, with the
// embedded SPA dropped (DESIGN.md) and the hand-rolled Prometheus text
// writer replaced by promhttp.HandlerFor now that client_golang is wired
// in directly.
func NewRouter(src StatsSource, reg *prometheus.Registry, mon *MemoryMonitor, events *EventRing, history *SessionHistoryStore) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", handleHealth)
	mux.HandleFunc("GET /api/v1/stats", makeStatsHandler(src, mon))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	if events != nil {
		mux.HandleFunc("GET /api/v1/events", makeEventsHandler(events))
	}
	if history != nil {
		mux.HandleFunc("GET /api/v1/sessions/history", makeSessionHistoryHandler(history))
	}
	mux.HandleFunc("GET /api/v1/sessions/snapshot", makeSnapshotHandler(src))

	return mux
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	resp := HealthResponse{
		Status:  "ok",
		Uptime:  time.Since(startTime).String(),
		Version: Version,
		Go:      runtime.Version(),
		Runtime: RuntimeStats{
			GoRoutines:  runtime.NumGoroutine(),
			HeapAllocMB: float64(mem.HeapAlloc) / (1024 * 1024),
			HeapSysMB:   float64(mem.HeapSys) / (1024 * 1024),
			GCCycles:    mem.NumGC,
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func makeStatsHandler(src StatsSource, mon *MemoryMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats MemoryStats
		if mon != nil {
			memStats = mon.Stats()
		}
		resp := StatsResponse{
			Stats:          src.Snapshot(),
			ActiveSessions: src.ActiveSessions(),
			Memory:         memStats,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func makeEventsHandler(events *EventRing) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 50)
		writeJSON(w, http.StatusOK, events.Recent(limit))
	}
}

func makeSessionHistoryHandler(history *SessionHistoryStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseInt(r.URL.Query().Get("limit"), 100)
		writeJSON(w, http.StatusOK, history.Recent(limit))
	}
}

// makeSnapshotHandler serves a zstd-compressed one-shot dump of the
// current tracker counters (SPEC_FULL.md's domain-stack table: zstd for
// the on-demand snapshot, pgzip for the rolling history export).
func makeSnapshotHandler(src StatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatsResponse{Stats: src.Snapshot(), ActiveSessions: src.ActiveSessions()}
		data, err := json.Marshal(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/zstd")
		w.WriteHeader(http.StatusOK)
		w.Write(CompressSnapshot(data))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return defaultVal
	}
	return v
}
