// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command flowtrackd wires the chunk-backed allocator, the TCP flow
// tracker, and the observability/maintenance surfaces into a runnable
// sensor core. Packet capture is an external collaborator (only
// Packet/DCB cross the boundary); this binary drives the tracker with
// a synthetic demo source in its place.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/scaramanga/flowtrack/internal/config"
	"github.com/scaramanga/flowtrack/internal/flowtrack"
	"github.com/scaramanga/flowtrack/internal/logging"
	"github.com/scaramanga/flowtrack/internal/maintenance"
	"github.com/scaramanga/flowtrack/internal/memchunk"
	"github.com/scaramanga/flowtrack/internal/observability"
)

func main() {
	configPath := flag.String("config", "/etc/flowtrackd/config.yaml", "path to flowtrackd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("flowtrackd exited with error", "error", err)
		os.Exit(1)
	}
}

// processStart anchors the logical clock every component shares:
// Track's segment timestamps, Reap's expiry comparisons, and the
// maintenance scheduler's nowFn all measure time.Since(processStart)
// rather than wall-clock time, per §5's logical-time requirement.
var processStart = time.Now()

func logicalNow() time.Duration { return time.Since(processStart) }

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	numchunks := int(cfg.Memory.RegionSizeRaw / memchunk.ChunkSize)
	if numchunks < 1 {
		numchunks = 1
	}
	region, err := memchunk.NewRegion(numchunks)
	if err != nil {
		return fmt.Errorf("allocating region: %w", err)
	}

	poolChunks := int(cfg.Tracker.SessionPoolRaw / memchunk.ChunkSize)
	if poolChunks < 1 {
		poolChunks = 1
	}
	trackerCfg := flowtrack.Config{
		HashBuckets:       cfg.Tracker.HashBuckets,
		SessionPoolChunks: poolChunks,
		MinTTL:            cfg.Tracker.MinTTL,
		Poison:            cfg.Memory.Poison,
		Timeouts: map[flowtrack.TimeoutBucket]time.Duration{
			flowtrack.BucketSYN1: cfg.Tracker.SYN1Timeout,
		},
	}

	sink := logging.NewSlogSink(logger)
	tr, err := flowtrack.NewTracker(region, trackerCfg, sink)
	if err != nil {
		return fmt.Errorf("constructing tracker: %w", err)
	}
	defer tr.Close()

	events := observability.NewEventRing(0)

	historyPath := filepath.Join(snapshotDir(cfg), "session-history.jsonl.gz")
	history, err := observability.NewSessionHistoryStore(historyPath, cfg.Observability.SessionHistory, 100_000)
	if err != nil {
		logger.Error("creating session history store", "error", err, "path", historyPath)
		history, err = observability.NewSessionHistoryStore(filepath.Join(os.TempDir(), "flowtrackd-session-history.jsonl.gz"), cfg.Observability.SessionHistory, 100_000)
		if err != nil {
			return fmt.Errorf("creating fallback session history store: %w", err)
		}
	}
	defer history.Close()
	tr.SetHistorySink(history.HistorySink())

	mon := observability.NewMemoryMonitor(sink, cfg.Observability.MemoryPollInterval)
	mon.Start()
	defer mon.Stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(observability.NewMetrics(tr))

	if cfg.Observability.Listen != "" {
		router := observability.NewRouter(tr, reg, mon, events, history)
		httpSrv := &http.Server{Addr: cfg.Observability.Listen, Handler: router}
		go func() {
			logger.Info("observability server listening", "address", cfg.Observability.Listen)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("observability server error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpSrv.Shutdown(shutdownCtx)
		}()
	}

	sched, err := maintenance.NewScheduler(cfg.Maintenance.ReapSchedule, logger, tr.Reap, logicalNow, func(r maintenance.ReapResult) {
		if r.Status == "completed" && r.Freed > 0 {
			events.PushEvent("info", "reap", fmt.Sprintf("freed %d timed-out sessions in %s", r.Freed, r.Duration))
		}
	})
	if err != nil {
		return fmt.Errorf("building maintenance scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop(ctx)

	exportCron := cron.New()
	if _, err := exportCron.AddFunc(cfg.Maintenance.ExportSchedule, func() {
		exportSnapshot(tr, cfg, logger)
	}); err != nil {
		return fmt.Errorf("scheduling snapshot export: %w", err)
	}
	exportCron.Start()
	defer exportCron.Stop()

	src := newDemoSource(logicalNow)
	go src.run(ctx, tr, logger)

	logger.Info("flowtrackd running")
	<-ctx.Done()
	logger.Info("flowtrackd stopped")
	return nil
}

func snapshotDir(cfg *config.Config) string {
	if cfg.Observability.SnapshotDir != "" {
		return cfg.Observability.SnapshotDir
	}
	return os.TempDir()
}

// exportSnapshot writes a zstd-compressed point-in-time dump of the
// tracker's counters to snapshotDir on the maintenance schedule's
// export tick, independent of the rolling pgzip session-history
// export (DESIGN.md's domain-stack split between the two compression
// modes).
func exportSnapshot(tr *flowtrack.Tracker, cfg *config.Config, logger *slog.Logger) {
	stats := tr.Snapshot()
	data := fmt.Sprintf(`{"segments":%d,"created":%d,"freed":%d,"active":%d}`,
		stats.Segments, stats.Created, stats.Freed, tr.ActiveSessions())

	path := filepath.Join(snapshotDir(cfg), "snapshot.zst")
	if err := os.WriteFile(path, observability.CompressSnapshot([]byte(data)), 0644); err != nil {
		logger.Warn("snapshot export failed", "error", err, "path", path)
	}
}
