// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/scaramanga/flowtrack/internal/logging"
)

// MemoryStats is a point-in-time host memory reading, reported as an
// advisory signal alongside chunk-region utilization — it never
// feeds back into allocator behavior (SPEC_FULL.md's domain-stack
// table).
type MemoryStats struct {
	UsedPercent float64
	Total       uint64
	Available   uint64
}

// MemoryMonitor periodically samples host memory pressure. Narrowed to
// the one gopsutil subpackage this component needs, unlike the
// teacher's SystemMonitor, which also samples CPU, disk, and load —
// none of which bear on a packet-classification allocator's health.
type MemoryMonitor struct {
	sink     logging.Sink
	interval time.Duration

	close chan struct{}
	wg    sync.WaitGroup

	mu    sync.RWMutex
	stats MemoryStats
}

// NewMemoryMonitor builds a monitor sampling every interval (config's
// observability.memory_poll_interval). A non-positive interval defaults
// to 5 seconds.
func NewMemoryMonitor(sink logging.Sink, interval time.Duration) *MemoryMonitor {
	if sink == nil {
		sink = logging.Discard()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MemoryMonitor{sink: sink, interval: interval, close: make(chan struct{})}
}

// Start begins periodic sampling in its own goroutine.
func (m *MemoryMonitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop halts sampling and waits for the sampling goroutine to exit.
func (m *MemoryMonitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the most recent sample.
func (m *MemoryMonitor) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *MemoryMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *MemoryMonitor) collect() {
	v, err := mem.VirtualMemory()
	if err != nil {
		m.sink.Logf(logging.Debug, logging.RateLimit, "memory sample failed: %v", err)
		return
	}

	m.mu.Lock()
	m.stats = MemoryStats{
		UsedPercent: v.UsedPercent,
		Total:       v.Total,
		Available:   v.Available,
	}
	m.mu.Unlock()
}
