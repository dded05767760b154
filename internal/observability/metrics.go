// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package observability exposes the tracker's diagnostic state — counters,
// a rolling event log, closed-session history, and host memory pressure —
// to the outside world over HTTP and Prometheus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
	"github.com/scaramanga/flowtrack/internal/memchunk"
)

// StatsSource is the slice of Tracker a Metrics collector needs. Narrowing
// to an interface keeps this package from depending on how the tracker
// reaches those numbers, and lets tests supply a fake.
type StatsSource interface {
	Snapshot() flowtrack.Stats
	ActiveSessions() int
	PoolStats() (free, reserve int)
	RegionStats() memchunk.Stats
}

// Metrics is a prometheus.Collector pulling its values from a StatsSource
// on every scrape (§7/§8 counters), rather than duplicating the tracker's
// atomic bookkeeping into a second set of counters that could drift out of
// sync with Stats.
type Metrics struct {
	src StatsSource

	segments    *prometheus.Desc
	ttlErrs     *prometheus.Desc
	csumErrs    *prometheus.Desc
	optsErrs    *prometheus.Desc
	anomalies   *prometheus.Desc
	created     *prometheus.Desc
	freed       *prometheus.Desc
	exhausted   *prometheus.Desc
	active      *prometheus.Desc
	maxActive   *prometheus.Desc
	poolFree    *prometheus.Desc
	poolReserve *prometheus.Desc
	regionTotal *prometheus.Desc
	regionFree  *prometheus.Desc
}

// NewMetrics builds a collector over src. namespace/subsystem follow the
// teacher's exporter convention of a constant prefix shared by every
// metric's fully-qualified name.
func NewMetrics(src StatsSource) *Metrics {
	ns, sub := "flowtrack", "tracker"
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, sub, name), help, nil, nil)
	}
	return &Metrics{
		src:         src,
		segments:    desc("num_segments", "Total TCP segments processed."),
		ttlErrs:     desc("num_ttl_errs", "Segments dropped for TTL below the evasion floor."),
		csumErrs:    desc("num_csum_errs", "Segments dropped for a bad TCP checksum."),
		optsErrs:    desc("num_opts_errs", "Segments with malformed TCP options, parsed anyway."),
		anomalies:   desc("num_anomalies", "Non-SYN segments with no matching session."),
		created:     desc("num_sessions_created_total", "Sessions created since start."),
		freed:       desc("num_sessions_freed_total", "Sessions freed since start."),
		exhausted:   desc("num_exhausted", "Session opens dropped for allocator exhaustion."),
		active:      desc("active_sessions", "Sessions currently tracked."),
		maxActive:   desc("max_active_sessions", "High-water mark of concurrently tracked sessions."),
		poolFree:    desc("session_pool_free_chunks", "Free chunks remaining in the session pool reservation."),
		poolReserve: desc("session_pool_reserve_chunks", "Chunks reserved for the session pool."),
		regionTotal: desc("region_total_chunks", "Total chunks backing the allocator region."),
		regionFree:  desc("region_free_chunks", "Chunks currently on the region's global free list."),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.segments
	ch <- m.ttlErrs
	ch <- m.csumErrs
	ch <- m.optsErrs
	ch <- m.anomalies
	ch <- m.created
	ch <- m.freed
	ch <- m.exhausted
	ch <- m.active
	ch <- m.maxActive
	ch <- m.poolFree
	ch <- m.poolReserve
	ch <- m.regionTotal
	ch <- m.regionFree
}

// Collect implements prometheus.Collector, pulling one consistent snapshot
// per scrape.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	s := m.src.Snapshot()
	ch <- prometheus.MustNewConstMetric(m.segments, prometheus.CounterValue, float64(s.Segments))
	ch <- prometheus.MustNewConstMetric(m.ttlErrs, prometheus.CounterValue, float64(s.TTLErrs))
	ch <- prometheus.MustNewConstMetric(m.csumErrs, prometheus.CounterValue, float64(s.CsumErrs))
	ch <- prometheus.MustNewConstMetric(m.optsErrs, prometheus.CounterValue, float64(s.OptsErrs))
	ch <- prometheus.MustNewConstMetric(m.anomalies, prometheus.CounterValue, float64(s.Anomalies))
	ch <- prometheus.MustNewConstMetric(m.created, prometheus.CounterValue, float64(s.Created))
	ch <- prometheus.MustNewConstMetric(m.freed, prometheus.CounterValue, float64(s.Freed))
	ch <- prometheus.MustNewConstMetric(m.exhausted, prometheus.CounterValue, float64(s.Exhausted))
	ch <- prometheus.MustNewConstMetric(m.active, prometheus.GaugeValue, float64(m.src.ActiveSessions()))
	ch <- prometheus.MustNewConstMetric(m.maxActive, prometheus.GaugeValue, float64(s.MaxActive))

	poolFree, poolReserve := m.src.PoolStats()
	ch <- prometheus.MustNewConstMetric(m.poolFree, prometheus.GaugeValue, float64(poolFree))
	ch <- prometheus.MustNewConstMetric(m.poolReserve, prometheus.GaugeValue, float64(poolReserve))

	region := m.src.RegionStats()
	ch <- prometheus.MustNewConstMetric(m.regionTotal, prometheus.GaugeValue, float64(region.TotalChunks))
	ch <- prometheus.MustNewConstMetric(m.regionFree, prometheus.GaugeValue, float64(region.GlobalFree))
}
