// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scaramanga/flowtrack/internal/flowtrack"
	"github.com/scaramanga/flowtrack/internal/memchunk"
)

type fakeStatsSource struct {
	stats       flowtrack.Stats
	active      int
	poolFree    int
	poolReserve int
	regionStats memchunk.Stats
}

func (f fakeStatsSource) Snapshot() flowtrack.Stats      { return f.stats }
func (f fakeStatsSource) ActiveSessions() int            { return f.active }
func (f fakeStatsSource) PoolStats() (free, reserve int) { return f.poolFree, f.poolReserve }
func (f fakeStatsSource) RegionStats() memchunk.Stats    { return f.regionStats }

// registryOf wires a single collector into a throwaway registry so its
// metrics can be gathered without touching the process-wide default
// registry.
func registryOf(c prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	return reg
}

func TestMetricsDescribeListsAllDescriptors(t *testing.T) {
	m := NewMetrics(fakeStatsSource{})
	ch := make(chan *prometheus.Desc, 32)
	m.Describe(ch)
	close(ch)

	n := 0
	for range ch {
		n++
	}
	if n != 14 {
		t.Errorf("expected 14 descriptors, got %d", n)
	}
}

func TestMetricsValuesMatchSnapshot(t *testing.T) {
	src := fakeStatsSource{
		stats: flowtrack.Stats{
			Segments:  42,
			TTLErrs:   3,
			CsumErrs:  4,
			OptsErrs:  1,
			Anomalies: 2,
			Created:   9,
			Freed:     7,
			Exhausted: 1,
			MaxActive: 5,
		},
		active:      2,
		poolFree:    120,
		poolReserve: 128,
		regionStats: memchunk.Stats{TotalChunks: 512, GlobalFree: 300},
	}
	reg := registryOf(NewMetrics(src))
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	values := map[string]float64{}
	for _, fam := range families {
		for _, metric := range fam.Metric {
			if c := metric.GetCounter(); c != nil {
				values[fam.GetName()] = c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				values[fam.GetName()] = g.GetValue()
			}
		}
	}

	want := map[string]float64{
		"flowtrack_tracker_num_segments":                42,
		"flowtrack_tracker_num_ttl_errs":                3,
		"flowtrack_tracker_num_csum_errs":                4,
		"flowtrack_tracker_num_opts_errs":                1,
		"flowtrack_tracker_num_anomalies":                2,
		"flowtrack_tracker_num_sessions_created_total":  9,
		"flowtrack_tracker_num_sessions_freed_total":    7,
		"flowtrack_tracker_num_exhausted":               1,
		"flowtrack_tracker_active_sessions":             2,
		"flowtrack_tracker_max_active_sessions":         5,
		"flowtrack_tracker_session_pool_free_chunks":    120,
		"flowtrack_tracker_session_pool_reserve_chunks": 128,
		"flowtrack_tracker_region_total_chunks":         512,
		"flowtrack_tracker_region_free_chunks":          300,
	}
	for name, exp := range want {
		got, ok := values[name]
		if !ok {
			t.Errorf("missing metric %s", name)
			continue
		}
		if got != exp {
			t.Errorf("%s: got %v want %v", name, got, exp)
		}
	}
}
