// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config loads and validates flowtrackd's YAML configuration:
// allocator sizing, the session table and timeout policy, logging, and
// the observability HTTP listener.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is flowtrackd's top-level configuration.
type Config struct {
	Memory        MemoryInfo        `yaml:"memory"`
	Tracker       TrackerInfo       `yaml:"tracker"`
	Logging       LoggingInfo       `yaml:"logging"`
	Observability ObservabilityInfo `yaml:"observability"`
	Maintenance   MaintenanceInfo   `yaml:"maintenance"`
}

// MemoryInfo sizes the chunk-backed allocator region (C1).
type MemoryInfo struct {
	RegionSize    string `yaml:"region_size"` // e.g. "256mb", "1gb"
	RegionSizeRaw int64  `yaml:"-"`
	Poison        bool   `yaml:"poison"`
}

// TrackerInfo sizes the session table (C4) and configures the timeout
// policy (§6).
type TrackerInfo struct {
	HashBuckets     int           `yaml:"hash_buckets"`
	SessionPoolSize string        `yaml:"session_pool_size"` // e.g. "32mb"
	SessionPoolRaw  int64         `yaml:"-"`
	MinTTL          uint8         `yaml:"min_ttl"`
	SYN1Timeout     time.Duration `yaml:"syn1_timeout"`
}

// LoggingInfo configures the slog-backed Sink.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// ObservabilityInfo configures the Prometheus/JSON HTTP surface and the
// host memory-pressure monitor.
type ObservabilityInfo struct {
	Listen             string        `yaml:"listen"` // empty disables the server
	SessionHistory     int           `yaml:"session_history_size"`
	SnapshotDir        string        `yaml:"snapshot_dir"`
	MemoryPollInterval time.Duration `yaml:"memory_poll_interval"`
}

// MaintenanceInfo configures the cron-driven reap/export tick.
type MaintenanceInfo struct {
	ReapSchedule   string `yaml:"reap_schedule"`   // e.g. "@every 10s"
	ExportSchedule string `yaml:"export_schedule"` // e.g. "@every 1h"
}

// Load reads and validates a YAML config file, filling in defaults for
// anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Memory.RegionSize == "" {
		c.Memory.RegionSize = "256mb"
	}
	regionBytes, err := ParseByteSize(c.Memory.RegionSize)
	if err != nil {
		return fmt.Errorf("memory.region_size: %w", err)
	}
	c.Memory.RegionSizeRaw = regionBytes

	if c.Tracker.HashBuckets <= 0 {
		c.Tracker.HashBuckets = 4096
	}
	if c.Tracker.SessionPoolSize == "" {
		c.Tracker.SessionPoolSize = "32mb"
	}
	poolBytes, err := ParseByteSize(c.Tracker.SessionPoolSize)
	if err != nil {
		return fmt.Errorf("tracker.session_pool_size: %w", err)
	}
	c.Tracker.SessionPoolRaw = poolBytes
	if c.Tracker.MinTTL == 0 {
		c.Tracker.MinTTL = 1
	}
	if c.Tracker.SYN1Timeout <= 0 {
		c.Tracker.SYN1Timeout = 90 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Observability.SessionHistory <= 0 {
		c.Observability.SessionHistory = 4096
	}
	if c.Observability.MemoryPollInterval <= 0 {
		c.Observability.MemoryPollInterval = 5 * time.Second
	}

	if c.Maintenance.ReapSchedule == "" {
		c.Maintenance.ReapSchedule = "@every 10s"
	}
	if c.Maintenance.ExportSchedule == "" {
		c.Maintenance.ExportSchedule = "@every 1h"
	}

	return nil
}

// ParseByteSize converts human-readable size strings like "256mb" or
// "1gb" into a byte count. Suffixes are matched longest-first so "mb"
// is never mistaken for a trailing "b".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
