// Copyright (c) 2025 The Flowtrack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerDefaultsToInfoJSON(t *testing.T) {
	logger, closer := NewLogger("", "", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
	if !logger.Enabled(nil, slog.LevelInfo) {
		t.Error("expected info level enabled by default")
	}
	if logger.Enabled(nil, slog.LevelDebug) {
		t.Error("expected debug level disabled by default")
	}
}

func TestNewLoggerDebugLevel(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "")
	defer closer.Close()
	if !logger.Enabled(nil, slog.LevelDebug) {
		t.Error("expected debug level enabled")
	}
}

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowtrackd.log")
	logger, closer := NewLogger("info", "json", path)
	logger.Info("hello")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log file to contain output")
	}
}

func TestNewLoggerFallsBackOnBadFilePath(t *testing.T) {
	logger, closer := NewLogger("info", "json", "/nonexistent-dir/flowtrackd.log")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger even when the file path is unusable")
	}
}
