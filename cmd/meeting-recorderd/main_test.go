// SPDX-License-Identifier: MIT

package main

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/eyeduck-ai/meeting-recorder/internal/config"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader/fake"
	"github.com/eyeduck-ai/meeting-recorder/internal/uploader/noop"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveUploaderDisabledReturnsNoop(t *testing.T) {
	cfg := &config.Config{}
	cfg.Upload.Enabled = false
	u := resolveUploader(cfg)
	if _, ok := u.(noop.Uploader); !ok {
		t.Fatalf("resolveUploader() = %T, want noop.Uploader", u)
	}
}

func TestResolveUploaderEnabledReturnsFake(t *testing.T) {
	cfg := &config.Config{}
	cfg.Upload.Enabled = true
	u := resolveUploader(cfg)
	fu, ok := u.(*fake.Uploader)
	if !ok {
		t.Fatalf("resolveUploader() = %T, want *fake.Uploader", u)
	}
	fu.Close()
}

func TestLoadConfigurationFallsBackToDefaultWhenMissing(t *testing.T) {
	cfg, err := loadConfiguration(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("loadConfiguration() error = %v", err)
	}
	if cfg == nil {
		t.Fatal("loadConfiguration() = nil, want default config")
	}
}

func TestOpenStoreMemoryBackend(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = "memory"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	jobs, schedules, meetings, detectionLogs, closeFn, err := openStore(cfg, logger)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer closeFn()
	if jobs == nil || schedules == nil || meetings == nil || detectionLogs == nil {
		t.Fatal("openStore() returned a nil port for the in-memory backend")
	}
}
