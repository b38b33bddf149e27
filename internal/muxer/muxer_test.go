// SPDX-License-Identifier: MIT

//go:build linux

package muxer

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestNewRejectsMissingDisplay(t *testing.T) {
	_, err := New(Config{OutputPath: "/tmp/out.mp4"})
	if err == nil {
		t.Fatal("New() error = nil, want error for missing display")
	}
}

func TestNewRejectsMissingOutputPath(t *testing.T) {
	_, err := New(Config{Display: ":99"})
	if err == nil {
		t.Fatal("New() error = nil, want error for missing output path")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	m, err := New(Config{Display: ":99", OutputPath: "/tmp/out.mp4"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.cfg.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", m.cfg.FFmpegPath)
	}
	if m.cfg.StallCheckInterval != 10*time.Second {
		t.Errorf("StallCheckInterval = %v, want 10s", m.cfg.StallCheckInterval)
	}
	if m.cfg.StallTimeout != 60*time.Second {
		t.Errorf("StallTimeout = %v, want 60s", m.cfg.StallTimeout)
	}
	if m.cfg.GraceTimeout != 5*time.Second {
		t.Errorf("GraceTimeout = %v, want 5s", m.cfg.GraceTimeout)
	}
	if m.cfg.FrameRate != 24 {
		t.Errorf("FrameRate = %d, want 24", m.cfg.FrameRate)
	}
}

func TestNewHonorsExplicitValues(t *testing.T) {
	m, err := New(Config{
		Display:            ":99",
		OutputPath:         "/tmp/out.mp4",
		FFmpegPath:         "/usr/local/bin/ffmpeg",
		StallCheckInterval: 5 * time.Second,
		StallTimeout:       30 * time.Second,
		GraceTimeout:       2 * time.Second,
		FrameRate:          30,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if m.cfg.FFmpegPath != "/usr/local/bin/ffmpeg" {
		t.Errorf("FFmpegPath = %q, want explicit path", m.cfg.FFmpegPath)
	}
	if m.cfg.FrameRate != 30 {
		t.Errorf("FrameRate = %d, want 30", m.cfg.FrameRate)
	}
}

func TestValueOr(t *testing.T) {
	if got := valueOr("", "fallback"); got != "fallback" {
		t.Errorf("valueOr(\"\", fallback) = %q, want fallback", got)
	}
	if got := valueOr("set", "fallback"); got != "set" {
		t.Errorf("valueOr(set, fallback) = %q, want set", got)
	}
}

func TestValueOrInt(t *testing.T) {
	if got := valueOrInt(0, 23); got != 23 {
		t.Errorf("valueOrInt(0, 23) = %d, want 23", got)
	}
	if got := valueOrInt(-1, 23); got != 23 {
		t.Errorf("valueOrInt(-1, 23) = %d, want 23", got)
	}
	if got := valueOrInt(18, 23); got != 18 {
		t.Errorf("valueOrInt(18, 23) = %d, want 18", got)
	}
}

func TestBuildCommandIncludesCaptureSources(t *testing.T) {
	m, err := New(Config{
		Display:      ":99",
		PulseSource:  "meetingrec_sink_99.monitor",
		OutputPath:   "/tmp/out.mp4",
		Width:        1280,
		Height:       720,
		VideoPreset:  "fast",
		VideoCRF:     20,
		AudioBitrate: "192k",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	cmd := m.buildCommand(context.Background())
	joined := strings.Join(cmd.Args, " ")
	for _, want := range []string{":99", "meetingrec_sink_99.monitor", "1280x720", "fast", "192k", "/tmp/out.mp4"} {
		if !strings.Contains(joined, want) {
			t.Errorf("buildCommand() args = %q, want to contain %q", joined, want)
		}
	}
}

func TestStopOnUnstartedMuxerIsANoOp(t *testing.T) {
	m, err := New(Config{Display: ":99", OutputPath: "/tmp/out.mp4"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	m.Stop() // must not panic or block when cmd was never started
}
