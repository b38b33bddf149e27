// SPDX-License-Identifier: MIT

//go:build linux

// Package captureenv owns the lifecycle of the virtual display and audio
// sink a recording job runs inside: an Xvfb X server and a PulseAudio null
// sink, torn down deterministically even when the job that used them
// crashed mid-recording.
package captureenv

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/eyeduck-ai/meeting-recorder/internal/lock"
	"github.com/eyeduck-ai/meeting-recorder/internal/model"
)

// QualityTier selects the capture resolution/bitrate preset for a job.
type QualityTier string

const (
	QualityLow    QualityTier = "low"
	QualityNormal QualityTier = "normal"
	QualityHigh   QualityTier = "high"
)

// Preset is the concrete encode/capture knobs a QualityTier resolves to.
type Preset struct {
	Resolution model.Resolution
	FrameRate  int
	VideoCRF   int
	VideoPreset string // x264 preset name
	AudioBitrate string
}

// qualityPresets extends a set of audio bitrate tiers to a combined
// video+audio capture preset.
var qualityPresets = map[QualityTier]Preset{
	QualityLow: {
		Resolution:   model.Resolution{Width: 1280, Height: 720},
		FrameRate:    15,
		VideoCRF:     28,
		VideoPreset:  "veryfast",
		AudioBitrate: "64k",
	},
	QualityNormal: {
		Resolution:   model.Resolution{Width: 1920, Height: 1080},
		FrameRate:    24,
		VideoCRF:     23,
		VideoPreset:  "veryfast",
		AudioBitrate: "128k",
	},
	QualityHigh: {
		Resolution:   model.Resolution{Width: 1920, Height: 1080},
		FrameRate:    30,
		VideoCRF:     18,
		VideoPreset:  "fast",
		AudioBitrate: "192k",
	},
}

// ResolvePreset returns the Preset for tier, defaulting to Normal for an
// unrecognized or empty tier.
func ResolvePreset(tier QualityTier) Preset {
	if p, ok := qualityPresets[tier]; ok {
		return p
	}
	return qualityPresets[QualityNormal]
}

// Config controls how an Environment is provisioned.
type Config struct {
	LockDir     string // directory holding per-display flock files
	DisplayBase int    // first display number tried, e.g. 99
	MaxDisplays int    // how many display numbers to try before giving up
	XvfbPath    string
	PulseaudioPath string
	PactlPath   string
	StartupWait time.Duration // grace period after spawning Xvfb before probing it
}

// Environment is one leased virtual display + audio sink pair, scoped to a
// single job's lifetime.
type Environment struct {
	cfg Config

	Display     string // ":99"
	SinkName    string // "meetingrec_sink_99"
	PulseServer string // unix socket path for PULSE_SERVER

	mu       sync.Mutex
	xvfbCmd  *exec.Cmd
	paCmd    *exec.Cmd
	flock    *lock.FileLock
	acquired bool
}

// Acquire provisions a free virtual display and audio sink, retrying display
// numbers in [DisplayBase, DisplayBase+MaxDisplays) until one's lock is free.
// Stale locks (owning process dead) are swept by lock.FileLock itself.
func Acquire(ctx context.Context, cfg Config) (*Environment, error) {
	if cfg.MaxDisplays <= 0 {
		cfg.MaxDisplays = 10
	}
	if cfg.XvfbPath == "" {
		cfg.XvfbPath = "Xvfb"
	}
	if cfg.PulseaudioPath == "" {
		cfg.PulseaudioPath = "pulseaudio"
	}
	if cfg.PactlPath == "" {
		cfg.PactlPath = "pactl"
	}
	if cfg.StartupWait == 0 {
		cfg.StartupWait = 500 * time.Millisecond
	}

	var lastErr error
	for i := 0; i < cfg.MaxDisplays; i++ {
		displayNum := cfg.DisplayBase + i
		lockPath := filepath.Join(cfg.LockDir, fmt.Sprintf("display-%d.lock", displayNum))

		fl, err := lock.NewFileLock(lockPath)
		if err != nil {
			lastErr = err
			continue
		}
		if err := fl.AcquireContext(ctx, 0); err != nil {
			lastErr = err
			continue
		}

		env := &Environment{
			cfg:      cfg,
			Display:  fmt.Sprintf(":%d", displayNum),
			SinkName: fmt.Sprintf("meetingrec_sink_%d", displayNum),
			flock:    fl,
			acquired: true,
		}
		if err := env.start(ctx); err != nil {
			_ = fl.Close()
			lastErr = err
			continue
		}
		return env, nil
	}
	return nil, fmt.Errorf("captureenv: no free display in range [%d, %d): %w", cfg.DisplayBase, cfg.DisplayBase+cfg.MaxDisplays, lastErr)
}

func (e *Environment) start(ctx context.Context) error {
	xvfbArgs := []string{e.Display, "-screen", "0", "1920x1080x24", "-nolisten", "tcp"}
	xvfb := exec.Command(e.cfg.XvfbPath, xvfbArgs...)
	if err := xvfb.Start(); err != nil {
		return fmt.Errorf("captureenv: start Xvfb: %w", err)
	}
	e.xvfbCmd = xvfb

	select {
	case <-time.After(e.cfg.StartupWait):
	case <-ctx.Done():
		_ = xvfb.Process.Kill()
		return ctx.Err()
	}

	runDir := filepath.Join(os.TempDir(), "meetingrec-pulse-"+e.Display[1:])
	if err := os.MkdirAll(runDir, 0700); err != nil {
		_ = xvfb.Process.Kill()
		return fmt.Errorf("captureenv: create pulse run dir: %w", err)
	}
	e.PulseServer = filepath.Join(runDir, "native")

	pa := exec.Command(e.cfg.PulseaudioPath,
		"--daemonize=no",
		"--exit-idle-time=-1",
		"--disallow-exit",
		fmt.Sprintf("--log-target=file:%s", filepath.Join(runDir, "pulseaudio.log")),
	)
	pa.Env = append(os.Environ(), "PULSE_RUNTIME_PATH="+runDir)
	if err := pa.Start(); err != nil {
		_ = xvfb.Process.Kill()
		return fmt.Errorf("captureenv: start pulseaudio: %w", err)
	}
	e.paCmd = pa

	select {
	case <-time.After(e.cfg.StartupWait):
	case <-ctx.Done():
		_ = pa.Process.Kill()
		_ = xvfb.Process.Kill()
		return ctx.Err()
	}

	createSink := exec.Command(e.cfg.PactlPath, "load-module", "module-null-sink",
		"sink_name="+e.SinkName, "sink_properties=device.description="+e.SinkName)
	createSink.Env = append(os.Environ(), "PULSE_RUNTIME_PATH="+runDir)
	if out, err := createSink.CombinedOutput(); err != nil {
		_ = pa.Process.Kill()
		_ = xvfb.Process.Kill()
		return fmt.Errorf("captureenv: create null sink: %w: %s", err, out)
	}

	return nil
}

// Env returns the DISPLAY and PULSE_SERVER environment variables a
// downstream process (browser, ffmpeg) needs to target this Environment.
func (e *Environment) Env() []string {
	return []string{
		"DISPLAY=" + e.Display,
		"PULSE_SERVER=unix:" + e.PulseServer,
		"PULSE_SINK=" + e.SinkName,
	}
}

// Release tears down the audio sink and both subprocesses, then releases
// the display lock. Safe to call more than once.
func (e *Environment) Release() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.acquired {
		return nil
	}
	e.acquired = false

	if e.paCmd != nil && e.paCmd.Process != nil {
		_ = e.paCmd.Process.Kill()
		_, _ = e.paCmd.Process.Wait()
	}
	if e.xvfbCmd != nil && e.xvfbCmd.Process != nil {
		_ = e.xvfbCmd.Process.Kill()
		_, _ = e.xvfbCmd.Process.Wait()
	}
	if e.flock != nil {
		return e.flock.Close()
	}
	return nil
}
