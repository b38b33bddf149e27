// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/meeting-recorder/config.yaml"

// Config represents the complete meeting-recorderd configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" koanf:"server"`
	Recording  RecordingConfig  `yaml:"recording" koanf:"recording"`
	Detection  DetectionConfig  `yaml:"detection" koanf:"detection"`
	Upload     UploadConfig     `yaml:"upload" koanf:"upload"`
	Supervisor SupervisorConfig `yaml:"supervisor" koanf:"supervisor"`
	Health     HealthConfig     `yaml:"health" koanf:"health"`
}

// ServerConfig contains daemon-wide settings unrelated to any single
// recording job.
type ServerConfig struct {
	DataDir  string `yaml:"data_dir" koanf:"data_dir"`   // sqlite DB and default diagnostics root live under here
	LogLevel string `yaml:"log_level" koanf:"log_level"` // debug, info, warn, error
	Tz       string `yaml:"tz" koanf:"tz"`                // IANA zone cron schedules arm in; empty or invalid falls back to UTC
}

// Detector type keys for DetectionConfig.Detectors, matching
// internal/detection's Detector.Type() strings exactly so a config entry
// addresses the same probe the Orchestrator runs.
const (
	DetectorTextIndicator    = "text_indicator"
	DetectorVideoElement     = "video_element"
	DetectorWebRTCConnection = "webrtc_connection"
	DetectorScreenFreeze     = "screen_freeze"
	DetectorAudioSilence     = "audio_silence"
	DetectorURLChange        = "url_change"
)

// DetectorConfig is one meeting-end detector's settings: whether it runs,
// and the threshold/timeout it runs with. Detectors that take neither
// (text_indicator, video_element, webrtc_connection, url_change) leave
// those fields zero.
type DetectorConfig struct {
	Enabled   bool          `yaml:"enabled" koanf:"enabled"`
	Threshold float64       `yaml:"threshold,omitempty" koanf:"threshold"`
	Timeout   time.Duration `yaml:"timeout,omitempty" koanf:"timeout"`
}

// DetectionConfig controls the meeting-end detector ensemble every job's
// Orchestrator is built from. Detectors is keyed by detector type (the
// Detector constants above); a key absent from the map runs with its zero
// DetectorConfig, i.e. disabled. This replaces a flat legacy block of
// per-detector booleans and shared thresholds that migrate.go converts on
// load.
type DetectionConfig struct {
	// MinDetectorsAgree is the minimum number of enabled detectors that must
	// agree the meeting ended before auto-detection fires.
	MinDetectorsAgree int                       `yaml:"min_detectors_agree" koanf:"min_detectors_agree"`
	Detectors         map[string]DetectorConfig `yaml:"detectors" koanf:"detectors"`
}

// Detector returns name's settings, or the zero (disabled) DetectorConfig
// if name has no entry in the map.
func (d DetectionConfig) Detector(name string) DetectorConfig {
	return d.Detectors[name]
}

// RecordingConfig contains settings applied to every recording job unless a
// Schedule or Meeting overrides them.
type RecordingConfig struct {
	FFmpegPath        string        `yaml:"ffmpeg_path" koanf:"ffmpeg_path"`
	CheckInterval     time.Duration `yaml:"check_interval" koanf:"check_interval"`         // main loop poll interval
	JoinTimeout       time.Duration `yaml:"join_timeout" koanf:"join_timeout"`             // timeout waiting to join before failing the job
	DefaultQuality    string        `yaml:"default_quality" koanf:"default_quality"`       // captureenv.QualityTier: low, normal, high
	WindowWidth       int           `yaml:"window_width" koanf:"window_width"`
	WindowHeight      int           `yaml:"window_height" koanf:"window_height"`
	DiagnosticsMaxAge time.Duration `yaml:"diagnostics_max_age" koanf:"diagnostics_max_age"` // age limit for a failed job's artifact bundle; no component reads it, so bundles are never pruned automatically
}

// UploadConfig contains the default upload destination settings, overridable
// per Schedule via its own UploadEnabled/PrivacyTag fields.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled" koanf:"enabled"`
	DefaultPrivacy  string `yaml:"default_privacy" koanf:"default_privacy"` // unlisted, private, public
	CredentialsPath string `yaml:"credentials_path" koanf:"credentials_path"`
}

// SupervisorConfig mirrors internal/supervisor.Config so it can be loaded
// from the same file as everything else.
type SupervisorConfig struct {
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" koanf:"shutdown_timeout"`
	RestartDelay      time.Duration `yaml:"restart_delay" koanf:"restart_delay"`
	MaxRestartDelay   time.Duration `yaml:"max_restart_delay" koanf:"max_restart_delay"`
	RestartMultiplier float64       `yaml:"restart_multiplier" koanf:"restart_multiplier"`
}

// HealthConfig contains health-check HTTP endpoint settings.
type HealthConfig struct {
	Enabled            bool   `yaml:"enabled" koanf:"enabled"`
	Addr               string `yaml:"addr" koanf:"addr"`
	DiskLowThresholdMB int64  `yaml:"disk_low_threshold_mb" koanf:"disk_low_threshold_mb"`
}

// LoadConfig reads and parses the configuration file.
//
// Parameters:
//   - path: Path to YAML configuration file
//
// Returns:
//   - *Config: Parsed configuration
//   - error: if file not found, invalid YAML, or validation fails
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
// Tests can replace this with a function returning a mock atomicFile.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Atomic write: write to a temp file in the same directory, sync to disk,
	// then rename to the target path. os.Rename is atomic on most filesystems,
	// so a crash mid-write leaves either the old file or the new file, never
	// a partially-written file.
	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}

	// Config files may contain upload credential paths and should not be
	// world-readable.
	// #nosec G302 - Config file restricted to owner+group for security
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}

	// #nosec G703 -- path is from CLI flag/config, not web request input
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if err := c.Recording.Validate(); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}
	if err := c.Detection.Validate(); err != nil {
		return fmt.Errorf("detection config: %w", err)
	}
	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}
	if c.Supervisor.RestartMultiplier != 0 && c.Supervisor.RestartMultiplier < 1 {
		return fmt.Errorf("supervisor config: restart_multiplier must be >= 1")
	}
	return nil
}

// Validate checks recording configuration for invalid values.
func (r *RecordingConfig) Validate() error {
	switch r.DefaultQuality {
	case "", "low", "normal", "high":
	default:
		return fmt.Errorf("default_quality must be one of low, normal, high (got %q)", r.DefaultQuality)
	}
	if r.WindowWidth < 0 || r.WindowHeight < 0 {
		return fmt.Errorf("window_width/window_height must not be negative")
	}
	return nil
}

// Validate checks detection configuration for invalid values.
func (d *DetectionConfig) Validate() error {
	if d.MinDetectorsAgree < 0 {
		return fmt.Errorf("min_detectors_agree must not be negative")
	}
	for name, det := range d.Detectors {
		if det.Threshold < 0 || det.Threshold > 1 {
			return fmt.Errorf("detector %q: threshold must be between 0 and 1", name)
		}
	}
	return nil
}

// Validate checks upload configuration for invalid values.
func (u *UploadConfig) Validate() error {
	if !u.Enabled {
		return nil
	}
	switch u.DefaultPrivacy {
	case "unlisted", "private", "public":
	default:
		return fmt.Errorf("default_privacy must be one of unlisted, private, public (got %q)", u.DefaultPrivacy)
	}
	return nil
}

// ResolveLocation parses Server.Tz into a *time.Location for the scheduler
// and job runner to arm triggers and bound retry deadlines in. An empty tz
// resolves to UTC with a nil error; an invalid tz also falls back to UTC
// but returns the parse error so the caller can log a warning, matching
// original_source/utils/timezone.py's invalid-zone handling.
func ResolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	return loc, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "/var/lib/meeting-recorder",
			LogLevel: "info",
			Tz:       "UTC",
		},
		Recording: RecordingConfig{
			FFmpegPath:     "ffmpeg",
			CheckInterval:  5 * time.Second,
			JoinTimeout:    60 * time.Second,
			DefaultQuality: "normal",
			WindowWidth:    1920,
			WindowHeight:   1080,
			// DiagnosticsMaxAge: 0 by default (retain diagnostic bundles
			// indefinitely until an operator prunes them).
		},
		Detection: DetectionConfig{
			MinDetectorsAgree: 1,
			Detectors: map[string]DetectorConfig{
				DetectorTextIndicator:    {Enabled: true},
				DetectorVideoElement:     {Enabled: true},
				DetectorWebRTCConnection: {Enabled: true},
				DetectorURLChange:        {Enabled: true},
				DetectorScreenFreeze:     {Enabled: false, Threshold: 0.98, Timeout: 60 * time.Second},
				DetectorAudioSilence:     {Enabled: false, Threshold: 0.05, Timeout: 120 * time.Second},
			},
		},
		Upload: UploadConfig{
			Enabled:        false,
			DefaultPrivacy: "unlisted",
		},
		Supervisor: SupervisorConfig{
			ShutdownTimeout:   10 * time.Second,
			RestartDelay:      1 * time.Second,
			MaxRestartDelay:   5 * time.Minute,
			RestartMultiplier: 2.0,
		},
		Health: HealthConfig{
			Enabled:            true,
			Addr:               "127.0.0.1:9998",
			DiskLowThresholdMB: 1024,
		},
	}
}
