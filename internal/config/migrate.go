// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// legacyDetectionBlock is the flat "detection" config block this project
// shipped before detectors were addressed individually: one enabled flag and
// one shared threshold/timeout per detector that needs either, rather than
// the current DetectionConfig.Detectors map keyed by detector type.
type legacyDetectionBlock struct {
	TextIndicatorEnabled    bool    `yaml:"text_indicator_enabled"`
	VideoElementEnabled     bool    `yaml:"video_element_enabled"`
	WebRTCConnectionEnabled bool    `yaml:"webrtc_connection_enabled"`
	URLChangeEnabled        bool    `yaml:"url_change_enabled"`
	ScreenFreezeEnabled     bool    `yaml:"screen_freeze_enabled"`
	ScreenFreezeThreshold   float64 `yaml:"screen_freeze_threshold"`
	ScreenFreezeTimeoutSec  int     `yaml:"screen_freeze_timeout_sec"`
	AudioSilenceEnabled     bool    `yaml:"audio_silence_enabled"`
	AudioSilenceThreshold   float64 `yaml:"audio_silence_threshold"`
	AudioSilenceTimeoutSec  int     `yaml:"audio_silence_timeout_sec"`
	MinDetectorsAgree       int     `yaml:"min_detectors_agree"`
}

// legacyConfigFile is only used to pick the flat "detection" block back out
// of an old config file; every other section unmarshals straight into Config
// since their shapes haven't changed.
type legacyConfigFile struct {
	Detection legacyDetectionBlock `yaml:"detection"`
}

// MigrateLegacyDetection loads a config file written against the flat
// single-block detection shape this project shipped before per-detector
// config existed, and returns a Config with Detection converted to the
// current Detectors map. Every other section loads unchanged.
//
// Parameters:
//   - path: path to the legacy YAML configuration file
//
// Returns:
//   - *Config: migrated configuration, validated
//   - error: if the file cannot be read, parsed, or the migrated result
//     fails validation
func MigrateLegacyDetection(path string) (*Config, error) {
	// #nosec G304 - path is operator-supplied, not web request input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read legacy config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse legacy config YAML: %w", err)
	}

	var legacy legacyConfigFile
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("failed to parse legacy detection block: %w", err)
	}
	cfg.Detection = migrateDetectionBlock(legacy.Detection)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migrated configuration: %w", err)
	}
	return cfg, nil
}

// migrateDetectionBlock converts one flat legacy detection block into the
// current per-detector-keyed DetectionConfig.
func migrateDetectionBlock(legacy legacyDetectionBlock) DetectionConfig {
	minAgree := legacy.MinDetectorsAgree
	if minAgree <= 0 {
		minAgree = 1
	}
	return DetectionConfig{
		MinDetectorsAgree: minAgree,
		Detectors: map[string]DetectorConfig{
			DetectorTextIndicator:    {Enabled: legacy.TextIndicatorEnabled},
			DetectorVideoElement:     {Enabled: legacy.VideoElementEnabled},
			DetectorWebRTCConnection: {Enabled: legacy.WebRTCConnectionEnabled},
			DetectorURLChange:        {Enabled: legacy.URLChangeEnabled},
			DetectorScreenFreeze: {
				Enabled:   legacy.ScreenFreezeEnabled,
				Threshold: legacy.ScreenFreezeThreshold,
				Timeout:   time.Duration(legacy.ScreenFreezeTimeoutSec) * time.Second,
			},
			DetectorAudioSilence: {
				Enabled:   legacy.AudioSilenceEnabled,
				Threshold: legacy.AudioSilenceThreshold,
				Timeout:   time.Duration(legacy.AudioSilenceTimeoutSec) * time.Second,
			},
		},
	}
}
