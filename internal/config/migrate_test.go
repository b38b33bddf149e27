// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestMigrateLegacyDetection verifies a flat legacy detection block converts
// to the current per-detector Detectors map.
//
// The legacy shape was one enabled flag and one shared threshold/timeout per
// detector that needs either:
//
//	detection:
//	  text_indicator_enabled: true
//	  screen_freeze_enabled: true
//	  screen_freeze_threshold: 0.9
//	  screen_freeze_timeout_sec: 45
//	  min_detectors_agree: 2
//
// which must become:
//
//	detection:
//	  min_detectors_agree: 2
//	  detectors:
//	    text_indicator: {enabled: true}
//	    screen_freeze: {enabled: true, threshold: 0.9, timeout: 45s}
func TestMigrateLegacyDetection(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.yaml")
	content := `
detection:
  text_indicator_enabled: true
  video_element_enabled: false
  webrtc_connection_enabled: true
  url_change_enabled: false
  screen_freeze_enabled: true
  screen_freeze_threshold: 0.9
  screen_freeze_timeout_sec: 45
  audio_silence_enabled: true
  audio_silence_threshold: 0.1
  audio_silence_timeout_sec: 90
  min_detectors_agree: 2
`
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := MigrateLegacyDetection(path)
	if err != nil {
		t.Fatalf("MigrateLegacyDetection() error = %v", err)
	}

	if cfg.Detection.MinDetectorsAgree != 2 {
		t.Errorf("MinDetectorsAgree = %d, want 2", cfg.Detection.MinDetectorsAgree)
	}

	textIndicator := cfg.Detection.Detector(DetectorTextIndicator)
	if !textIndicator.Enabled {
		t.Error("text_indicator.Enabled = false, want true")
	}

	videoElement := cfg.Detection.Detector(DetectorVideoElement)
	if videoElement.Enabled {
		t.Error("video_element.Enabled = true, want false")
	}

	screenFreeze := cfg.Detection.Detector(DetectorScreenFreeze)
	if !screenFreeze.Enabled {
		t.Error("screen_freeze.Enabled = false, want true")
	}
	if screenFreeze.Threshold != 0.9 {
		t.Errorf("screen_freeze.Threshold = %v, want 0.9", screenFreeze.Threshold)
	}
	if screenFreeze.Timeout != 45*time.Second {
		t.Errorf("screen_freeze.Timeout = %v, want 45s", screenFreeze.Timeout)
	}

	audioSilence := cfg.Detection.Detector(DetectorAudioSilence)
	if !audioSilence.Enabled {
		t.Error("audio_silence.Enabled = false, want true")
	}
	if audioSilence.Threshold != 0.1 {
		t.Errorf("audio_silence.Threshold = %v, want 0.1", audioSilence.Threshold)
	}
	if audioSilence.Timeout != 90*time.Second {
		t.Errorf("audio_silence.Timeout = %v, want 90s", audioSilence.Timeout)
	}
}

// TestMigrateLegacyDetectionDefaultsMinAgree verifies an absent or zero
// min_detectors_agree migrates to 1 rather than 0, which would make
// auto-detection fire with no detector votes at all.
func TestMigrateLegacyDetectionDefaultsMinAgree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.yaml")
	content := "detection:\n  text_indicator_enabled: true\n"
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := MigrateLegacyDetection(path)
	if err != nil {
		t.Fatalf("MigrateLegacyDetection() error = %v", err)
	}
	if cfg.Detection.MinDetectorsAgree != 1 {
		t.Errorf("MinDetectorsAgree = %d, want 1", cfg.Detection.MinDetectorsAgree)
	}
}

// TestMigrateLegacyDetectionPreservesOtherSections verifies sections whose
// shape never changed load unchanged alongside the migrated Detection block.
func TestMigrateLegacyDetectionPreservesOtherSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.yaml")
	content := `
server:
  data_dir: /srv/meeting-recorder
  tz: America/New_York
detection:
  webrtc_connection_enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := MigrateLegacyDetection(path)
	if err != nil {
		t.Fatalf("MigrateLegacyDetection() error = %v", err)
	}
	if cfg.Server.DataDir != "/srv/meeting-recorder" {
		t.Errorf("Server.DataDir = %q, want /srv/meeting-recorder", cfg.Server.DataDir)
	}
	if cfg.Server.Tz != "America/New_York" {
		t.Errorf("Server.Tz = %q, want America/New_York", cfg.Server.Tz)
	}
}

// TestMigrateLegacyDetectionMissingFile verifies error handling for missing
// files.
func TestMigrateLegacyDetectionMissingFile(t *testing.T) {
	_, err := MigrateLegacyDetection(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err == nil {
		t.Error("MigrateLegacyDetection() expected error for missing file, got nil")
	}
}

// TestMigrateLegacyDetectionInvalidYAML verifies malformed YAML is reported
// rather than silently producing a zero-value Config.
func TestMigrateLegacyDetectionInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("not: [valid: yaml"), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := MigrateLegacyDetection(path)
	if err == nil {
		t.Error("MigrateLegacyDetection() with invalid YAML: expected error, got nil")
	}
}

// TestMigrateLegacyDetectionFailsValidation verifies a migrated config that
// fails Validate (e.g. an out-of-range threshold) is reported rather than
// returned.
func TestMigrateLegacyDetectionFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.yaml")
	content := `
detection:
  screen_freeze_enabled: true
  screen_freeze_threshold: 4.5
`
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := MigrateLegacyDetection(path)
	if err == nil {
		t.Error("MigrateLegacyDetection() with out-of-range threshold: expected error, got nil")
	}
}
