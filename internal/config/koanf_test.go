package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKoanfConfig_LoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
server:
  data_dir: /var/lib/meeting-recorder
  log_level: debug

recording:
  ffmpeg_path: /usr/bin/ffmpeg
  check_interval: 5s
  join_timeout: 60s
  default_quality: normal

upload:
  enabled: true
  default_privacy: unlisted

health:
  enabled: true
  addr: 127.0.0.1:9998
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Recording.JoinTimeout != 60*time.Second {
		t.Errorf("Recording.JoinTimeout = %v, want 60s", cfg.Recording.JoinTimeout)
	}
	if !cfg.Upload.Enabled {
		t.Error("Upload.Enabled = false, want true")
	}
	if cfg.Health.Addr != "127.0.0.1:9998" {
		t.Errorf("Health.Addr = %q, want 127.0.0.1:9998", cfg.Health.Addr)
	}
}

func TestKoanfConfig_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	testConfig := `
recording:
  join_timeout: 60s
health:
  addr: 127.0.0.1:9998
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	t.Setenv("MEETINGREC_HEALTH_ADDR", "0.0.0.0:8080")

	kc, err := NewKoanfConfig(WithYAMLFile(configPath), WithEnvPrefix("MEETINGREC"))
	if err != nil {
		t.Fatalf("NewKoanfConfig failed: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Health.Addr != "0.0.0.0:8080" {
		t.Errorf("Health.Addr = %q, want env override 0.0.0.0:8080", cfg.Health.Addr)
	}
}

func TestKoanfConfig_DefaultsOnMissingFile(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig with no file: %v", err)
	}

	cfg, err := kc.Load()
	if err != nil {
		t.Fatalf("Load with no sources: %v", err)
	}
	// With nothing loaded, zero values unmarshal; Validate should still
	// pass since every field's zero value is a valid (if unhelpful) config.
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
}

func TestKoanfConfig_Reload(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte("health:\n  addr: 127.0.0.1:1111\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig: %v", err)
	}
	if got := kc.GetString("health.addr"); got != "127.0.0.1:1111" {
		t.Fatalf("GetString(health.addr) = %q, want 127.0.0.1:1111", got)
	}

	if err := os.WriteFile(configPath, []byte("health:\n  addr: 127.0.0.1:2222\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := kc.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if got := kc.GetString("health.addr"); got != "127.0.0.1:2222" {
		t.Errorf("GetString(health.addr) after reload = %q, want 127.0.0.1:2222", got)
	}
}

func TestKoanfConfig_Getters(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	testConfig := `
recording:
  check_interval: 5s
upload:
  enabled: true
health:
  disk_low_threshold_mb: 2048
`
	if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	kc, err := NewKoanfConfig(WithYAMLFile(configPath))
	if err != nil {
		t.Fatalf("NewKoanfConfig: %v", err)
	}

	if got := kc.GetDuration("recording.check_interval"); got != 5*time.Second {
		t.Errorf("GetDuration(recording.check_interval) = %v, want 5s", got)
	}
	if got := kc.GetBool("upload.enabled"); !got {
		t.Error("GetBool(upload.enabled) = false, want true")
	}
	if got := kc.GetInt("health.disk_low_threshold_mb"); got != 2048 {
		t.Errorf("GetInt(health.disk_low_threshold_mb) = %d, want 2048", got)
	}
	if !kc.Exists("recording.check_interval") {
		t.Error("Exists(recording.check_interval) = false, want true")
	}
	if kc.Exists("nonexistent.key") {
		t.Error("Exists(nonexistent.key) = true, want false")
	}
	if all := kc.All(); len(all) == 0 {
		t.Error("All() returned empty map")
	}
}

func TestKoanfConfig_WatchRequiresFilePath(t *testing.T) {
	kc, err := NewKoanfConfig()
	if err != nil {
		t.Fatalf("NewKoanfConfig: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := kc.Watch(ctx, func(string, error) {}); err == nil {
		t.Error("Watch with no file path: expected error, got nil")
	}
}
