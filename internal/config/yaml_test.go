// SPDX-License-Identifier: MIT
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if cfg.Pipeline.WindowLength != DefaultWindowLength {
		t.Errorf("window length: got %d, want %d", cfg.Pipeline.WindowLength, DefaultWindowLength)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_PipelineSection(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  source: tone:1000
pipeline:
  repetition_rate: 50
  window_length: 1024
  alpha: 0.5
  retention: 5s
  scale: linear
  channel: 2
transport:
  udp_enabled: true
  udp_send_interval: 20ms
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	p := cfg.Pipeline
	if p.RepetitionRate != 50 || p.WindowLength != 1024 || p.Alpha != 0.5 {
		t.Errorf("pipeline not decoded: %+v", p)
	}
	if p.Retention != 5*time.Second {
		t.Errorf("retention: got %s, want 5s", p.Retention)
	}
	if p.Channel != 2 {
		t.Errorf("channel: got %d, want 2", p.Channel)
	}
	if p.Scale != ScaleLinear {
		t.Errorf("scale: got %q", p.Scale)
	}
	if cfg.Audio.Source != "tone:1000" {
		t.Errorf("source: got %q", cfg.Audio.Source)
	}
	if cfg.Transport.UDPSendInterval != 20*time.Millisecond {
		t.Errorf("udp interval: got %s", cfg.Transport.UDPSendInterval)
	}
	// Untouched sections keep their defaults.
	if cfg.Recording.BitDepth != DefaultBitDepth {
		t.Errorf("bit depth: got %d", cfg.Recording.BitDepth)
	}
}

func TestLoadConfig_InvalidPipeline(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "pipeline:\n  alpha: 1.5\n")
	_, err := LoadConfig(path)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ENV_DEBUG", "true")
	t.Setenv("ENV_REPETITION_RATE", "25")
	t.Setenv("ENV_WINDOW_LENGTH", "2048")
	t.Setenv("ENV_ALPHA", "not-a-number")
	t.Setenv("ENV_RETENTION", "30s")
	t.Setenv("ENV_WS_ADDRESS", ":9999")

	cfg := Default()
	cfg.applyEnvOverrides()

	if !cfg.Debug {
		t.Error("debug override not applied")
	}
	if cfg.Pipeline.RepetitionRate != 25 {
		t.Errorf("repetition rate: got %v", cfg.Pipeline.RepetitionRate)
	}
	if cfg.Pipeline.WindowLength != 2048 {
		t.Errorf("window length: got %d", cfg.Pipeline.WindowLength)
	}
	if cfg.Pipeline.Alpha != DefaultAlpha {
		t.Errorf("unparsable alpha should be ignored, got %v", cfg.Pipeline.Alpha)
	}
	if cfg.Pipeline.Retention != 30*time.Second {
		t.Errorf("retention: got %s", cfg.Pipeline.Retention)
	}
	if !cfg.Transport.WebSocketEnabled || cfg.Transport.WebSocketAddress != ":9999" {
		t.Errorf("websocket override: %+v", cfg.Transport)
	}
}
