// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`             // Enable debug mode (verbose logging).
	LogLevel  string          `yaml:"log_level"`         // Logging level (e.g., "debug", "info", "warn", "error").
	Command   string          `yaml:"command,omitempty"` // A one-off command to execute instead of running the pipeline.
	Audio     AudioConfig     `yaml:"audio"`             // Audio acquisition settings.
	Pipeline  Pipeline        `yaml:"pipeline"`          // Spectrogram processing settings.
	Recording RecordingConfig `yaml:"recording"`         // Export settings.
	Transport TransportConfig `yaml:"transport"`         // Column streaming settings.
	Metrics   MetricsConfig   `yaml:"metrics"`           // Prometheus exposition.
}

// AudioConfig holds settings related to audio input.
type AudioConfig struct {
	InputDevice     int     `yaml:"input_device"`      // PortAudio device index for audio input (-1 for default).
	Source          string  `yaml:"source"`            // WAV path or "tone:<hz>"; empty means the input device.
	SampleRate      float64 `yaml:"sample_rate"`       // Desired sample rate in Hz; files keep their own.
	FramesPerBuffer int     `yaml:"frames_per_buffer"` // Frames per capture block (affects latency).
	LowLatency      bool    `yaml:"low_latency"`       // Request low latency settings from PortAudio device.
	InputChannels   int     `yaml:"input_channels"`    // Number of input channels to capture.
}

// RecordingConfig holds settings related to exports.
type RecordingConfig struct {
	OutputDir string `yaml:"output_dir"` // Directory for exported WAV/CSV files.
	BitDepth  int    `yaml:"bit_depth"`  // Bit depth for exported audio (16, 24 or 32).
}

// TransportConfig holds settings related to streaming columns to presentation clients.
type TransportConfig struct {
	WebSocketEnabled bool          `yaml:"websocket_enabled"`  // Serve columns as JSON over a websocket.
	WebSocketAddress string        `yaml:"websocket_address"`  // Listen address, e.g. ":8080".
	UDPEnabled       bool          `yaml:"udp_enabled"`        // Send columns as binary UDP packets.
	UDPTargetAddress string        `yaml:"udp_target_address"` // Target address and port (e.g., "127.0.0.1:9090").
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`  // Interval between UDP packets.
	FeedInterval     time.Duration `yaml:"feed_interval"`      // Poll interval for the websocket feed.
	FeedColumns      int           `yaml:"feed_columns"`       // Maximum columns fetched per poll.
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Debug:    false,
		LogLevel: "info",
		Audio: AudioConfig{
			InputDevice:     DefaultDeviceID,
			SampleRate:      DefaultSampleRate,
			FramesPerBuffer: DefaultFramesPerBuffer,
			LowLatency:      false,
			InputChannels:   DefaultChannels,
		},
		Pipeline: DefaultPipeline(),
		Recording: RecordingConfig{
			OutputDir: DefaultOutputDir,
			BitDepth:  DefaultBitDepth,
		},
		Transport: TransportConfig{
			WebSocketEnabled: false,
			WebSocketAddress: ":8080",
			UDPEnabled:       false,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  33 * time.Millisecond, // ~30Hz
			FeedInterval:     50 * time.Millisecond,
			FeedColumns:      64,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches default locations ("config.yaml"). If no file is found, it uses built-in
// defaults. After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		candidates := []string{"config.yaml", "spectro.yaml"}
		for _, candidate := range candidates {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Apply environment variable overrides AFTER loading from file.
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the whole configuration, including the pipeline section.
func (c *Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if c.Audio.SampleRate != 0 && (c.Audio.SampleRate < MinSampleRate || c.Audio.SampleRate > MaxSampleRate) {
		return fmt.Errorf("%w: audio.sample_rate %v outside [%d,%d]",
			ErrInvalidConfig, c.Audio.SampleRate, MinSampleRate, MaxSampleRate)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("%w: audio.frames_per_buffer %d outside (0,%d]",
			ErrInvalidConfig, c.Audio.FramesPerBuffer, MaxBufferFrames)
	}
	if c.Audio.InputDevice < MinDeviceID {
		return fmt.Errorf("%w: audio.input_device %d", ErrInvalidConfig, c.Audio.InputDevice)
	}
	if c.Audio.InputChannels <= 0 {
		return fmt.Errorf("%w: audio.input_channels must be positive", ErrInvalidConfig)
	}
	switch c.Recording.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: recording.bit_depth %d (want 16, 24 or 32)", ErrInvalidConfig, c.Recording.BitDepth)
	}
	if c.Transport.UDPEnabled {
		if c.Transport.UDPTargetAddress == "" {
			return fmt.Errorf("%w: transport.udp_target_address must be set when UDP is enabled", ErrInvalidConfig)
		}
		if c.Transport.UDPSendInterval <= 0 {
			return fmt.Errorf("%w: transport.udp_send_interval must be positive when UDP is enabled", ErrInvalidConfig)
		}
	}
	if c.Transport.WebSocketEnabled && c.Transport.FeedInterval <= 0 {
		return fmt.Errorf("%w: transport.feed_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// applyEnvOverrides layers ENV_* variables on top of the file values. Values
// that fail to parse are ignored.
func (cfg *Config) applyEnvOverrides() {
	// ENV_{...}
	// These are general overrides.

	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
		}
	}
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
	}
	if val, ok := os.LookupEnv("ENV_SOURCE"); ok {
		cfg.Audio.Source = val
	}

	// ENV_{...}
	// Pipeline parameters.

	if val, ok := os.LookupEnv("ENV_REPETITION_RATE"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Pipeline.RepetitionRate = f
		}
	}
	if val, ok := os.LookupEnv("ENV_WINDOW_LENGTH"); ok {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Pipeline.WindowLength = n
		}
	}
	if val, ok := os.LookupEnv("ENV_ALPHA"); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Pipeline.Alpha = f
		}
	}
	if val, ok := os.LookupEnv("ENV_RETENTION"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Pipeline.Retention = dur
		}
	}

	// ENV_UDP_{...} and ENV_WS_{...}
	// These are specific to the transport layer.

	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
		}
	}
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
	}
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
		}
	}
	if val, ok := os.LookupEnv("ENV_WS_ADDRESS"); ok {
		cfg.Transport.WebSocketEnabled = true
		cfg.Transport.WebSocketAddress = val
	}
}
