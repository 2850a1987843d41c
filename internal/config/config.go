package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Core configuration constants that define the boundaries and defaults
// for the spectrogram pipeline.
const (
	DefaultDeviceID        = MinDeviceID // System default input device
	DefaultSampleRate      = 44100       // CD-quality audio
	DefaultFramesPerBuffer = 512         // Balanced latency/performance
	DefaultChannels        = 1           // Mono capture
	DefaultChannel         = 0           // Average all channels

	DefaultRepetitionRate = 10.0            // Columns per second
	DefaultWindowLength   = 4096            // Samples per frame
	DefaultAlpha          = 0.25            // Tukey taper ratio
	DefaultRetention      = 5 * time.Minute // Ring and spectrogram history
	DefaultScale          = ScaleDecibel

	DefaultBitDepth  = 16 // Exported WAV files are int16 mono
	DefaultOutputDir = "./recordings"

	// Hardware and processing limits
	MinDeviceID     = -1     // -1 represents system default device
	MinSampleRate   = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate   = 192000 // Maximum supported sample rate (Hz)
	MaxBufferFrames = 8192   // Maximum frames per buffer
	MaxWindowLength = 1 << 18
)

// Display scales understood by the spectral transform.
const (
	ScaleDecibel = "db"
	ScaleLinear  = "linear"
)

// ErrInvalidConfig is returned, wrapped with the offending field, whenever a
// Pipeline fails validation. Start and Reconfigure leave state unchanged.
var ErrInvalidConfig = errors.New("invalid config")

// Pipeline holds the processing parameters the controller may swap at run
// time. It is always replaced as a whole value.
type Pipeline struct {
	RepetitionRate float64       `yaml:"repetition_rate"` // Spectrum columns per second.
	WindowLength   int           `yaml:"window_length"`   // Frame length in samples.
	Alpha          float64       `yaml:"alpha"`           // Taper ratio, 0 = rectangular, 1 = Hann.
	Retention      time.Duration `yaml:"retention"`       // Raw audio and column history.
	MaxColumns     int           `yaml:"max_columns"`     // Optional column cap (0 = age only).
	Scale          string        `yaml:"scale"`           // "db" or "linear".
	Channel        int           `yaml:"channel"`         // 1-based channel to analyse, 0 averages.
}

// DefaultPipeline returns the built-in processing parameters.
func DefaultPipeline() Pipeline {
	return Pipeline{
		RepetitionRate: DefaultRepetitionRate,
		WindowLength:   DefaultWindowLength,
		Alpha:          DefaultAlpha,
		Retention:      DefaultRetention,
		Scale:          DefaultScale,
		Channel:        DefaultChannel,
	}
}

// Validate checks the processing parameters.
func (p Pipeline) Validate() error {
	switch {
	case p.WindowLength <= 0:
		return fmt.Errorf("%w: window_length must be positive, got %d", ErrInvalidConfig, p.WindowLength)
	case p.WindowLength > MaxWindowLength:
		return fmt.Errorf("%w: window_length %d exceeds %d", ErrInvalidConfig, p.WindowLength, MaxWindowLength)
	case !(p.RepetitionRate > 0) || math.IsInf(p.RepetitionRate, 0):
		return fmt.Errorf("%w: repetition_rate must be positive, got %v", ErrInvalidConfig, p.RepetitionRate)
	case !(p.Alpha >= 0 && p.Alpha <= 1):
		return fmt.Errorf("%w: alpha must be within [0,1], got %v", ErrInvalidConfig, p.Alpha)
	case p.Retention <= 0:
		return fmt.Errorf("%w: retention must be positive, got %s", ErrInvalidConfig, p.Retention)
	case p.MaxColumns < 0:
		return fmt.Errorf("%w: max_columns must not be negative, got %d", ErrInvalidConfig, p.MaxColumns)
	case p.Channel < 0:
		return fmt.Errorf("%w: channel must not be negative, got %d", ErrInvalidConfig, p.Channel)
	}

	switch strings.ToLower(p.Scale) {
	case "", ScaleDecibel, ScaleLinear:
	default:
		return fmt.Errorf("%w: unknown scale %q", ErrInvalidConfig, p.Scale)
	}
	return nil
}

// HopSize returns the number of new samples consumed between two frames at
// the given sample rate. Frames overlap when HopSize < WindowLength.
func (p Pipeline) HopSize(sampleRate float64) int {
	hop := int(math.Round(sampleRate / p.RepetitionRate))
	if hop < 1 {
		return 1
	}
	return hop
}

// RetentionSamples converts the retention depth to a sample count.
func (p Pipeline) RetentionSamples(sampleRate float64) int {
	return int(math.Ceil(p.Retention.Seconds() * sampleRate))
}
