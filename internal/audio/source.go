// SPDX-License-Identifier: MIT
/*
Package audio provides the acquisition side of the spectrogram pipeline:
- SampleBlock, an immutable run of interleaved, normalized samples
- Source, the contract for live devices and file-backed replay
- PortAudio, WAV file, in-memory and synthetic tone implementations

Every Source yields blocks through NextBlock and reports ErrEndOfStream when
a finite source is exhausted. Live sources are paced by the hardware clock;
replay sources may be read faster than real time.
*/
package audio

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"spectro/internal/config"
)

var (
	// ErrDeviceUnavailable is returned when a capture device cannot be opened.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")
	// ErrFileFormat is returned when a replay file is missing or not decodable.
	ErrFileFormat = errors.New("audio: unsupported or unreadable file")
	// ErrEndOfStream marks the end of a finite source. It is not a failure.
	ErrEndOfStream = errors.New("audio: end of stream")
)

// SampleBlock is an ordered run of interleaved samples normalized to [-1, 1).
// Blocks are never modified after a Source hands them out.
type SampleBlock struct {
	Seq        uint64  // Monotonically increasing per source.
	SampleRate float64 // Hz.
	Channels   int     // Interleaving factor of Samples.
	Samples    []float64
}

// Frames returns the number of sample frames (samples per channel).
func (b SampleBlock) Frames() int {
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Mono extracts one channel (1-based) or, for channel 0, the average of all
// channels. A channel beyond the block's count falls back to the average.
func (b SampleBlock) Mono(channel int) []float64 {
	if b.Channels <= 1 {
		out := make([]float64, len(b.Samples))
		copy(out, b.Samples)
		return out
	}

	frames := b.Frames()
	out := make([]float64, frames)
	if channel >= 1 && channel <= b.Channels {
		for i := range frames {
			out[i] = b.Samples[i*b.Channels+channel-1]
		}
		return out
	}

	scale := 1 / float64(b.Channels)
	for i := range frames {
		var sum float64
		for c := range b.Channels {
			sum += b.Samples[i*b.Channels+c]
		}
		out[i] = sum * scale
	}
	return out
}

// Source produces sample blocks at a declared sample rate.
type Source interface {
	SampleRate() float64
	Channels() int
	// Live reports whether blocks arrive at the pace of a hardware clock.
	// Replay sources return false and are throttled by the consumer instead.
	Live() bool
	// NextBlock blocks until a block is ready, ctx is done or the stream ends
	// (ErrEndOfStream).
	NextBlock(ctx context.Context) (SampleBlock, error)
	Close() error
}

// Opener opens a Source for a device selector or file path.
type Opener interface {
	Open(target string, sampleRate float64) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(target string, sampleRate float64) (Source, error)

// Open calls f(target, sampleRate).
func (f OpenerFunc) Open(target string, sampleRate float64) (Source, error) {
	return f(target, sampleRate)
}

// DefaultOpener understands the following targets:
//
//	""            the configured input device
//	"device:N"    PortAudio device N (-1 for the system default)
//	"tone:HZ"     an endless sine at HZ, paced in real time
//	anything else a WAV file path
type DefaultOpener struct {
	Audio config.AudioConfig
}

// Open implements Opener.
func (o DefaultOpener) Open(target string, sampleRate float64) (Source, error) {
	framesPerBuffer := o.Audio.FramesPerBuffer
	if framesPerBuffer <= 0 {
		framesPerBuffer = config.DefaultFramesPerBuffer
	}

	switch {
	case target == "":
		return OpenDevice(o.deviceConfig(o.Audio.InputDevice, sampleRate, framesPerBuffer))

	case strings.HasPrefix(target, "device:"):
		id, err := strconv.Atoi(strings.TrimPrefix(target, "device:"))
		if err != nil {
			return nil, fmt.Errorf("%w: bad device selector %q", ErrDeviceUnavailable, target)
		}
		return OpenDevice(o.deviceConfig(id, sampleRate, framesPerBuffer))

	case strings.HasPrefix(target, "tone:"):
		freq, err := strconv.ParseFloat(strings.TrimPrefix(target, "tone:"), 64)
		if err != nil || freq <= 0 {
			return nil, fmt.Errorf("%w: bad tone selector %q", ErrDeviceUnavailable, target)
		}
		if sampleRate <= 0 {
			sampleRate = config.DefaultSampleRate
		}
		return NewToneSource(freq, sampleRate, framesPerBuffer, true), nil

	default:
		return OpenFile(target, framesPerBuffer)
	}
}

func (o DefaultOpener) deviceConfig(id int, sampleRate float64, framesPerBuffer int) DeviceConfig {
	channels := o.Audio.InputChannels
	if channels <= 0 {
		channels = config.DefaultChannels
	}
	return DeviceConfig{
		DeviceID:        id,
		SampleRate:      sampleRate,
		Channels:        channels,
		FramesPerBuffer: framesPerBuffer,
		LowLatency:      o.Audio.LowLatency,
	}
}
