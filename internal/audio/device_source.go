// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	applog "spectro/internal/log"

	"github.com/gordonklaus/portaudio"
)

// blockQueueDepth bounds how many captured blocks may wait for the capture
// goroutine before the callback starts dropping them.
const blockQueueDepth = 64

// DeviceConfig selects and shapes a PortAudio input stream.
type DeviceConfig struct {
	DeviceID        int     // -1 for the system default input
	SampleRate      float64 // 0 uses the device default
	Channels        int
	FramesPerBuffer int
	LowLatency      bool
}

// DeviceSource captures from a PortAudio input device. The PortAudio callback
// copies each buffer into a fresh block and hands it over without blocking.
type DeviceSource struct {
	stream     *portaudio.Stream
	sampleRate float64
	channels   int

	blocks  chan SampleBlock
	seq     uint64
	dropped atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenDevice opens and starts an input stream. Failures wrap ErrDeviceUnavailable.
func OpenDevice(cfg DeviceConfig) (*DeviceSource, error) {
	device, err := InputDevice(cfg.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}

	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.Channels > device.MaxInputChannels {
		cfg.Channels = device.MaxInputChannels
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = device.DefaultSampleRate
	}

	latency := device.DefaultHighInputLatency
	if cfg.LowLatency {
		latency = device.DefaultLowInputLatency
	}

	s := &DeviceSource{
		sampleRate: sampleRate,
		channels:   cfg.Channels,
		blocks:     make(chan SampleBlock, blockQueueDepth),
		closed:     make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: cfg.Channels,
			Device:   device,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: cfg.FramesPerBuffer,
		SampleRate:      sampleRate,
	}

	stream, err := portaudio.OpenStream(params, s.processInputStream)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDeviceUnavailable, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("%w: start %s: %w", ErrDeviceUnavailable, device.Name, err)
	}
	s.stream = stream

	applog.Infof("Audio: capturing from %q (%d ch @ %.0f Hz, latency %s)",
		device.Name, cfg.Channels, sampleRate, latency.Round(time.Microsecond))
	return s, nil
}

// processInputStream runs on the PortAudio thread. It must not block, so a
// full queue drops the block and counts it.
func (s *DeviceSource) processInputStream(in []float32) {
	samples := make([]float64, len(in))
	for i, v := range in {
		samples[i] = float64(v)
	}

	s.seq++
	block := SampleBlock{
		Seq:        s.seq,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Samples:    samples,
	}

	select {
	case s.blocks <- block:
	default:
		s.dropped.Add(1)
	}
}

// NextBlock implements Source.
func (s *DeviceSource) NextBlock(ctx context.Context) (SampleBlock, error) {
	select {
	case b := <-s.blocks:
		return b, nil
	case <-ctx.Done():
		return SampleBlock{}, ctx.Err()
	case <-s.closed:
		return SampleBlock{}, ErrEndOfStream
	}
}

// Dropped reports how many blocks the callback discarded because the
// capture goroutine fell behind.
func (s *DeviceSource) Dropped() uint64 { return s.dropped.Load() }

func (s *DeviceSource) SampleRate() float64 { return s.sampleRate }
func (s *DeviceSource) Channels() int       { return s.channels }
func (s *DeviceSource) Live() bool          { return true }

// Close stops and closes the stream. It is idempotent.
func (s *DeviceSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.stream == nil {
			return
		}
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if n := s.dropped.Load(); n > 0 {
			applog.Warnf("Audio: %d capture blocks dropped", n)
		}
	})
	return err
}
