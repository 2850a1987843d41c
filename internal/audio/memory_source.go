// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"math"
	"time"
)

// MemorySource replays samples held in memory. It is used for tests and for
// re-analysing exported audio.
type MemorySource struct {
	samples    []float64 // interleaved
	sampleRate float64
	channels   int
	blockSize  int // frames per block
	live       bool

	pos int
	seq uint64
}

// NewMemorySource replays interleaved samples in blocks of blockFrames frames.
func NewMemorySource(samples []float64, sampleRate float64, channels, blockFrames int) *MemorySource {
	if channels <= 0 {
		channels = 1
	}
	if blockFrames <= 0 {
		blockFrames = 512
	}
	return &MemorySource{
		samples:    samples,
		sampleRate: sampleRate,
		channels:   channels,
		blockSize:  blockFrames,
	}
}

// AsLive marks the source as live so consumers apply the drop-oldest policy
// instead of throttling it.
func (s *MemorySource) AsLive() *MemorySource {
	s.live = true
	return s
}

// NextBlock implements Source.
func (s *MemorySource) NextBlock(ctx context.Context) (SampleBlock, error) {
	if err := ctx.Err(); err != nil {
		return SampleBlock{}, err
	}
	if s.pos >= len(s.samples) {
		return SampleBlock{}, ErrEndOfStream
	}

	end := min(s.pos+s.blockSize*s.channels, len(s.samples))
	out := make([]float64, end-s.pos)
	copy(out, s.samples[s.pos:end])
	s.pos = end

	s.seq++
	return SampleBlock{Seq: s.seq, SampleRate: s.sampleRate, Channels: s.channels, Samples: out}, nil
}

func (s *MemorySource) SampleRate() float64 { return s.sampleRate }
func (s *MemorySource) Channels() int       { return s.channels }
func (s *MemorySource) Live() bool          { return s.live }
func (s *MemorySource) Close() error        { return nil }

// ToneSource synthesizes an endless mono sine. When paced it behaves like a
// live device and releases each block no earlier than its capture time.
type ToneSource struct {
	Frequency  float64
	Amplitude  float64
	sampleRate float64
	blockSize  int
	paced      bool

	start time.Time
	phase float64
	seq   uint64
}

// NewToneSource creates a tone at freq Hz with amplitude 0.5.
func NewToneSource(freq, sampleRate float64, blockFrames int, paced bool) *ToneSource {
	if blockFrames <= 0 {
		blockFrames = 512
	}
	return &ToneSource{
		Frequency:  freq,
		Amplitude:  0.5,
		sampleRate: sampleRate,
		blockSize:  blockFrames,
		paced:      paced,
	}
}

// NextBlock implements Source.
func (s *ToneSource) NextBlock(ctx context.Context) (SampleBlock, error) {
	if err := ctx.Err(); err != nil {
		return SampleBlock{}, err
	}

	if s.paced {
		if s.start.IsZero() {
			s.start = time.Now()
		}
		due := s.start.Add(time.Duration(float64(s.seq+1) * float64(s.blockSize) / s.sampleRate * float64(time.Second)))
		if wait := time.Until(due); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return SampleBlock{}, ctx.Err()
			}
		}
	}

	step := 2 * math.Pi * s.Frequency / s.sampleRate
	samples := make([]float64, s.blockSize)
	for i := range samples {
		samples[i] = s.Amplitude * math.Sin(s.phase)
		s.phase += step
	}
	s.phase = math.Mod(s.phase, 2*math.Pi)

	s.seq++
	return SampleBlock{Seq: s.seq, SampleRate: s.sampleRate, Channels: 1, Samples: samples}, nil
}

func (s *ToneSource) SampleRate() float64 { return s.sampleRate }
func (s *ToneSource) Channels() int       { return 1 }
func (s *ToneSource) Live() bool          { return s.paced }
func (s *ToneSource) Close() error        { return nil }
