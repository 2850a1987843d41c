// SPDX-License-Identifier: MIT
package frame

import (
	"math"
	"testing"

	"spectro/internal/config"
	"spectro/internal/ring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ramp(from, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(from + i)
	}
	return out
}

func drain(e *Extractor, r Reader) []Frame {
	var frames []Frame
	for {
		f, ok := e.Next(r)
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestTaper(t *testing.T) {
	t.Parallel()

	t.Run("alpha 0 is rectangular", func(t *testing.T) {
		for _, v := range NewTaper(64, 0).Coeffs {
			require.Equal(t, 1.0, v)
		}
	})

	t.Run("alpha 1 is Hann", func(t *testing.T) {
		const n = 65
		tp := NewTaper(n, 1)
		assert.InDelta(t, 0, tp.Coeffs[0], 1e-12)
		assert.InDelta(t, 0, tp.Coeffs[n-1], 1e-12)
		assert.InDelta(t, 1, tp.Coeffs[n/2], 1e-12)
		for i, v := range tp.Coeffs {
			want := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
			require.InDelta(t, want, v, 1e-12, "coefficient %d", i)
		}
	})

	t.Run("alpha 0.25 is flat in the middle", func(t *testing.T) {
		tp := NewTaper(1024, 0.25)
		assert.InDelta(t, 0, tp.Coeffs[0], 1e-12)
		for i := 200; i < 824; i++ {
			require.Equal(t, 1.0, tp.Coeffs[i], "coefficient %d", i)
		}
		for i := range 100 {
			require.InDelta(t, tp.Coeffs[i], tp.Coeffs[1023-i], 1e-12, "symmetry at %d", i)
		}
	})

	t.Run("length 1", func(t *testing.T) {
		assert.Equal(t, []float64{1}, NewTaper(1, 1).Coeffs)
	})

	tp := NewTaper(8, 0.5)
	assert.True(t, tp.Matches(8, 0.5))
	assert.False(t, tp.Matches(8, 0.25))
	assert.False(t, tp.Matches(16, 0.5))
}

func TestNewExtractor_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		sr   float64
		p    Params
	}{
		{"zero window", 8000, Params{WindowLength: 0, RepetitionRate: 10}},
		{"zero rate", 8000, Params{WindowLength: 16, RepetitionRate: 0}},
		{"alpha above 1", 8000, Params{WindowLength: 16, RepetitionRate: 10, Alpha: 1.1}},
		{"zero sample rate", 0, Params{WindowLength: 16, RepetitionRate: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExtractor(tt.sr, tt.p)
			assert.ErrorIs(t, err, config.ErrInvalidConfig)
		})
	}
}

func TestExtractor_OverlappingFrames(t *testing.T) {
	t.Parallel()
	// 100 Hz sample rate at 25 frames/s gives a hop of 4 over an 8 sample window.
	e, err := NewExtractor(100, Params{WindowLength: 8, RepetitionRate: 25})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Hop())

	r := ring.New(64)
	r.Write(ramp(0, 20))

	frames := drain(e, r)
	require.Len(t, frames, 4)
	for k, f := range frames {
		assert.Equal(t, int64(4*k), f.Start)
		assert.InDelta(t, float64(4*k)/100, f.Time, 1e-12)
		assert.Equal(t, ramp(4*k, 8), f.Samples)
	}

	// 20 samples hold frames at 0, 4, 8 and 12; the one at 16 needs 24.
	r.Write(ramp(20, 3))
	_, ok := e.Next(r)
	assert.False(t, ok, "no frame until the window is complete")

	r.Write(ramp(23, 1))
	f, ok := e.Next(r)
	require.True(t, ok)
	assert.Equal(t, int64(16), f.Start)
	assert.Equal(t, ramp(16, 8), f.Samples)
}

func TestExtractor_NoZeroPadAtEnd(t *testing.T) {
	t.Parallel()
	e, err := NewExtractor(1000, Params{WindowLength: 10, RepetitionRate: 100})
	require.NoError(t, err)

	r := ring.New(100)
	r.Write(ramp(1, 25))

	frames := drain(e, r)
	require.Len(t, frames, 2)
	for _, f := range frames {
		for _, v := range f.Samples {
			assert.NotZero(t, v, "frames only carry real samples")
		}
	}
}

func TestExtractor_HopLongerThanWindow(t *testing.T) {
	t.Parallel()
	// Hop 10 over a window of 4 skips 6 samples between frames.
	e, err := NewExtractor(100, Params{WindowLength: 4, RepetitionRate: 10})
	require.NoError(t, err)

	r := ring.New(100)
	r.Write(ramp(0, 35))

	frames := drain(e, r)
	require.Len(t, frames, 4)
	for k, f := range frames {
		assert.Equal(t, int64(10*k), f.Start)
		assert.Equal(t, ramp(10*k, 4), f.Samples)
	}
}

func TestExtractor_GapAfterOverflow(t *testing.T) {
	t.Parallel()
	e, err := NewExtractor(100, Params{WindowLength: 4, RepetitionRate: 50})
	require.NoError(t, err)

	r := ring.New(8)
	r.Write(ramp(0, 6))
	frames := drain(e, r)
	require.Len(t, frames, 2) // starts 0 and 2

	// The extractor holds 4,5 pending. Overflow the ring past them.
	r.Write(ramp(6, 20))

	frames = drain(e, r)
	require.NotEmpty(t, frames)
	assert.Equal(t, int64(18), frames[0].Start, "next frame starts at the oldest retained sample")
	assert.Equal(t, ramp(18, 4), frames[0].Samples)
	assert.Equal(t, int64(20), frames[1].Start)

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Gaps)
	assert.Equal(t, int64(12), st.LostSamples)
}

func TestExtractor_ReconfigureWindow(t *testing.T) {
	t.Parallel()
	e, err := NewExtractor(100, Params{WindowLength: 8, RepetitionRate: 25})
	require.NoError(t, err)

	r := ring.New(128)
	r.Write(ramp(0, 12))
	first := drain(e, r)
	require.Len(t, first, 2)
	require.Len(t, first[1].Samples, 8)

	require.NoError(t, e.Reconfigure(Params{WindowLength: 16, RepetitionRate: 25, Alpha: 1}))
	assert.Equal(t, 16, e.Taper().Length)
	assert.Len(t, first[1].Samples, 8, "frames already emitted keep their length")

	r.Write(ramp(12, 20))
	next := drain(e, r)
	require.NotEmpty(t, next)
	assert.Equal(t, int64(8), next[0].Start, "pending samples are kept across the change")
	assert.Len(t, next[0].Samples, 16)
	assert.InDelta(t, 0, next[0].Samples[0], 1e-12, "new taper applied")

	assert.ErrorIs(t, e.Reconfigure(Params{WindowLength: -1, RepetitionRate: 25}), config.ErrInvalidConfig)
	assert.Equal(t, 16, e.Params().WindowLength, "rejected params leave the extractor unchanged")
}

func TestExtractor_ReconfigureRate(t *testing.T) {
	t.Parallel()
	e, err := NewExtractor(100, Params{WindowLength: 4, RepetitionRate: 50})
	require.NoError(t, err)

	r := ring.New(128)
	r.Write(ramp(0, 4))
	frames := drain(e, r)
	require.Len(t, frames, 1)

	require.NoError(t, e.Reconfigure(Params{WindowLength: 4, RepetitionRate: 25}))
	assert.Equal(t, 4, e.Hop())

	r.Write(ramp(4, 12))
	frames = drain(e, r)
	require.Len(t, frames, 3)
	assert.Equal(t, []int64{4, 8, 12}, []int64{frames[0].Start, frames[1].Start, frames[2].Start})
}

func TestParamsFrom(t *testing.T) {
	t.Parallel()
	p := ParamsFrom(config.DefaultPipeline())
	assert.Equal(t, config.DefaultWindowLength, p.WindowLength)
	assert.Equal(t, config.DefaultRepetitionRate, p.RepetitionRate)
	assert.Equal(t, config.DefaultAlpha, p.Alpha)
}
