// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spectro/internal/config"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleBlock_Mono(t *testing.T) {
	t.Parallel()
	b := SampleBlock{Channels: 2, Samples: []float64{1, 3, 2, 4, -1, 1}}

	assert.Equal(t, 3, b.Frames())
	assert.Equal(t, []float64{1, 2, -1}, b.Mono(1))
	assert.Equal(t, []float64{3, 4, 1}, b.Mono(2))
	assert.Equal(t, []float64{2, 3, 0}, b.Mono(0))
	assert.Equal(t, []float64{2, 3, 0}, b.Mono(5), "out of range channel averages")

	mono := SampleBlock{Channels: 1, Samples: []float64{0.5, 0.25}}
	out := mono.Mono(0)
	out[0] = 9
	assert.Equal(t, 0.5, mono.Samples[0], "Mono must copy")
}

func TestMemorySource(t *testing.T) {
	t.Parallel()
	samples := make([]float64, 10)
	for i := range samples {
		samples[i] = float64(i)
	}
	src := NewMemorySource(samples, 8000, 1, 4)
	assert.False(t, src.Live())

	ctx := context.Background()
	var got []float64
	var seqs []uint64
	for {
		b, err := src.NextBlock(ctx)
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		got = append(got, b.Samples...)
		seqs = append(seqs, b.Seq)
	}
	assert.Equal(t, samples, got)
	assert.Equal(t, []uint64{1, 2, 3}, seqs)

	_, err := src.NextBlock(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.True(t, src.AsLive().Live())
}

func TestMemorySource_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemorySource([]float64{1}, 8000, 1, 1).NextBlock(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToneSource_Continuous(t *testing.T) {
	t.Parallel()
	const sr, freq = 8000.0, 440.0
	src := NewToneSource(freq, sr, 100, false)
	ctx := context.Background()

	var all []float64
	for range 3 {
		b, err := src.NextBlock(ctx)
		require.NoError(t, err)
		all = append(all, b.Samples...)
	}
	for i, v := range all {
		want := 0.5 * math.Sin(2*math.Pi*freq*float64(i)/sr)
		require.InDelta(t, want, v, 1e-9, "sample %d", i)
	}
}

func TestToneSource_Paced(t *testing.T) {
	t.Parallel()
	// 400 frames at 8 kHz is 50 ms per block.
	src := NewToneSource(100, 8000, 400, true)
	require.True(t, src.Live())

	start := time.Now()
	for range 2 {
		_, err := src.NextBlock(context.Background())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	src2 := NewToneSource(100, 8000, 8000, true)
	_, err := src2.NextBlock(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func writeTestWAV(t *testing.T, sr, bitDepth, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	enc := wav.NewEncoder(f, sr, bitDepth, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: sr, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
	return path
}

func TestFileSource(t *testing.T) {
	t.Parallel()
	data := []int{0, 16384, -16384, 32767, -32768, 8192}
	path := writeTestWAV(t, 22050, 16, 2, data)

	src, err := OpenFile(path, 2)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 22050.0, src.SampleRate())
	assert.Equal(t, 2, src.Channels())
	assert.Equal(t, 16, src.BitDepth())
	assert.False(t, src.Live())

	var got []float64
	for {
		b, err := src.NextBlock(context.Background())
		if errors.Is(err, ErrEndOfStream) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, 2, b.Channels)
		got = append(got, b.Samples...)
	}
	require.Len(t, got, len(data))
	for i, v := range data {
		assert.InDelta(t, float64(v)/32768, got[i], 1e-12)
	}
	assert.NoError(t, src.Close())
}

func TestOpenFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.wav"), 512)
	assert.ErrorIs(t, err, ErrFileFormat)
	assert.ErrorIs(t, err, os.ErrNotExist)

	junk := filepath.Join(t.TempDir(), "junk.wav")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not RIFF data"), 0o644))
	_, err = OpenFile(junk, 512)
	assert.ErrorIs(t, err, ErrFileFormat)
}

func TestSampleScale(t *testing.T) {
	t.Parallel()
	for _, depth := range []int{8, 16, 24, 32} {
		div, _, err := sampleScale(depth)
		require.NoError(t, err)
		assert.Equal(t, math.Pow(2, float64(depth-1)), div)
	}
	_, _, err := sampleScale(12)
	assert.Error(t, err)
}

func TestDefaultOpener(t *testing.T) {
	t.Parallel()
	opener := DefaultOpener{Audio: config.AudioConfig{FramesPerBuffer: 256}}

	src, err := opener.Open("tone:1000", 0)
	require.NoError(t, err)
	tone, ok := src.(*ToneSource)
	require.True(t, ok)
	assert.Equal(t, 1000.0, tone.Frequency)
	assert.Equal(t, float64(config.DefaultSampleRate), tone.SampleRate())
	assert.True(t, tone.Live())

	_, err = opener.Open("tone:abc", 44100)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
	_, err = opener.Open("device:x", 44100)
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	path := writeTestWAV(t, 8000, 16, 1, []int{1, 2, 3})
	src, err = opener.Open(path, 44100)
	require.NoError(t, err)
	assert.Equal(t, 8000.0, src.SampleRate(), "files keep their own rate")
	require.NoError(t, src.Close())

	_, err = OpenerFunc(func(string, float64) (Source, error) { return nil, ErrFileFormat }).Open("x", 1)
	assert.ErrorIs(t, err, ErrFileFormat)
}
