// SPDX-License-Identifier: MIT
package record

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"spectro/internal/ring"
	"spectro/internal/spectrogram"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 100.0

// fixture holds 10 s of audio in a 5 s ring and one 8-bin column per second.
func fixture(t *testing.T) (*Recorder, *ring.Buffer, *spectrogram.Buffer) {
	t.Helper()
	r := ring.New(500)
	samples := make([]float64, 1000)
	for i := range samples {
		samples[i] = float64(i) / 1000
	}
	r.Write(samples)

	cols, err := spectrogram.New(spectrogram.Limits{MaxColumns: 6})
	require.NoError(t, err)
	for s := range 10 {
		mags := make([]float64, 9)
		for k := range mags {
			mags[k] = float64(s*100 + k)
		}
		require.NoError(t, cols.Push(spectrogram.Column{Time: float64(s), BinWidth: 10, Magnitudes: mags}))
	}
	return New(r, cols, testRate), r, cols
}

func TestRange_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Range{1, 2}.Validate())
	assert.NoError(t, Range{2, 2}.Validate())
	assert.ErrorIs(t, Range{3, 2}.Validate(), ErrInvalidRange)
	assert.ErrorIs(t, Range{-1, 2}.Validate(), ErrInvalidRange)
}

func TestExportAudio(t *testing.T) {
	t.Parallel()
	rec, _, _ := fixture(t)

	a, err := rec.ExportAudio(Range{6, 7})
	require.NoError(t, err)
	assert.False(t, a.Partial)
	assert.Equal(t, 6.0, a.Start)
	require.Len(t, a.Samples, 100)
	assert.InDelta(t, 0.6, a.Samples[0], 1e-12)
	assert.Equal(t, time.Second, a.Duration())

	_, err = rec.ExportAudio(Range{7, 6})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestExportAudio_Partial(t *testing.T) {
	t.Parallel()
	rec, _, _ := fixture(t)

	// Only the last 5 s are retained.
	a, err := rec.ExportAudio(Range{2, 8})
	require.NoError(t, err)
	assert.True(t, a.Partial)
	assert.Equal(t, 5.0, a.Start)
	assert.Len(t, a.Samples, 300)

	a, err = rec.ExportAudio(Range{0, 1})
	require.NoError(t, err)
	assert.True(t, a.Partial)
	assert.Empty(t, a.Samples)
}

func TestExportSpectrogram(t *testing.T) {
	t.Parallel()
	rec, _, _ := fixture(t)

	s, err := rec.ExportSpectrogram(Range{5, 7}, FreqRange{})
	require.NoError(t, err)
	assert.False(t, s.Partial)
	assert.Equal(t, []float64{5, 6, 7}, s.Times)
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 50, 60, 70, 80}, s.Freqs)
	require.Len(t, s.Magnitudes, 3)
	assert.Equal(t, 600.0, s.Magnitudes[1][0])

	s, err = rec.ExportSpectrogram(Range{0, 9}, FreqRange{})
	require.NoError(t, err)
	assert.True(t, s.Partial)
	assert.Equal(t, []float64{4, 5, 6, 7, 8, 9}, s.Times)

	s, err = rec.ExportSpectrogram(Range{20, 30}, FreqRange{})
	require.NoError(t, err)
	assert.Empty(t, s.Times)
	assert.False(t, s.Partial)
}

func TestExportSpectrogram_FreqTrim(t *testing.T) {
	t.Parallel()
	rec, _, _ := fixture(t)

	s, err := rec.ExportSpectrogram(Range{9, 9}, FreqRange{Min: 15, Max: 52})
	require.NoError(t, err)
	assert.Equal(t, []float64{20, 30, 40, 50}, s.Freqs)
	assert.Equal(t, [][]float64{{902, 903, 904, 905}}, s.Magnitudes)

	s, err = rec.ExportSpectrogram(Range{9, 9}, FreqRange{Min: 500})
	require.NoError(t, err)
	assert.Empty(t, s.Freqs)

	_, err = rec.ExportSpectrogram(Range{9, 9}, FreqRange{Min: 50, Max: 10})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestExportSpectrogram_SkipsMismatchedColumns(t *testing.T) {
	t.Parallel()
	rec, _, cols := fixture(t)
	// A window change halves the bin count.
	require.NoError(t, cols.Push(spectrogram.Column{Time: 10, BinWidth: 20, Magnitudes: make([]float64, 5)}))

	s, err := rec.ExportSpectrogram(Range{8, 10}, FreqRange{})
	require.NoError(t, err)
	assert.Equal(t, []float64{10}, s.Times)
	assert.Equal(t, 2, s.Skipped)
	assert.Equal(t, []float64{0, 20, 40, 60, 80}, s.Freqs)
}

type memSinks struct {
	audio []AudioExport
	specs []SpectrogramExport
	fail  error
}

func (m *memSinks) WriteAudio(name string, a AudioExport) (string, error) {
	m.audio = append(m.audio, a)
	return "mem://" + name + ".wav", m.fail
}

func (m *memSinks) WriteSpectrogram(name string, s SpectrogramExport) (string, error) {
	m.specs = append(m.specs, s)
	return "mem://" + name + ".csv", m.fail
}

func TestSave(t *testing.T) {
	t.Parallel()
	rec, _, _ := fixture(t)
	sinks := &memSinks{}

	sum, err := rec.Save(Request{Name: "both", Audio: true, Spectrogram: true}, Sinks{sinks, sinks})
	require.NoError(t, err)
	assert.Equal(t, Range{4, 10}, sum.Range, "whole history when no range is given")
	assert.Equal(t, "mem://both.wav", sum.AudioPath)
	assert.Equal(t, "mem://both.csv", sum.SpectrogramPath)
	assert.Equal(t, 500, sum.AudioSamples)
	assert.Equal(t, 6, sum.Columns)
	assert.True(t, sum.Partial, "audio starts at 5 s, after the oldest column")

	sum, err = rec.Save(Request{Name: "spec", Range: &Range{6, 8}, Spectrogram: true}, Sinks{Spectrogram: sinks})
	require.NoError(t, err)
	assert.Empty(t, sum.AudioPath)
	assert.Equal(t, 3, sum.Columns)
	assert.False(t, sum.Partial)

	_, err = rec.Save(Request{}, Sinks{sinks, sinks})
	assert.Error(t, err)
	_, err = rec.Save(Request{Audio: true}, Sinks{})
	assert.Error(t, err)
	_, err = rec.Save(Request{Audio: true, Range: &Range{2, 1}}, Sinks{Audio: sinks})
	assert.ErrorIs(t, err, ErrInvalidRange)

	failing := &memSinks{fail: errors.New("disk full")}
	_, err = rec.Save(Request{Audio: true}, Sinks{Audio: failing})
	assert.ErrorContains(t, err, "disk full")
}

func TestSave_NothingRecorded(t *testing.T) {
	t.Parallel()
	cols, err := spectrogram.New(spectrogram.Limits{MaxColumns: 1})
	require.NoError(t, err)
	rec := New(ring.New(10), cols, testRate)

	_, ok := rec.Available()
	assert.False(t, ok)
	_, err = rec.Save(Request{Audio: true}, Sinks{Audio: &memSinks{}})
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestWAVSink(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "out")
	a := AudioExport{SampleRate: 8000, Samples: []float64{0, 0.5, -0.5, 1, -1, 2}}

	path, err := WAVSink{Dir: dir}.WriteAudio("clip", a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.wav"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, uint16(16), dec.BitDepth)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint32(8000), dec.SampleRate)
	assert.Equal(t, []int{0, 16384, -16384, 32767, -32767, 32767}, buf.Data)

	_, err = WAVSink{Dir: dir, BitDepth: 12}.WriteAudio("bad", a)
	assert.Error(t, err)
}

func TestCSVSink(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := SpectrogramExport{
		Times:      []float64{0.5, 0.75},
		Freqs:      []float64{0, 21.5},
		Magnitudes: [][]float64{{-200, -3.5}, {-100, 0.25}},
	}

	path, err := CSVSink{Dir: dir}.WriteSpectrogram("grid", s)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"time_s", "0", "21.5"}, rows[0])
	assert.Equal(t, []string{"0.500000", "-200", "-3.5"}, rows[1])
	assert.Equal(t, "0.750000", rows[2][0])
	assert.True(t, strings.HasSuffix(path, "grid.csv"))
}

func TestDefaultName(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "spectro-20240309-140507", DefaultName(ts))
}
