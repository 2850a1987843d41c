// SPDX-License-Identifier: MIT

// Package record exports a time range of raw audio and spectrogram columns.
//
// Raw audio comes from the ring buffer, so audio retention must be at least
// as long as any range a caller wants back. A range reaching past retained
// history returns what is left and sets Partial; it is never an error.
package record

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"spectro/internal/ring"
	"spectro/internal/spectrogram"
)

// ErrInvalidRange is returned for a range whose start is after its end.
var ErrInvalidRange = errors.New("record: invalid range")

// Range is an inclusive span in seconds since session start.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Validate rejects inverted, negative or non-finite ranges.
func (r Range) Validate() error {
	if math.IsNaN(r.Start) || math.IsNaN(r.End) || math.IsInf(r.Start, 0) || math.IsInf(r.End, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRange, r)
	}
	if r.Start < 0 || r.Start > r.End {
		return fmt.Errorf("%w: start %.3f, end %.3f", ErrInvalidRange, r.Start, r.End)
	}
	return nil
}

// FreqRange trims exported bins to [Min, Max] Hz. A zero Max means up to
// Nyquist.
type FreqRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (f FreqRange) validate() error {
	if f.Min < 0 || f.Max < 0 || (f.Max > 0 && f.Min > f.Max) {
		return fmt.Errorf("%w: frequency range %.1f-%.1f Hz", ErrInvalidRange, f.Min, f.Max)
	}
	return nil
}

// AudioHistory is the read side of the raw audio ring.
type AudioHistory interface {
	Snapshot(from, to int64) ring.Segment
	Oldest() int64
	Written() int64
}

// ColumnHistory is the read side of the spectrogram buffer.
type ColumnHistory interface {
	RangeQuery(start, end float64) spectrogram.Result
	Span() (oldest, newest float64, ok bool)
}

// AudioExport is mono audio for a range.
type AudioExport struct {
	SampleRate float64
	Start      float64 // Seconds of the first sample.
	Samples    []float64
	Partial    bool
}

// Duration of the exported audio.
func (a AudioExport) Duration() time.Duration {
	if a.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(a.Samples)) / a.SampleRate * float64(time.Second))
}

// SpectrogramExport is a time-by-frequency magnitude matrix.
type SpectrogramExport struct {
	Times      []float64
	Freqs      []float64
	Magnitudes [][]float64 // [time][bin]
	Partial    bool
	// Skipped counts columns left out because their bin count differs from
	// the newest column in range, which happens after a window change.
	Skipped int
}

// Recorder reads history for export. It never writes to either buffer.
type Recorder struct {
	audio      AudioHistory
	columns    ColumnHistory
	sampleRate float64
}

// New returns a recorder over a session's buffers.
func New(audio AudioHistory, columns ColumnHistory, sampleRate float64) *Recorder {
	return &Recorder{audio: audio, columns: columns, sampleRate: sampleRate}
}

// SampleRate of the recorded session.
func (r *Recorder) SampleRate() float64 { return r.sampleRate }

// Available returns the span covered by both audio and columns. ok is false
// when nothing has been recorded.
func (r *Recorder) Available() (Range, bool) {
	written := r.audio.Written()
	if written == 0 {
		return Range{}, false
	}
	span := Range{
		Start: float64(r.audio.Oldest()) / r.sampleRate,
		End:   float64(written) / r.sampleRate,
	}
	if oldest, newest, ok := r.columns.Span(); ok {
		span.Start = min(span.Start, oldest)
		span.End = max(span.End, newest)
	}
	return span, true
}

// ExportAudio returns the retained samples in rng.
func (r *Recorder) ExportAudio(rng Range) (AudioExport, error) {
	if err := rng.Validate(); err != nil {
		return AudioExport{}, err
	}

	from := int64(math.Round(rng.Start * r.sampleRate))
	to := int64(math.Round(rng.End * r.sampleRate))
	seg := r.audio.Snapshot(from, to)

	return AudioExport{
		SampleRate: r.sampleRate,
		Start:      float64(seg.Start) / r.sampleRate,
		Samples:    seg.Samples,
		Partial:    from < r.audio.Oldest() || to > r.audio.Written(),
	}, nil
}

// ExportSpectrogram returns the columns in rng, trimmed to freq.
func (r *Recorder) ExportSpectrogram(rng Range, freq FreqRange) (SpectrogramExport, error) {
	if err := rng.Validate(); err != nil {
		return SpectrogramExport{}, err
	}
	if err := freq.validate(); err != nil {
		return SpectrogramExport{}, err
	}

	res := r.columns.RangeQuery(rng.Start, rng.End)
	out := SpectrogramExport{Partial: res.Partial}
	if len(res.Columns) == 0 {
		return out, nil
	}

	ref := res.Columns[len(res.Columns)-1]
	bins := len(ref.Magnitudes)
	lo, hi := binRange(bins, ref.BinWidth, freq)
	for k := lo; k < hi; k++ {
		out.Freqs = append(out.Freqs, float64(k)*ref.BinWidth)
	}

	for _, c := range res.Columns {
		if len(c.Magnitudes) != bins {
			out.Skipped++
			continue
		}
		out.Times = append(out.Times, c.Time)
		out.Magnitudes = append(out.Magnitudes, slices.Clone(c.Magnitudes[lo:hi]))
	}
	return out, nil
}

// binRange maps a frequency range to the half-open bin interval [lo, hi).
func binRange(bins int, binWidth float64, f FreqRange) (lo, hi int) {
	hi = bins
	if binWidth <= 0 {
		return 0, bins
	}
	lo = min(bins, int(math.Ceil(f.Min/binWidth)))
	if f.Max > 0 {
		hi = min(bins, int(math.Floor(f.Max/binWidth))+1)
	}
	return lo, max(lo, hi)
}

// Request selects what Save exports. A nil Range exports all history.
type Request struct {
	Name        string
	Range       *Range
	Audio       bool
	Spectrogram bool
	Freq        FreqRange
}

// Sinks receive the exported data.
type Sinks struct {
	Audio       AudioSink
	Spectrogram SpectrogramSink
}

// Summary describes what Save wrote.
type Summary struct {
	Range           Range
	AudioPath       string
	AudioSamples    int
	SpectrogramPath string
	Columns         int
	Skipped         int
	Partial         bool
}

// Save exports audio, columns or both and hands them to the sinks.
func (r *Recorder) Save(req Request, sinks Sinks) (Summary, error) {
	if !req.Audio && !req.Spectrogram {
		return Summary{}, errors.New("record: nothing selected for export")
	}
	if req.Audio && sinks.Audio == nil {
		return Summary{}, errors.New("record: no audio sink")
	}
	if req.Spectrogram && sinks.Spectrogram == nil {
		return Summary{}, errors.New("record: no spectrogram sink")
	}

	rng, err := r.resolve(req.Range)
	if err != nil {
		return Summary{}, err
	}
	name := req.Name
	if name == "" {
		name = DefaultName(time.Now())
	}

	sum := Summary{Range: rng}
	if req.Audio {
		a, err := r.ExportAudio(rng)
		if err != nil {
			return sum, err
		}
		if sum.AudioPath, err = sinks.Audio.WriteAudio(name, a); err != nil {
			return sum, fmt.Errorf("write audio: %w", err)
		}
		sum.AudioSamples = len(a.Samples)
		sum.Partial = sum.Partial || a.Partial
	}
	if req.Spectrogram {
		s, err := r.ExportSpectrogram(rng, req.Freq)
		if err != nil {
			return sum, err
		}
		if sum.SpectrogramPath, err = sinks.Spectrogram.WriteSpectrogram(name, s); err != nil {
			return sum, fmt.Errorf("write spectrogram: %w", err)
		}
		sum.Columns = len(s.Times)
		sum.Skipped = s.Skipped
		sum.Partial = sum.Partial || s.Partial
	}
	return sum, nil
}

func (r *Recorder) resolve(rng *Range) (Range, error) {
	if rng != nil {
		return *rng, rng.Validate()
	}
	all, ok := r.Available()
	if !ok {
		return Range{}, fmt.Errorf("%w: nothing recorded yet", ErrInvalidRange)
	}
	return all, nil
}

// DefaultName is the base file name used when a request has none.
func DefaultName(t time.Time) string {
	return "spectro-" + t.Format("20060102-150405")
}
