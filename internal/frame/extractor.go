// SPDX-License-Identifier: MIT

// Package frame slices tapered, fixed-length frames out of the ring buffer.
//
// Frames are scheduled in audio time: frame k starts hop samples after frame
// k-1, where hop = round(sampleRate / repetitionRate). A frame is emitted only
// once all of its samples have arrived; nothing is ever zero-padded.
package frame

import (
	"fmt"
	"math"

	"spectro/internal/config"
	"spectro/internal/ring"
)

// Frame is one tapered extraction. Start is the absolute sample index of the
// first sample and Time the same position in seconds.
type Frame struct {
	Start   int64
	Time    float64
	Samples []float64
}

// Params are the framing settings the extractor can switch between frames.
type Params struct {
	WindowLength   int
	RepetitionRate float64
	Alpha          float64
}

// ParamsFrom picks the framing settings out of a pipeline config.
func ParamsFrom(cfg config.Pipeline) Params {
	return Params{
		WindowLength:   cfg.WindowLength,
		RepetitionRate: cfg.RepetitionRate,
		Alpha:          cfg.Alpha,
	}
}

func (p Params) validate() error {
	switch {
	case p.WindowLength <= 0:
		return fmt.Errorf("%w: window length must be positive, got %d", config.ErrInvalidConfig, p.WindowLength)
	case !(p.RepetitionRate > 0) || math.IsInf(p.RepetitionRate, 0):
		return fmt.Errorf("%w: repetition rate must be positive, got %v", config.ErrInvalidConfig, p.RepetitionRate)
	case !(p.Alpha >= 0 && p.Alpha <= 1):
		return fmt.Errorf("%w: alpha must be within [0,1], got %v", config.ErrInvalidConfig, p.Alpha)
	}
	return nil
}

// Reader is the consuming side of the ring buffer.
type Reader interface {
	Read(count int) ring.Segment
}

// Stats counts extractor activity since creation.
type Stats struct {
	Frames      uint64
	Gaps        uint64 // Discontinuities caused by ring overrun.
	LostSamples int64  // Samples missing across those gaps.
}

// Extractor is owned by a single goroutine and is not safe for concurrent use.
type Extractor struct {
	sampleRate float64
	params     Params
	hop        int
	taper      *Taper

	pending      []float64
	pendingStart int64 // absolute index of pending[0]
	next         int64 // absolute index where the next frame starts
	lastStart    int64
	emitted      bool

	stats Stats
}

// NewExtractor creates an extractor that expects the stream to begin at
// absolute index 0.
func NewExtractor(sampleRate float64, p Params) (*Extractor, error) {
	if !(sampleRate > 0) {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %v", config.ErrInvalidConfig, sampleRate)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		sampleRate: sampleRate,
		params:     p,
		hop:        hopSize(sampleRate, p.RepetitionRate),
		taper:      NewTaper(p.WindowLength, p.Alpha),
	}, nil
}

func hopSize(sampleRate, rate float64) int {
	return max(1, int(math.Round(sampleRate/rate)))
}

// Next returns the next complete frame, reading from src only what it needs.
// It returns false when not enough contiguous samples are available yet.
func (e *Extractor) Next(src Reader) (Frame, bool) {
	window := e.params.WindowLength
	for {
		e.trim()
		if len(e.pending) >= window && e.pendingStart == e.next {
			return e.emit(), true
		}

		// Samples still owed before the frame start, plus the frame remainder.
		need := window - len(e.pending)
		if behind := e.next - e.pendingStart - int64(len(e.pending)); behind > 0 {
			need = window + int(behind)
		}
		seg := src.Read(need)
		if len(seg.Samples) == 0 {
			return Frame{}, false
		}
		e.accept(seg)
	}
}

// accept appends a segment to pending, restarting after a discontinuity.
func (e *Extractor) accept(seg ring.Segment) {
	expected := e.pendingStart + int64(len(e.pending))
	if seg.Start != expected {
		if seg.Start > expected {
			e.stats.Gaps++
			e.stats.LostSamples += seg.Start - expected
		}
		e.pending = append(e.pending[:0], seg.Samples...)
		e.pendingStart = seg.Start
		e.next = max(e.next, seg.Start)
		return
	}
	e.pending = append(e.pending, seg.Samples...)
}

// trim drops pending samples that precede the next frame start.
func (e *Extractor) trim() {
	drop := e.next - e.pendingStart
	if drop <= 0 {
		return
	}
	n := int(min(drop, int64(len(e.pending))))
	e.pending = e.pending[n:]
	e.pendingStart += int64(n)
	if len(e.pending) == 0 {
		// Start over on a fresh backing array so skipped samples are freed.
		e.pending = nil
	}
}

func (e *Extractor) emit() Frame {
	window := e.params.WindowLength
	samples := make([]float64, window)
	e.taper.Apply(samples, e.pending[:window])

	f := Frame{
		Start:   e.next,
		Time:    float64(e.next) / e.sampleRate,
		Samples: samples,
	}
	e.lastStart = e.next
	e.emitted = true
	e.next += int64(e.hop)
	e.stats.Frames++
	return f
}

// Reconfigure switches to new framing settings. It must only be called
// between two Next calls. Pending samples are kept; the next frame starts
// one new hop after the previous frame.
func (e *Extractor) Reconfigure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	if !e.taper.Matches(p.WindowLength, p.Alpha) {
		e.taper = NewTaper(p.WindowLength, p.Alpha)
	}
	hop := hopSize(e.sampleRate, p.RepetitionRate)
	if e.emitted && hop != e.hop && e.next == e.lastStart+int64(e.hop) {
		e.next = e.lastStart + int64(hop)
	}
	e.hop = hop
	e.params = p
	return nil
}

// Params returns the active framing settings.
func (e *Extractor) Params() Params { return e.params }

// Hop returns the distance between frame starts in samples.
func (e *Extractor) Hop() int { return e.hop }

// Taper returns the active taper. Callers must not modify it.
func (e *Extractor) Taper() *Taper { return e.taper }

// Stats returns the activity counters.
func (e *Extractor) Stats() Stats { return e.stats }
