// SPDX-License-Identifier: MIT
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spectro/internal/audio"
	"spectro/internal/config"
	"spectro/internal/frame"
	"spectro/internal/metrics"
	"spectro/internal/spectral"
	"spectro/internal/spectrogram"
)

// worker is the state owned by the processing goroutine.
type worker struct {
	extractor *frame.Extractor
	transform Transform
	applied   *config.Pipeline

	// Counter snapshots for metric deltas.
	overrun int64
	gaps    uint64
	evicted uint64
}

// capture moves blocks from the source into the ring until the stream ends
// or ctx is cancelled. It closes eos only when the source reports
// ErrEndOfStream, never on cancellation.
func (c *Controller) capture(ctx context.Context, s *session, eos chan<- struct{}) error {
	live := s.source.Live()
	for {
		block, err := s.source.NextBlock(ctx)
		if err != nil {
			switch {
			case errors.Is(err, audio.ErrEndOfStream):
				c.log.Debugf("end of stream after %d samples", s.ring.Written())
				close(eos)
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				c.report(metrics.StageCapture, err)
				return fmt.Errorf("capture: %w", err)
			}
		}

		mono := block.Mono(c.cfg.Load().Channel)
		if !live && !waitForRoom(ctx, s, len(mono)) {
			return nil
		}
		s.ring.Write(mono)
		c.metrics.RecordCapture(len(mono))
		signal(s.wake)
	}
}

// waitForRoom holds a replay source back while writing n samples would
// overwrite samples the processing goroutine has not read. It returns false
// if ctx is cancelled first.
func waitForRoom(ctx context.Context, s *session, n int) bool {
	for {
		unread := s.ring.Unread()
		if unread == 0 || unread+n <= s.ring.Capacity() {
			return true
		}
		signal(s.wake)
		select {
		case <-s.room:
		case <-ctx.Done():
			return false
		}
	}
}

// process turns ring samples into columns. At end of stream it drains what
// is left and returns; cancellation stops it at the next frame boundary.
func (c *Controller) process(ctx context.Context, s *session, w *worker, eos <-chan struct{}) error {
	rate := w.applied.RepetitionRate
	ticker := time.NewTicker(tickInterval(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-eos:
			c.cycle(ctx, s, w)
			return nil
		case <-ticker.C:
		case <-s.wake:
		}

		c.cycle(ctx, s, w)
		if r := w.applied.RepetitionRate; r != rate {
			rate = r
			ticker.Reset(tickInterval(rate))
		}
	}
}

func tickInterval(rate float64) time.Duration {
	return max(time.Millisecond, time.Duration(float64(time.Second)/rate))
}

// cycle applies pending configuration and emits every frame available. A
// cancelled ctx stops it between frames.
func (c *Controller) cycle(ctx context.Context, s *session, w *worker) {
	c.apply(s, w)

	binWidth := s.sampleRate / float64(w.extractor.Params().WindowLength)
	for ctx.Err() == nil {
		f, ok := w.extractor.Next(s.ring)
		if !ok {
			break
		}
		signal(s.room)

		start := time.Now()
		mags, err := w.transform.Compute(f.Samples)
		if err != nil {
			c.report(metrics.StageTransform, fmt.Errorf("frame at %.3fs: %w", f.Time, err))
			continue
		}
		col := spectrogram.Column{Time: f.Time, BinWidth: binWidth, Magnitudes: mags}
		if err := s.columns.Push(col); err != nil {
			c.report(metrics.StagePush, err)
			continue
		}
		c.metrics.RecordFrame(time.Since(start).Seconds())
	}
	signal(s.room)
	c.observe(s, w)
}

// apply switches the worker to the latest published config. It runs only
// between frames, so a frame in flight always completes with the old taper.
func (c *Controller) apply(s *session, w *worker) {
	next := c.cfg.Load()
	if next == w.applied {
		return
	}
	prev := w.applied
	w.applied = next

	if err := w.extractor.Reconfigure(frame.ParamsFrom(*next)); err != nil {
		c.report(metrics.StageTransform, err)
		return
	}
	if next.Scale != prev.Scale && c.transform == nil {
		if sc, err := spectral.ParseScale(next.Scale); err == nil {
			w.transform = spectral.NewTransformer(sc)
		}
	}
	if next.Retention != prev.Retention || next.MaxColumns != prev.MaxColumns || next.WindowLength != prev.WindowLength {
		s.ring.Resize(ringCapacity(*next, s.sampleRate))
		if err := s.columns.SetLimits(limitsFor(*next)); err != nil {
			c.report(metrics.StagePush, err)
		}
	}

	c.metrics.RecordReconfigure()
	c.log.Infof("applied config: window %d, hop %d, alpha %.2f, retention %s",
		next.WindowLength, w.extractor.Hop(), next.Alpha, next.Retention)
}

// observe pushes counter deltas and buffer levels to metrics.
func (c *Controller) observe(s *session, w *worker) {
	if c.metrics == nil {
		return
	}
	rs := s.ring.Stats()
	c.metrics.AddOverrun(rs.Overrun - w.overrun)
	w.overrun = rs.Overrun

	es := w.extractor.Stats()
	c.metrics.AddGaps(es.Gaps - w.gaps)
	w.gaps = es.Gaps

	_, evicted := s.columns.Counts()
	c.metrics.AddEvicted(evicted - w.evicted)
	w.evicted = evicted

	c.metrics.SetBuffers(rs.Unread, rs.Capacity, s.columns.Len())
}
