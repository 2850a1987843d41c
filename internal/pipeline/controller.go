// SPDX-License-Identifier: MIT

// Package pipeline runs the capture and processing loops of a spectrogram
// session and owns its configuration and lifecycle.
//
// A session has two goroutines. Capture pulls blocks from the audio source
// into the ring buffer. Processing turns ring samples into frames, frames
// into spectra and spectra into spectrogram columns, paced by a ticker at the
// repetition rate and woken early whenever capture delivers a block.
// Presentation code only reads Latest and Config and never blocks either loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"spectro/internal/audio"
	"spectro/internal/config"
	"spectro/internal/frame"
	applog "spectro/internal/log"
	"spectro/internal/metrics"
	"spectro/internal/record"
	"spectro/internal/ring"
	"spectro/internal/spectral"
	"spectro/internal/spectrogram"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned by Start unless the controller is Stopped.
	ErrAlreadyRunning = errors.New("pipeline: already running")
	// ErrNotRunning is returned by operations that need a session when none
	// has been started.
	ErrNotRunning = errors.New("pipeline: no session")
)

// DefaultErrorBuffer is the capacity of the Errors channel.
const DefaultErrorBuffer = 16

// State of the controller.
type State int32

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transform computes a magnitude spectrum from a tapered frame.
type Transform interface {
	Compute(samples []float64) ([]float64, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records pipeline activity in m.
func WithMetrics(m *metrics.PipelineMetrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.errs = make(chan error, n)
		}
	}
}

// WithTransform replaces the spectral transform for every session. The
// configured scale is ignored when it is set.
func WithTransform(t Transform) Option {
	return func(c *Controller) { c.transform = t }
}

// session is everything one Start allocates. It is published atomically and
// kept after Stop so its history stays readable until the next Start.
type session struct {
	id         uint64
	source     audio.Source
	sampleRate float64
	ring       *ring.Buffer
	columns    *spectrogram.Buffer
	recorder   *record.Recorder

	wake chan struct{} // capture -> processing
	room chan struct{} // processing -> capture (replay backpressure)
	done chan struct{}
	err  error // set before done is closed
}

// Controller coordinates sessions. It is safe for concurrent use.
type Controller struct {
	opener    audio.Opener
	metrics   *metrics.PipelineMetrics
	transform Transform
	log       applog.Logger

	mu     sync.Mutex // serializes Start, Stop and session teardown
	cancel context.CancelFunc

	state atomic.Int32
	cfg   atomic.Pointer[config.Pipeline]
	sess  atomic.Pointer[session]
	seq   atomic.Uint64 // last session id handed out
	errs  chan error
}

// New returns a stopped controller that opens sources through opener.
func New(opener audio.Opener, opts ...Option) *Controller {
	c := &Controller{
		opener: opener,
		errs:   make(chan error, DefaultErrorBuffer),
		log:    applog.WithPrefix("Pipeline"),
	}
	cfg := config.DefaultPipeline()
	c.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start opens target and begins a new session with cfg. The sample rate is
// a request; file sources keep their own. On error the controller stays
// Stopped and the previous session's buffers remain readable.
func (c *Controller) Start(ctx context.Context, target string, sampleRate float64, cfg config.Pipeline) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if State(c.state.Load()) != Stopped {
		return ErrAlreadyRunning
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	src, err := c.opener.Open(target, sampleRate)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	sr := src.SampleRate()

	s, w, err := c.newSession(src, sr, &cfg)
	if err != nil {
		src.Close()
		return err
	}

	s.id = c.seq.Add(1)
	c.cfg.Store(&cfg)
	c.sess.Store(s)
	c.state.Store(int32(Running))
	c.metrics.SetRunning(true)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	g, gctx := errgroup.WithContext(runCtx)
	eos := make(chan struct{})
	g.Go(func() error { return c.capture(gctx, s, eos) })
	g.Go(func() error { return c.process(gctx, s, w, eos) })
	go func() {
		err := g.Wait()
		cancel()
		c.finish(s, err)
	}()

	c.log.Infof("started %q @ %.0f Hz (window %d, hop %d, %.2f columns/s, alpha %.2f, retention %s)",
		target, sr, cfg.WindowLength, cfg.HopSize(sr), cfg.RepetitionRate, cfg.Alpha, cfg.Retention)
	return nil
}

func (c *Controller) newSession(src audio.Source, sr float64, cfg *config.Pipeline) (*session, *worker, error) {
	extractor, err := frame.NewExtractor(sr, frame.ParamsFrom(*cfg))
	if err != nil {
		return nil, nil, err
	}
	transform, err := c.transformFor(cfg.Scale)
	if err != nil {
		return nil, nil, err
	}
	columns, err := spectrogram.New(limitsFor(*cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	rb := ring.New(ringCapacity(*cfg, sr))

	s := &session{
		source:     src,
		sampleRate: sr,
		ring:       rb,
		columns:    columns,
		recorder:   record.New(rb, columns, sr),
		wake:       make(chan struct{}, 1),
		room:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	w := &worker{
		extractor: extractor,
		transform: transform,
		applied:   cfg,
	}
	return s, w, nil
}

func (c *Controller) transformFor(scale string) (Transform, error) {
	if c.transform != nil {
		return c.transform, nil
	}
	sc, err := spectral.ParseScale(scale)
	if err != nil {
		return nil, err
	}
	return spectral.NewTransformer(sc), nil
}

// ringCapacity holds the retention depth and never less than two windows.
func ringCapacity(cfg config.Pipeline, sampleRate float64) int {
	return max(cfg.RetentionSamples(sampleRate), 2*cfg.WindowLength)
}

func limitsFor(cfg config.Pipeline) spectrogram.Limits {
	return spectrogram.Limits{MaxAge: cfg.Retention, MaxColumns: cfg.MaxColumns}
}

// finish tears a session down once both goroutines have returned.
func (c *Controller) finish(s *session, err error) {
	if closeErr := s.source.Close(); closeErr != nil {
		c.log.Warnf("closing source: %v", closeErr)
	}

	c.mu.Lock()
	c.cancel = nil
	s.err = err
	// Cleared under mu so a racing Start cannot have its gauge overwritten.
	c.metrics.SetRunning(false)
	c.state.Store(int32(Stopped))
	c.mu.Unlock()

	if err != nil {
		c.log.Errorf("session ended: %v", err)
	} else {
		c.log.Infof("session ended after %.2fs of audio", float64(s.ring.Written())/s.sampleRate)
	}
	close(s.done)
}

// Stop ends the running session and waits for both goroutines to finish
// their current block and column. Calling it while Stopped does nothing.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if State(c.state.Load()) == Stopped {
		c.mu.Unlock()
		return nil
	}
	c.state.Store(int32(Stopping))
	cancel := c.cancel
	s := c.sess.Load()
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-s.done
	return s.err
}

// Reconfigure validates cfg and publishes it. A running session picks it up
// at the next frame boundary; while Stopped it is only stored for the next
// Start.
func (c *Controller) Reconfigure(cfg config.Pipeline) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := spectral.ParseScale(cfg.Scale); err != nil {
		return err
	}
	c.cfg.Store(&cfg)

	if s := c.sess.Load(); s != nil && c.State() == Running {
		signal(s.wake)
	}
	c.log.Debugf("config published: window %d, rate %.2f, alpha %.2f, retention %s",
		cfg.WindowLength, cfg.RepetitionRate, cfg.Alpha, cfg.Retention)
	return nil
}

// State returns the lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Config returns the most recently published configuration.
func (c *Controller) Config() config.Pipeline { return *c.cfg.Load() }

// SampleRate of the current or last session, or 0 before the first Start.
func (c *Controller) SampleRate() float64 {
	if s := c.sess.Load(); s != nil {
		return s.sampleRate
	}
	return 0
}

// Latest returns up to n of the newest columns, oldest first.
func (c *Controller) Latest(n int) []spectrogram.Column {
	if s := c.sess.Load(); s != nil {
		return s.columns.Latest(n)
	}
	return nil
}

// Session identifies the current or last session. It starts at 1 and is
// 0 before the first Start.
func (c *Controller) Session() uint64 {
	if s := c.sess.Load(); s != nil {
		return s.id
	}
	return 0
}

// RingStats reports the raw audio buffer counters of the current session.
func (c *Controller) RingStats() (ring.Stats, bool) {
	if s := c.sess.Load(); s != nil {
		return s.ring.Stats(), true
	}
	return ring.Stats{}, false
}

// Recorder returns the exporter for the current or last session.
func (c *Controller) Recorder() (*record.Recorder, error) {
	if s := c.sess.Load(); s != nil {
		return s.recorder, nil
	}
	return nil, ErrNotRunning
}

// Export saves a range of the current or last session through sinks.
func (c *Controller) Export(req record.Request, sinks record.Sinks) (record.Summary, error) {
	rec, err := c.Recorder()
	if err != nil {
		return record.Summary{}, err
	}
	sum, err := rec.Save(req, sinks)
	if req.Audio {
		c.metrics.RecordExport("audio", err)
	}
	if req.Spectrogram {
		c.metrics.RecordExport("spectrogram", err)
	}
	if err != nil {
		c.metrics.RecordError(metrics.StageExport)
		return sum, err
	}
	if sum.Partial {
		c.log.Warnf("export of %.2f-%.2fs is partial, older history was already evicted", sum.Range.Start, sum.Range.End)
	}
	return sum, nil
}

// Specs describes the analysis grid of the current session.
func (c *Controller) Specs() spectral.Specs {
	cfg := c.Config()
	sr := c.SampleRate()
	return spectral.Describe(sr, cfg.WindowLength, cfg.HopSize(sr))
}

// Errors delivers processing errors. When nobody reads, the oldest are
// dropped; they are always logged and counted.
func (c *Controller) Errors() <-chan error { return c.errs }

// Done is closed when the current session ends, either through Stop or
// because a finite source reached its end. Before the first Start it
// returns a closed channel.
func (c *Controller) Done() <-chan struct{} {
	if s := c.sess.Load(); s != nil {
		return s.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// report logs, counts and publishes a processing error without blocking.
func (c *Controller) report(stage string, err error) {
	c.log.Warnf("%s: %v", stage, err)
	c.metrics.RecordError(stage)

	select {
	case c.errs <- err:
		return
	default:
	}
	// Full: drop the oldest and retry once.
	select {
	case <-c.errs:
	default:
	}
	select {
	case c.errs <- err:
	default:
	}
}

// signal performs a non-blocking send on a 1-buffered channel.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
