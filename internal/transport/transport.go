// Package transport streams spectrogram columns to presentation clients.
package transport

import (
	"context"
	"errors"
	"time"

	applog "spectro/internal/log"
	"spectro/internal/spectrogram"
)

// Transport delivers columns to some consumer. Implementations must be safe
// for concurrent use and must not block the caller for long.
type Transport interface {
	Send(col spectrogram.Column) error
	Close() error
}

// ColumnSource is the read side of a running pipeline. Session changes
// whenever a new session starts, which restarts column times at zero.
type ColumnSource interface {
	Latest(n int) []spectrogram.Column
	Session() uint64
}

// Default feed settings.
const (
	DefaultFeedInterval = 50 * time.Millisecond
	DefaultFeedColumns  = 64
)

// Feed polls a ColumnSource and forwards every column it has not sent yet.
// It only reads the source, so it never stalls the pipeline.
type Feed struct {
	src        ColumnSource
	transports []Transport
	interval   time.Duration
	batch      int

	session uint64  // session the cursor belongs to
	last    float64 // time of the newest column forwarded
	hasLast bool
	log     applog.Logger
}

// NewFeed creates a feed. Non-positive interval or batch fall back to the
// defaults.
func NewFeed(src ColumnSource, interval time.Duration, batch int, transports ...Transport) *Feed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	if batch <= 0 {
		batch = DefaultFeedColumns
	}
	return &Feed{
		src:        src,
		transports: transports,
		interval:   interval,
		batch:      batch,
		log:        applog.WithPrefix("Feed"),
	}
}

// Run polls until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.log.Infof("forwarding up to %d columns every %s to %d transport(s)", f.batch, f.interval, len(f.transports))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Poll()
		}
	}
}

// Poll forwards the columns that appeared since the previous call and
// returns how many it sent. If more than the batch size arrived, the
// oldest of them are skipped.
func (f *Feed) Poll() int {
	if id := f.src.Session(); id != f.session {
		f.session, f.hasLast = id, false
	}
	cols := f.src.Latest(f.batch)
	if len(cols) == 0 {
		return 0
	}

	sent := 0
	for _, col := range cols {
		if f.hasLast && col.Time <= f.last {
			continue
		}
		for _, t := range f.transports {
			if err := t.Send(col); err != nil {
				f.log.Warnf("send at %.3fs: %v", col.Time, err)
			}
		}
		f.last, f.hasLast = col.Time, true
		sent++
	}
	return sent
}

// Close closes every transport and joins their errors.
func (f *Feed) Close() error {
	var errs []error
	for _, t := range f.transports {
		errs = append(errs, t.Close())
	}
	return errors.Join(errs...)
}
