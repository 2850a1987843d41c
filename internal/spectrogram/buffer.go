// SPDX-License-Identifier: MIT

// Package spectrogram keeps the scrolling history of spectrum columns.
package spectrogram

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrOutOfOrder is returned when a pushed column is not newer than the
// newest retained column.
var ErrOutOfOrder = errors.New("spectrogram: column timestamp not increasing")

// Column is one magnitude spectrum tagged with the audio time of its frame.
// Columns are immutable once pushed.
type Column struct {
	Time       float64   `json:"time"`      // Seconds since session start.
	BinWidth   float64   `json:"bin_width"` // Hz between bins.
	Magnitudes []float64 `json:"magnitudes"`
}

// WindowLength is the frame length the column was computed from.
func (c Column) WindowLength() int {
	return 2 * (len(c.Magnitudes) - 1)
}

// Limits bound the history. A zero field is unlimited, but not both.
type Limits struct {
	MaxAge     time.Duration
	MaxColumns int
}

func (l Limits) validate() error {
	if l.MaxAge < 0 || l.MaxColumns < 0 {
		return fmt.Errorf("spectrogram: negative limit %+v", l)
	}
	if l.MaxAge == 0 && l.MaxColumns == 0 {
		return errors.New("spectrogram: at least one limit is required")
	}
	return nil
}

// Result is the answer to a range query.
type Result struct {
	Columns []Column
	// Partial is set when the range reaches back past history that has
	// already been evicted.
	Partial bool
}

// Buffer is a FIFO of columns in strictly increasing time order. A single
// writer pushes; any number of readers may call Latest and RangeQuery.
type Buffer struct {
	mu      sync.RWMutex
	limits  Limits
	columns []Column // ring storage
	head    int      // index of the oldest column
	count   int

	evicted uint64
	pushed  uint64
}

// New returns an empty buffer bounded by limits.
func New(limits Limits) (*Buffer, error) {
	if err := limits.validate(); err != nil {
		return nil, err
	}
	return &Buffer{
		limits:  limits,
		columns: make([]Column, initialCap(limits)),
	}, nil
}

func initialCap(l Limits) int {
	if l.MaxColumns > 0 {
		return min(l.MaxColumns+1, 1024)
	}
	return 64
}

// at returns the i-th oldest column. b.mu must be held.
func (b *Buffer) at(i int) Column {
	return b.columns[(b.head+i)%len(b.columns)]
}

// Push appends a column and evicts whatever the limits no longer allow.
func (b *Buffer) Push(c Column) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count > 0 {
		if newest := b.at(b.count - 1); c.Time <= newest.Time {
			return fmt.Errorf("%w: %.6f after %.6f", ErrOutOfOrder, c.Time, newest.Time)
		}
	}

	if b.count == len(b.columns) {
		b.grow()
	}
	b.columns[(b.head+b.count)%len(b.columns)] = c
	b.count++
	b.pushed++

	b.evictLocked()
	return nil
}

// grow doubles the ring storage, unrolling it so head is 0.
func (b *Buffer) grow() {
	next := make([]Column, 2*len(b.columns))
	for i := range b.count {
		next[i] = b.at(i)
	}
	b.columns = next
	b.head = 0
}

// evictLocked drops the oldest columns while either limit is exceeded. The
// newest column always survives.
func (b *Buffer) evictLocked() {
	maxAge := b.limits.MaxAge.Seconds()
	for b.count > 1 {
		oldest := b.at(0)
		newest := b.at(b.count - 1)
		overCount := b.limits.MaxColumns > 0 && b.count > b.limits.MaxColumns
		overAge := maxAge > 0 && newest.Time-oldest.Time >= maxAge
		if !overCount && !overAge {
			return
		}
		b.columns[b.head] = Column{}
		b.head = (b.head + 1) % len(b.columns)
		b.count--
		b.evicted++
	}
}

// Latest returns up to n of the most recent columns, oldest first.
func (b *Buffer) Latest(n int) []Column {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n = min(n, b.count)
	if n <= 0 {
		return nil
	}
	out := make([]Column, n)
	for i := range n {
		out[i] = b.at(b.count - n + i)
	}
	return out
}

// RangeQuery returns the columns with start <= Time <= end in time order.
func (b *Buffer) RangeQuery(start, end float64) Result {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 || start > end {
		return Result{}
	}

	lo := sort.Search(b.count, func(i int) bool { return b.at(i).Time >= start })
	hi := sort.Search(b.count, func(i int) bool { return b.at(i).Time > end })
	if lo >= hi {
		return Result{}
	}

	out := make([]Column, hi-lo)
	for i := range out {
		out[i] = b.at(lo + i)
	}
	return Result{
		Columns: out,
		Partial: b.evicted > 0 && start < b.at(0).Time,
	}
}

// SetLimits replaces the limits and evicts immediately if they shrank.
func (b *Buffer) SetLimits(l Limits) error {
	if err := l.validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.limits = l
	b.evictLocked()
	return nil
}

// Limits returns the active limits.
func (b *Buffer) Limits() Limits {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.limits
}

// Len returns the number of retained columns.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Span returns the times of the oldest and newest retained columns. ok is
// false when the buffer is empty.
func (b *Buffer) Span() (oldest, newest float64, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.count == 0 {
		return 0, 0, false
	}
	return b.at(0).Time, b.at(b.count - 1).Time, true
}

// Counts returns how many columns were pushed and evicted since creation.
func (b *Buffer) Counts() (pushed, evicted uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pushed, b.evicted
}

// Reset drops every column and clears the counters.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.columns)
	b.head = 0
	b.count = 0
	b.evicted = 0
	b.pushed = 0
}
