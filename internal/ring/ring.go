// SPDX-License-Identifier: MIT

// Package ring holds recent mono audio in a fixed-capacity circular buffer.
//
// Samples are addressed by their absolute index since the buffer was created
// (or last reset), so index/sampleRate is the audio time of a sample. Writes
// never block: when the buffer is full the oldest samples are overwritten.
// A single consumed cursor tracks what the frame extractor has read; the
// recorder uses Snapshot, which leaves the cursor alone.
package ring

import (
	"sync"
)

// Segment is a contiguous run of samples starting at absolute index Start.
type Segment struct {
	Start   int64
	Samples []float64
}

// End returns the absolute index one past the last sample.
func (s Segment) End() int64 { return s.Start + int64(len(s.Samples)) }

// Stats is a point-in-time view of the buffer counters.
type Stats struct {
	Capacity int
	Len      int   // Retained samples.
	Unread   int   // Retained samples not yet consumed.
	Written  int64 // Absolute index of the next write.
	Oldest   int64 // Absolute index of the oldest retained sample.
	Consumed int64 // Absolute index of the next sample Read returns.
	Overrun  int64 // Unread samples lost to overwrite.
}

// Buffer is a mutex-guarded circular buffer of float64 samples.
type Buffer struct {
	mu       sync.Mutex
	data     []float64
	written  int64 // absolute index of the next write
	length   int   // retained samples, <= len(data)
	consumed int64
	overrun  int64
}

// New returns an empty buffer. Capacity below 1 is raised to 1.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{data: make([]float64, capacity)}
}

// Write appends samples, overwriting the oldest when full. If unread samples
// are overwritten the consumed cursor moves up to the oldest retained sample.
func (b *Buffer) Write(samples []float64) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.data)
	total := len(samples)
	// Only the tail can survive a write larger than the buffer.
	if total > capacity {
		skip := len(samples) - capacity
		b.written += int64(skip)
		samples = samples[skip:]
	}

	pos := int(b.written % int64(capacity))
	n := copy(b.data[pos:], samples)
	if n < len(samples) {
		copy(b.data, samples[n:])
	}

	b.written += int64(len(samples))
	b.length = min(b.length+total, capacity)

	if oldest := b.oldestLocked(); b.consumed < oldest {
		b.overrun += oldest - b.consumed
		b.consumed = oldest
	}
}

// oldestLocked is the absolute index of the oldest retained sample.
func (b *Buffer) oldestLocked() int64 {
	return b.written - int64(b.length)
}

// Read returns up to count unread samples starting at the consumed cursor
// and advances the cursor past them.
func (b *Buffer) Read(count int) Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	seg := Segment{Start: b.consumed}
	n := min(count, int(b.written-b.consumed))
	if n <= 0 {
		return seg
	}
	seg.Samples = b.copyLocked(b.consumed, n)
	b.consumed += int64(n)
	return seg
}

// Snapshot returns a copy of the retained samples in [from, to). The result
// is clipped to what is still retained and may be empty.
func (b *Buffer) Snapshot(from, to int64) Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = max(from, b.oldestLocked())
	to = min(to, b.written)
	if to <= from {
		return Segment{Start: from}
	}
	return Segment{Start: from, Samples: b.copyLocked(from, int(to-from))}
}

// Latest returns the count most recent samples, or fewer if less are retained.
func (b *Buffer) Latest(count int) Segment {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := min(count, b.length)
	start := b.written - int64(n)
	if n <= 0 {
		return Segment{Start: b.written}
	}
	return Segment{Start: start, Samples: b.copyLocked(start, n)}
}

// copyLocked copies n samples starting at absolute index from, which must be
// retained.
func (b *Buffer) copyLocked(from int64, n int) []float64 {
	out := make([]float64, n)
	capacity := int64(len(b.data))
	pos := int(from % capacity)
	m := copy(out, b.data[pos:])
	if m < n {
		copy(out[m:], b.data[:n-m])
	}
	return out
}

// Resize changes the capacity, keeping the newest samples that fit.
func (b *Buffer) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if capacity == len(b.data) {
		return
	}

	keep := min(b.length, capacity)
	start := b.written - int64(keep)
	kept := b.copyLocked(start, keep)

	b.data = make([]float64, capacity)
	pos := int(start % int64(capacity))
	m := copy(b.data[pos:], kept)
	if m < keep {
		copy(b.data, kept[m:])
	}
	b.length = keep

	if b.consumed < start {
		b.overrun += start - b.consumed
		b.consumed = start
	}
}

// Reset drops every sample and restarts absolute indexing at zero.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.data)
	b.written = 0
	b.length = 0
	b.consumed = 0
	b.overrun = 0
}

// Stats returns the current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Capacity: len(b.data),
		Len:      b.length,
		Unread:   int(b.written - b.consumed),
		Written:  b.written,
		Oldest:   b.oldestLocked(),
		Consumed: b.consumed,
		Overrun:  b.overrun,
	}
}

func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Unread reports how many retained samples Read has not returned yet.
func (b *Buffer) Unread() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.written - b.consumed)
}

func (b *Buffer) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

func (b *Buffer) Oldest() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.oldestLocked()
}
