// SPDX-License-Identifier: MIT
package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(from, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(from + i)
	}
	return out
}

func TestBuffer_RetainsNewestAfterOverflow(t *testing.T) {
	t.Parallel()
	const capacity, extra = 100, 37
	b := New(capacity)

	b.Write(seq(0, capacity+extra))

	st := b.Stats()
	assert.Equal(t, capacity, st.Len)
	assert.Equal(t, int64(capacity+extra), st.Written)
	assert.Equal(t, int64(extra), st.Oldest)

	latest := b.Latest(capacity)
	assert.Equal(t, seq(extra, capacity), latest.Samples, "only the last N samples survive, in order")
	assert.Equal(t, int64(extra), latest.Start)
}

func TestBuffer_OverflowInSmallWrites(t *testing.T) {
	t.Parallel()
	b := New(10)
	for i := 0; i < 25; i += 5 {
		b.Write(seq(i, 5))
	}
	assert.Equal(t, seq(15, 10), b.Latest(10).Samples)
	assert.Equal(t, seq(22, 3), b.Latest(3).Samples)
	assert.Equal(t, seq(15, 10), b.Latest(50).Samples)
}

func TestBuffer_ReadAdvancesCursor(t *testing.T) {
	t.Parallel()
	b := New(16)
	b.Write(seq(0, 10))

	seg := b.Read(4)
	assert.Equal(t, int64(0), seg.Start)
	assert.Equal(t, seq(0, 4), seg.Samples)
	assert.Equal(t, 6, b.Unread())

	seg = b.Read(100)
	assert.Equal(t, int64(4), seg.Start)
	assert.Equal(t, seq(4, 6), seg.Samples)
	assert.Equal(t, int64(10), seg.End())

	seg = b.Read(4)
	assert.Empty(t, seg.Samples)
	assert.Equal(t, int64(10), seg.Start)
	assert.Zero(t, b.Unread())
}

func TestBuffer_OverrunMovesCursor(t *testing.T) {
	t.Parallel()
	b := New(8)
	b.Write(seq(0, 6))
	b.Read(2)

	// Writes 6 more: indices 0..3 are overwritten, 2..3 were unread.
	b.Write(seq(6, 6))

	st := b.Stats()
	assert.Equal(t, int64(4), st.Oldest)
	assert.Equal(t, int64(4), st.Consumed)
	assert.Equal(t, int64(2), st.Overrun)

	seg := b.Read(3)
	assert.Equal(t, int64(4), seg.Start, "reader sees the gap through Start")
	assert.Equal(t, seq(4, 3), seg.Samples)
}

func TestBuffer_Snapshot(t *testing.T) {
	t.Parallel()
	b := New(10)
	b.Write(seq(0, 15))
	b.Read(3)

	seg := b.Snapshot(7, 12)
	assert.Equal(t, int64(7), seg.Start)
	assert.Equal(t, seq(7, 5), seg.Samples)

	seg = b.Snapshot(0, 8)
	assert.Equal(t, int64(5), seg.Start, "clipped to retention")
	assert.Equal(t, seq(5, 3), seg.Samples)

	seg = b.Snapshot(14, 100)
	assert.Equal(t, seq(14, 1), seg.Samples)

	assert.Empty(t, b.Snapshot(20, 30).Samples)
	assert.Empty(t, b.Snapshot(8, 8).Samples)

	assert.Equal(t, int64(8), b.Stats().Consumed, "snapshot leaves the cursor alone")
}

func TestBuffer_Resize(t *testing.T) {
	t.Parallel()
	b := New(10)
	b.Write(seq(0, 10))
	b.Read(2)

	b.Resize(4)
	assert.Equal(t, 4, b.Capacity())
	assert.Equal(t, seq(6, 4), b.Latest(10).Samples)
	st := b.Stats()
	assert.Equal(t, int64(6), st.Consumed)
	assert.Equal(t, int64(4), st.Overrun)

	b.Resize(20)
	b.Write(seq(10, 5))
	assert.Equal(t, seq(6, 9), b.Latest(20).Samples)
	assert.Equal(t, int64(6), b.Oldest())
}

func TestBuffer_Reset(t *testing.T) {
	t.Parallel()
	b := New(4)
	b.Write(seq(0, 9))
	b.Reset()

	assert.Zero(t, b.Len())
	assert.Zero(t, b.Written())
	assert.Empty(t, b.Latest(4).Samples)

	b.Write([]float64{1})
	assert.Equal(t, int64(0), b.Read(1).Start)
}

func TestBuffer_ConcurrentWriterReader(t *testing.T) {
	t.Parallel()
	const total = 20000
	b := New(256)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < total; i += 100 {
			b.Write(seq(i, 100))
		}
	}()

	var next int64
	for next < total {
		seg := b.Read(64)
		if len(seg.Samples) == 0 {
			continue
		}
		require.GreaterOrEqual(t, seg.Start, next, "cursor never moves backwards")
		for i, v := range seg.Samples {
			require.Equal(t, float64(seg.Start)+float64(i), v)
		}
		next = seg.End()
	}
	wg.Wait()
}

func TestBuffer_WriteAllocs(t *testing.T) {
	b := New(4096)
	block := seq(0, 512)

	allocs := testing.AllocsPerRun(100, func() {
		b.Write(block)
	})
	if allocs > 0 {
		t.Errorf("Write allocated %v times per run, want 0", allocs)
	}
}
