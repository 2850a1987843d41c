// Package bitint holds the power-of-two helpers used to size analysis
// windows. Frame lengths may be any size, but the monitor steps between
// powers of two and the spectral package reports the padded size a fast
// transform would use.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, or 1 when size
// is not positive.
func NextPowerOfTwo(size int) int {
	if size <= 1 {
		return 1
	}
	// size-1 keeps exact powers of two in place.
	return 1 << bits.Len(uint(size-1))
}

// PrevPowerOfTwo returns the largest power of two <= size, or 0 when size
// is not positive.
func PrevPowerOfTwo(size int) int {
	if size <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(size)) - 1)
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// StepUp returns the first power of two strictly above n.
func StepUp(n int) int {
	return NextPowerOfTwo(n + 1)
}

// StepDown returns the last power of two strictly below n, never less than
// floor.
func StepDown(n, floor int) int {
	return max(floor, PrevPowerOfTwo(n-1))
}
