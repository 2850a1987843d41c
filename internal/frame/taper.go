// SPDX-License-Identifier: MIT
package frame

import (
	"gonum.org/v1/gonum/dsp/window"
)

// Taper is a precomputed Tukey window. Alpha 0 is rectangular and alpha 1 is
// a Hann window; values in between taper alpha/2 of the frame at each end.
type Taper struct {
	Length int
	Alpha  float64
	Coeffs []float64
}

// NewTaper computes the coefficients for a window of the given length.
func NewTaper(length int, alpha float64) *Taper {
	coeffs := make([]float64, length)
	for i := range coeffs {
		coeffs[i] = 1
	}
	// A single-sample Hann window divides by zero.
	if length > 1 {
		window.Tukey{Alpha: alpha}.Transform(coeffs)
	}
	return &Taper{Length: length, Alpha: alpha, Coeffs: coeffs}
}

// Matches reports whether the taper can be reused for length and alpha.
func (t *Taper) Matches(length int, alpha float64) bool {
	return t != nil && t.Length == length && t.Alpha == alpha
}

// Apply writes src multiplied by the coefficients into dst. Both slices must
// be at least Length long.
func (t *Taper) Apply(dst, src []float64) {
	for i, c := range t.Coeffs {
		dst[i] = src[i] * c
	}
}
