// SPDX-License-Identifier: MIT

// Package spectral turns tapered frames into magnitude spectra.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	"spectro/internal/config"
	"spectro/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Floor is the smallest magnitude the decibel scale takes a logarithm of.
const Floor = 1e-10

// ErrEmptyFrame is returned for a zero-length frame.
var ErrEmptyFrame = errors.New("spectral: empty frame")

// Scale selects how magnitudes are expressed.
type Scale int

const (
	Decibel Scale = iota // 20*log10(max(m, Floor))
	Linear               // Peak amplitude of each component.
)

// ParseScale maps a config scale name to a Scale. Empty means Decibel.
func ParseScale(s string) (Scale, error) {
	switch strings.ToLower(s) {
	case "", config.ScaleDecibel:
		return Decibel, nil
	case config.ScaleLinear:
		return Linear, nil
	default:
		return Decibel, fmt.Errorf("%w: unknown scale %q", config.ErrInvalidConfig, s)
	}
}

func (s Scale) String() string {
	if s == Linear {
		return config.ScaleLinear
	}
	return config.ScaleDecibel
}

// workspace holds the FFT plan and scratch buffers for one frame length.
type workspace struct {
	fft    *fourier.FFT
	coeffs []complex128
}

// Transformer computes N/2+1 magnitude bins from a real frame of length N.
// FFT plans are cached per length, so a reconfigured window length costs one
// plan allocation. It is safe for concurrent use.
type Transformer struct {
	scale Scale

	mu     sync.Mutex
	plans  map[int]*workspace
	frames uint64
}

// NewTransformer returns a transformer producing the given scale.
func NewTransformer(scale Scale) *Transformer {
	return &Transformer{
		scale: scale,
		plans: make(map[int]*workspace),
	}
}

// Scale returns the output scale.
func (t *Transformer) Scale() Scale { return t.scale }

// Compute returns the magnitude spectrum of samples as a fresh slice of
// len(samples)/2+1 values. Linear magnitudes are |X_k|*2/N with DC and
// Nyquist left undoubled, so a full-scale sine reads as its amplitude.
func (t *Transformer) Compute(samples []float64) ([]float64, error) {
	n := len(samples)
	if n == 0 {
		return nil, ErrEmptyFrame
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	ws := t.plan(n)
	ws.coeffs = ws.fft.Coefficients(ws.coeffs, samples)

	out := make([]float64, len(ws.coeffs))
	norm := 2 / float64(n)
	for k, c := range ws.coeffs {
		m := cmplx.Abs(c) * norm
		if k == 0 || (n%2 == 0 && k == n/2) {
			m /= 2
		}
		if t.scale == Decibel {
			m = 20 * math.Log10(math.Max(m, Floor))
		}
		out[k] = m
	}
	t.frames++
	return out, nil
}

// plan returns the cached workspace for length n. t.mu must be held.
func (t *Transformer) plan(n int) *workspace {
	if ws, ok := t.plans[n]; ok {
		return ws
	}
	ws := &workspace{
		fft:    fourier.NewFFT(n),
		coeffs: make([]complex128, n/2+1),
	}
	t.plans[n] = ws
	return ws
}

// Frames reports how many spectra have been computed.
func (t *Transformer) Frames() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// BinFrequency returns the centre frequency in Hz of bin k for an N-point
// transform at sampleRate.
func BinFrequency(k, n int, sampleRate float64) float64 {
	if n <= 0 {
		return 0
	}
	return float64(k) * sampleRate / float64(n)
}

// Frequencies returns the centre frequency of every bin of an N-point
// transform.
func Frequencies(n int, sampleRate float64) []float64 {
	if n <= 0 {
		return nil
	}
	freqs := make([]float64, n/2+1)
	for k := range freqs {
		freqs[k] = BinFrequency(k, n, sampleRate)
	}
	return freqs
}

// Specs describes the analysis grid for labelling axes.
type Specs struct {
	SampleRate float64 `json:"sample_rate"`
	N          int     `json:"n"`
	Bins       int     `json:"bins"`
	BinWidth   float64 `json:"bin_width"`
	Nyquist    float64 `json:"nyquist"`
	Hop        int     `json:"hop"`
	HopSeconds float64 `json:"hop_seconds"`
	// FastSize is the nearest power of two at or above N. Window lengths
	// equal to it take the fastest FFT path.
	FastSize int `json:"fast_size"`
}

// Describe returns the analysis grid for an N-point transform advanced by
// hop samples.
func Describe(sampleRate float64, n, hop int) Specs {
	s := Specs{
		SampleRate: sampleRate,
		N:          n,
		Hop:        hop,
		Nyquist:    sampleRate / 2,
		FastSize:   bitint.NextPowerOfTwo(n),
	}
	if n > 0 {
		s.Bins = n/2 + 1
		s.BinWidth = sampleRate / float64(n)
	}
	if sampleRate > 0 {
		s.HopSeconds = float64(hop) / sampleRate
	}
	return s
}

// PowerOfTwo reports whether N is a power of two.
func (s Specs) PowerOfTwo() bool { return bitint.IsPowerOfTwo(s.N) }
