// Package utils holds synthetic signals and spectrum helpers shared by tests
// and the tone source.
package utils

import "math"

// GenerateSineWave returns size samples of a sine at frequency Hz with the
// given peak amplitude.
func GenerateSineWave(size int, sampleRate, frequency, amplitude float64) []float64 {
	buffer := make([]float64, size)
	step := 2 * math.Pi * frequency / sampleRate
	for i := range buffer {
		buffer[i] = amplitude * math.Sin(step*float64(i))
	}
	return buffer
}

// GenerateComplexWave returns a 440 Hz fundamental with two harmonics,
// peaking below full scale.
func GenerateComplexWave(size int, sampleRate float64) []float64 {
	buffer := make([]float64, size)
	for i := range buffer {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2 // 440Hz fundamental + harmonics
		buffer[i] = signal * 0.9
	}
	return buffer
}

// Interleave merges equally long channels into one interleaved slice.
func Interleave(channels ...[]float64) []float64 {
	if len(channels) == 0 {
		return nil
	}
	frames := len(channels[0])
	for _, ch := range channels[1:] {
		frames = min(frames, len(ch))
	}
	out := make([]float64, frames*len(channels))
	for i := range frames {
		for c, ch := range channels {
			out[i*len(channels)+c] = ch[i]
		}
	}
	return out
}

// FindPeakBin returns the index of the largest magnitude in
// [startBin, endBin], clamped to the slice.
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}

	if startBin < 0 {
		startBin = 0
	}

	if endBin >= len(magnitudes) {
		endBin = len(magnitudes) - 1
	}

	peakBin := startBin
	peakValue := magnitudes[startBin]

	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}

	return peakBin
}
