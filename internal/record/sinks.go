// SPDX-License-Identifier: MIT
package record

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	applog "spectro/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// AudioSink persists exported audio and returns where it went.
type AudioSink interface {
	WriteAudio(name string, a AudioExport) (string, error)
}

// SpectrogramSink persists an exported spectrogram and returns where it went.
type SpectrogramSink interface {
	WriteSpectrogram(name string, s SpectrogramExport) (string, error)
}

// WAVSink writes mono PCM WAV files into Dir.
type WAVSink struct {
	Dir      string
	BitDepth int // 16, 24 or 32; 0 means 16.
}

// WriteAudio implements AudioSink.
func (w WAVSink) WriteAudio(name string, a AudioExport) (string, error) {
	bitDepth := w.BitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	switch bitDepth {
	case 16, 24, 32:
	default:
		return "", fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	path, file, err := create(w.Dir, name, ".wav")
	if err != nil {
		return "", err
	}
	defer file.Close()

	sampleRate := int(math.Round(a.SampleRate))
	encoder := wav.NewEncoder(file, sampleRate, bitDepth, 1, 1)

	scale := math.Ldexp(1, bitDepth-1)
	data := make([]int, len(a.Samples))
	for i, v := range a.Samples {
		data[i] = int(math.Round(clamp(v) * (scale - 1)))
	}

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := encoder.Write(buf); err != nil {
		return "", fmt.Errorf("encode %s: %w", path, err)
	}
	if err := encoder.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", path, err)
	}

	applog.Infof("Recorder: wrote %d samples to %s", len(a.Samples), path)
	return path, nil
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// CSVSink writes a spectrogram as CSV: a header row of bin frequencies
// followed by one row per column, each starting with its time.
type CSVSink struct {
	Dir string
}

// WriteSpectrogram implements SpectrogramSink.
func (c CSVSink) WriteSpectrogram(name string, s SpectrogramExport) (string, error) {
	path, file, err := create(c.Dir, name, ".csv")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := WriteCSV(csv.NewWriter(file), s); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return "", err
	}

	applog.Infof("Recorder: wrote %d columns to %s", len(s.Times), path)
	return path, nil
}

// WriteCSV encodes s to w and flushes it.
func WriteCSV(w *csv.Writer, s SpectrogramExport) error {
	row := make([]string, len(s.Freqs)+1)
	row[0] = "time_s"
	for i, f := range s.Freqs {
		row[i+1] = strconv.FormatFloat(f, 'f', -1, 64)
	}
	if err := w.Write(row); err != nil {
		return err
	}

	for i, t := range s.Times {
		row = row[:len(s.Magnitudes[i])+1]
		row[0] = strconv.FormatFloat(t, 'f', 6, 64)
		for k, m := range s.Magnitudes[i] {
			row[k+1] = strconv.FormatFloat(m, 'g', 8, 64)
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func create(dir, name, ext string) (string, *os.File, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(dir, name+ext)
	file, err := os.Create(path)
	if err != nil {
		return "", nil, err
	}
	return path, file, nil
}
