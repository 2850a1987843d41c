// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	applog "spectro/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileSource replays a PCM WAV file. It is not paced; the consumer decides
// how fast blocks are pulled.
type FileSource struct {
	file    *os.File
	decoder *wav.Decoder
	buf     *audio.IntBuffer

	sampleRate float64
	channels   int
	bitDepth   int
	divisor    float64
	offset     float64 // 8-bit PCM is unsigned

	seq  uint64
	done bool
}

// OpenFile opens path for replay in blocks of framesPerBuffer frames.
// Missing or undecodable files wrap ErrFileFormat.
func OpenFile(path string, framesPerBuffer int) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileFormat, err)
	}

	decoder := wav.NewDecoder(file)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		file.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrFileFormat, path)
	}

	divisor, offset, err := sampleScale(int(decoder.BitDepth))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrFileFormat, path, err)
	}
	if decoder.NumChans == 0 || decoder.SampleRate == 0 {
		file.Close()
		return nil, fmt.Errorf("%w: %s: missing format chunk", ErrFileFormat, path)
	}

	if framesPerBuffer <= 0 {
		framesPerBuffer = 512
	}
	channels := int(decoder.NumChans)

	s := &FileSource{
		file:       file,
		decoder:    decoder,
		sampleRate: float64(decoder.SampleRate),
		channels:   channels,
		bitDepth:   int(decoder.BitDepth),
		divisor:    divisor,
		offset:     offset,
		buf: &audio.IntBuffer{
			Data:           make([]int, framesPerBuffer*channels),
			Format:         &audio.Format{SampleRate: int(decoder.SampleRate), NumChannels: channels},
			SourceBitDepth: int(decoder.BitDepth),
		},
	}

	applog.Debugf("Audio: replaying %s (%d ch, %d-bit @ %.0f Hz)", path, channels, s.bitDepth, s.sampleRate)
	return s, nil
}

// sampleScale maps a PCM bit depth to the divisor and offset that normalize
// decoded integers to [-1, 1).
func sampleScale(bitDepth int) (divisor, offset float64, err error) {
	switch bitDepth {
	case 8:
		return 128, 128, nil
	case 16:
		return 32768, 0, nil
	case 24:
		return 8388608, 0, nil
	case 32:
		return 2147483648, 0, nil
	default:
		return 0, 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

// NextBlock implements Source.
func (s *FileSource) NextBlock(ctx context.Context) (SampleBlock, error) {
	if err := ctx.Err(); err != nil {
		return SampleBlock{}, err
	}
	if s.done {
		return SampleBlock{}, ErrEndOfStream
	}

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		s.done = true
		return SampleBlock{}, fmt.Errorf("%w: %w", ErrFileFormat, err)
	}
	// Keep whole frames only.
	n -= n % s.channels
	if n == 0 {
		s.done = true
		return SampleBlock{}, ErrEndOfStream
	}

	samples := make([]float64, n)
	for i, v := range s.buf.Data[:n] {
		samples[i] = (float64(v) - s.offset) / s.divisor
	}

	s.seq++
	return SampleBlock{
		Seq:        s.seq,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
		Samples:    samples,
	}, nil
}

func (s *FileSource) SampleRate() float64 { return s.sampleRate }
func (s *FileSource) Channels() int       { return s.channels }
func (s *FileSource) Live() bool          { return false }
func (s *FileSource) BitDepth() int       { return s.bitDepth }

// Close releases the file. It is safe to call more than once.
func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
