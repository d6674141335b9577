package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth is the sample depth of every buffer handled by the pipeline.
const BitDepth = 16

// ErrInvalidWAV is returned when a byte stream is not a decodable PCM WAV file.
var ErrInvalidWAV = errors.New("audio: invalid WAV data")

// WriteWAV encodes mono 16-bit samples as a PCM WAV file.
func WriteWAV(w io.WriteSeeker, samples []int, sampleRate int) error {
	enc := wav.NewEncoder(w, sampleRate, BitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: BitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// ReadWAV decodes a PCM WAV stream into mono 16-bit samples. Multi-channel
// input is averaged down to one channel and other bit depths are rescaled.
func ReadWAV(r io.ReadSeeker) ([]int, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrInvalidWAV, err)
	}
	if buf == nil || buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, ErrInvalidWAV
	}

	channels := buf.Format.NumChannels
	if channels <= 0 {
		channels = 1
	}
	depth := int(dec.BitDepth)

	frames := len(buf.Data) / channels
	out := make([]int, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += to16Bit(buf.Data[i*channels+c], depth)
		}
		out[i] = sum / channels
	}
	return out, buf.Format.SampleRate, nil
}

func to16Bit(v, depth int) int {
	switch {
	case depth == 8:
		return (v - 128) << 8
	case depth > 16:
		return v >> (depth - 16)
	default:
		return v
	}
}
