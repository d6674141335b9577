// Package audio holds the waveform model of the pipeline and the assembler
// that joins per-chunk audio into one continuous track with chapter markers.
//
// Samples are mono, signed 16-bit values held in int slices so they map
// directly onto go-audio buffers.
package audio

import (
	"fmt"
	"time"
)

// Unit is the audio synthesized for one text chunk.
type Unit struct {
	ChapterIndex int
	Sequence     int
	Samples      []int
	SampleRate   int
}

// DurationMs returns the unit length in whole milliseconds.
func (u Unit) DurationMs() int64 {
	return samplesToMs(len(u.Samples), u.SampleRate)
}

// ChapterAudio is one chapter's units joined with inter-unit silence.
type ChapterAudio struct {
	ChapterIndex int
	Title        string
	Samples      []int
	SampleRate   int
}

// DurationMs is derived from the sample count and rate.
func (c ChapterAudio) DurationMs() int64 {
	return samplesToMs(len(c.Samples), c.SampleRate)
}

// Marker locates a chapter inside the assembled track.
type Marker struct {
	ChapterIndex  int    `json:"chapter_index"`
	Title         string `json:"title"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	DurationMs    int64  `json:"duration_ms"`
}

// EndOffsetMs returns the offset at which the chapter audio ends.
func (m Marker) EndOffsetMs() int64 {
	return m.StartOffsetMs + m.DurationMs
}

// Track is the fully assembled audiobook waveform.
type Track struct {
	Samples    []int
	SampleRate int
	Markers    []Marker
}

// DurationMs returns the track length in whole milliseconds.
func (t *Track) DurationMs() int64 {
	return samplesToMs(len(t.Samples), t.SampleRate)
}

func samplesToMs(n, rate int) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(n) * 1000 / int64(rate)
}

func msToSamples(ms int64, rate int) int {
	return int(ms * int64(rate) / 1000)
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
