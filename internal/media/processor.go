// Package media provides audio encoding and container operations on top of
// the ffmpeg and ffprobe command line tools.
package media

import "context"

// EncodeOptions selects the codec and container for EncodeAudio.
type EncodeOptions struct {
	// Codec is the ffmpeg audio encoder, e.g. "libmp3lame" or "aac".
	Codec string
	// Bitrate is the target bitrate, e.g. "128k".
	Bitrate string
	// Muxer forces the output container, e.g. "mp3" or "mp4". Required
	// because outputs are written to temporary names without extensions.
	Muxer string
	// SampleRate resamples the output when set.
	SampleRate int
	// Channels sets the output channel count when set.
	Channels int
}

// RemuxOptions controls RemuxWithMetadata.
type RemuxOptions struct {
	// Muxer forces the output container.
	Muxer string
}

// Processor defines the audio operations the container writer relies on.
type Processor interface {
	// EncodeAudio encodes the audio file src into dst.
	EncodeAudio(ctx context.Context, src, dst string, opts EncodeOptions) error

	// RemuxWithMetadata copies the streams of src into dst, replacing global
	// metadata and chapters with the contents of an FFMETADATA1 file.
	RemuxWithMetadata(ctx context.Context, src, metadataFile, dst string, opts RemuxOptions) error

	// Inspect reads the duration, container tags and chapters of a file. The
	// tagger uses it to confirm that chapters survived the remux.
	Inspect(ctx context.Context, path string) (*MediaInfo, error)
}

// MediaChapter is one chapter as reported by ffprobe.
type MediaChapter struct {
	StartSeconds float64
	EndSeconds   float64
	Title        string
}

// MediaInfo is the subset of ffprobe output the pipeline inspects.
type MediaInfo struct {
	DurationSeconds float64
	Tags            map[string]string
	Chapters        []MediaChapter
}
