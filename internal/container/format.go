// Package container writes the assembled track into its final audio container
// with bibliographic tags and chapter markers.
//
// M4B files carry native chapter records. MP3 files have no chapter support,
// so the chapter list degrades to a "Chapter N: <title>" comment frame.
package container

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/audiobook-builder/internal/book"
)

// Format is an output container format.
type Format string

// Supported formats.
const (
	FormatMP3 Format = "mp3"
	FormatM4B Format = "m4b"
)

// Quality selects the encoding bitrate.
type Quality string

// Supported quality levels.
const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// Errors for format selection.
var (
	ErrUnsupportedFormat  = errors.New("container: unsupported output format")
	ErrUnsupportedQuality = errors.New("container: unsupported audio quality")
)

type encoding struct {
	codec    string
	muxer    string
	bitrates map[Quality]string
}

var encodings = map[Format]encoding{
	FormatMP3: {
		codec:    "libmp3lame",
		muxer:    "mp3",
		bitrates: map[Quality]string{QualityStandard: "128k", QualityHigh: "192k"},
	},
	FormatM4B: {
		codec:    "aac",
		muxer:    "mp4",
		bitrates: map[Quality]string{QualityStandard: "64k", QualityHigh: "128k"},
	},
}

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := encodings[f]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
	return f, nil
}

// ParseQuality parses a quality name case-insensitively.
func ParseQuality(s string) (Quality, error) {
	q := Quality(strings.ToLower(strings.TrimSpace(s)))
	switch q {
	case QualityStandard, QualityHigh:
		return q, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedQuality, s)
}

// Extension returns the file extension without a dot.
func (f Format) Extension() string {
	return string(f)
}

// SupportsChapters reports whether the container stores native chapter markers.
func (f Format) SupportsChapters() bool {
	return f == FormatM4B
}

// Bitrate returns the encoder bitrate for q.
func (f Format) Bitrate(q Quality) string {
	return encodings[f].bitrates[q]
}

const (
	maxTitleLen  = 50
	maxAuthorLen = 30
)

// OutputFilename builds "<author>-<title>.<ext>" from the book metadata.
// Characters outside [A-Za-z0-9-_. ] are dropped and spaces become
// underscores.
func OutputFilename(meta book.Metadata, format Format) string {
	title := safeName(meta.Title, maxTitleLen)
	if title == "" {
		title = "Unknown_Title"
	}
	author := safeName(meta.Author, maxAuthorLen)
	if author == "" {
		author = "Unknown"
	}
	return author + "-" + title + "." + format.Extension()
}

func safeName(s string, limit int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
		if b.Len() >= limit {
			break
		}
	}
	return b.String()
}
