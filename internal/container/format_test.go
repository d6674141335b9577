package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-builder/internal/book"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" M4B ")
	require.NoError(t, err)
	assert.Equal(t, FormatM4B, f)
	assert.True(t, f.SupportsChapters())

	f, err = ParseFormat("mp3")
	require.NoError(t, err)
	assert.False(t, f.SupportsChapters())

	_, err = ParseFormat("ogg")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParseQuality(t *testing.T) {
	q, err := ParseQuality("Standard")
	require.NoError(t, err)
	assert.Equal(t, QualityStandard, q)

	_, err = ParseQuality("lossless")
	assert.ErrorIs(t, err, ErrUnsupportedQuality)
}

func TestFormat_Bitrate(t *testing.T) {
	assert.Equal(t, "128k", FormatMP3.Bitrate(QualityStandard))
	assert.Equal(t, "192k", FormatMP3.Bitrate(QualityHigh))
	assert.Equal(t, "64k", FormatM4B.Bitrate(QualityStandard))
	assert.Equal(t, "128k", FormatM4B.Bitrate(QualityHigh))
}

func TestOutputFilename(t *testing.T) {
	tests := []struct {
		name   string
		meta   book.Metadata
		format Format
		want   string
	}{
		{
			name:   "plain",
			meta:   book.Metadata{Title: "Moby Dick", Author: "Herman Melville"},
			format: FormatM4B,
			want:   "Herman_Melville-Moby_Dick.m4b",
		},
		{
			name:   "unsafe characters dropped",
			meta:   book.Metadata{Title: "What? Why: How/Now", Author: "O'Brien, Flann"},
			format: FormatMP3,
			want:   "OBrien_Flann-What_Why_HowNow.mp3",
		},
		{
			name:   "missing author",
			meta:   book.Metadata{Title: "Anonymous Tales"},
			format: FormatMP3,
			want:   "Unknown-Anonymous_Tales.mp3",
		},
		{
			name:   "length caps",
			meta:   book.Metadata{Title: "T" + strings.Repeat("a", 80), Author: strings.Repeat("b", 40)},
			format: FormatM4B,
			want:   strings.Repeat("b", 30) + "-T" + strings.Repeat("a", 49) + ".m4b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputFilename(tt.meta, tt.format))
		})
	}
}
