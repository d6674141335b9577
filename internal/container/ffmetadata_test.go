package container

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maauso/audiobook-builder/internal/audio"
)

func TestBuildFFMetadata(t *testing.T) {
	got := BuildFFMetadata(Tags{
		Title:       "A=B; C#D",
		Artist:      "Jane Doe",
		Album:       "A=B; C#D",
		Year:        "2021",
		Genre:       Genre,
		Description: "line one\nline two",
		Chapters: []audio.Marker{
			{ChapterIndex: 1, Title: "Opening", StartOffsetMs: 0, DurationMs: 1500},
			{ChapterIndex: 2, Title: "Second", StartOffsetMs: 3500, DurationMs: 2000},
		},
	})

	want := `;FFMETADATA1
title=A\=B\; C\#D
artist=Jane Doe
album_artist=Jane Doe
album=A\=B\; C\#D
date=2021
genre=Audiobook
description=line one\
line two
media_type=2

[CHAPTER]
TIMEBASE=1/1000
START=0
END=1500
title=Opening

[CHAPTER]
TIMEBASE=1/1000
START=3500
END=5500
title=Second
`
	assert.Equal(t, want, got)
}

func TestBuildFFMetadata_OmitsEmptyKeys(t *testing.T) {
	got := BuildFFMetadata(Tags{Title: "Only Title"})

	assert.True(t, strings.HasPrefix(got, ";FFMETADATA1\ntitle=Only Title\n"))
	assert.NotContains(t, got, "artist=")
	assert.NotContains(t, got, "[CHAPTER]")
}

func TestChapterComment(t *testing.T) {
	markers := []audio.Marker{
		{ChapterIndex: 1, Title: "One"},
		{ChapterIndex: 2, Title: "Two"},
		{ChapterIndex: 4, Title: "Four"},
	}

	assert.Equal(t, "Chapter 1: One; Chapter 2: Two; Chapter 3: Four", ChapterComment(markers))
	assert.Empty(t, ChapterComment(nil))
}
