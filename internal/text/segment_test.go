package text

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sentences builds count sentences of exactly size characters each
// (including the terminal period), separated by single spaces.
func sentences(count, size int) string {
	parts := make([]string, count)
	for i := range parts {
		parts[i] = strings.Repeat(string(rune('a'+i%26)), size-1) + "."
	}
	return strings.Join(parts, " ")
}

func TestSegment_EmptyInput(t *testing.T) {
	assert.Empty(t, Segment("", 100))
	assert.Empty(t, Segment("   \n\t ", 100))
}

func TestSegment_ShortTextIsSingleChunk(t *testing.T) {
	input := "It was a dark night. The wind howled! Did anyone hear it?"
	chunks := Segment(input, 500)
	require.Len(t, chunks, 1)
	assert.Equal(t, input, chunks[0])
}

func TestSegment_GreedyAccumulation(t *testing.T) {
	input := "One two. Three four. Five six."
	chunks := Segment(input, 20)
	assert.Equal(t, []string{"One two. Three four.", "Five six."}, chunks)
}

func TestSegment_PreservesTerminalPunctuation(t *testing.T) {
	chunks := Segment("Stop! Why? Because.", 5)
	assert.Equal(t, []string{"Stop!", "Why?", "Because."}, chunks)
}

func TestSegment_NormalizedEtceteraEndsSentence(t *testing.T) {
	chunks := Segment(Normalize("Apples, pears, etc. Then plums."), 30)
	assert.Equal(t, []string{"Apples, pears, et cetera.", "Then plums."}, chunks)
}

func TestSegment_OversizedSentenceEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 40) + "end."
	input := "Short one. " + long + " Tail."
	chunks := Segment(input, 30)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Short one.", chunks[0])
	assert.Equal(t, long, chunks[1])
	assert.Equal(t, "Tail.", chunks[2])
}

func TestSegment_TrailingTextWithoutPunctuation(t *testing.T) {
	chunks := Segment("First sentence. and then no ending", 16)
	assert.Equal(t, []string{"First sentence.", "and then no ending"}, chunks)
}

func TestSegment_DecimalNumbersAreNotSentenceEnds(t *testing.T) {
	chunks := Segment("Pi is 3.14 roughly. Next.", 19)
	assert.Equal(t, []string{"Pi is 3.14 roughly.", "Next."}, chunks)
}

func TestSegment_ClosingQuoteStaysWithSentence(t *testing.T) {
	chunks := Segment(`He said "go." Then left.`, 13)
	assert.Equal(t, []string{`He said "go."`, "Then left."}, chunks)
}

func TestSegment_BoundAndReconstruction(t *testing.T) {
	input := sentences(23, 37) + "\n\n" + sentences(4, 120)
	const limit = 100

	chunks := Segment(input, limit)
	for _, c := range chunks {
		if len(c) > limit {
			assert.NotContains(t, c[:len(c)-1], ". ", "only a single oversized sentence may exceed the bound")
		}
		assert.Equal(t, strings.TrimSpace(c), c)
	}

	norm := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	assert.Equal(t, norm(input), norm(strings.Join(chunks, " ")))
}

func TestSegment_Deterministic(t *testing.T) {
	input := sentences(50, 33)
	first := Segment(input, 120)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Segment(input, 120))
	}
}

func TestSegment_CountsCharactersNotBytes(t *testing.T) {
	input := "Ça va très bien. Où êtes-vous?"
	chunks := Segment(input, len([]rune(input)))
	assert.Len(t, chunks, 1)
}

func TestSegment_ChapterSizes(t *testing.T) {
	short := sentences(3, 99)
	long := sentences(7, 99)

	assert.Len(t, Segment(short, 500), 1)
	assert.Len(t, Segment(long, 500), 2)
}

func TestSegmentChapter(t *testing.T) {
	chunks := SegmentChapter(4, "A b. C d. E f.", 5)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, 4, c.ChapterIndex)
		assert.Equal(t, i, c.Sequence)
	}
	assert.Equal(t, "E f.", chunks[2].Text)

	assert.Empty(t, SegmentChapter(1, "", 5))
}

func TestSegment_DefaultBound(t *testing.T) {
	chunks := Segment(sentences(6, 99), 0)
	assert.Len(t, chunks, 2)
}
