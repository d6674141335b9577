// Package text prepares chapter text for speech synthesis: it normalizes
// characters a synthesizer reads badly and partitions text into
// sentence-bounded chunks under a size bound.
package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChunkLength is the chunk bound used when none is configured.
const DefaultMaxChunkLength = 500

// ErrNoChunks is reported for chapters whose text yields no chunks.
var ErrNoChunks = errors.New("text: chapter has no text to synthesize")

// Chunk is a sentence-bounded unit of chapter text sized for one synthesis call.
type Chunk struct {
	ChapterIndex int
	Sequence     int
	Text         string
}

// sentenceEnd matches terminal punctuation followed by whitespace. Closing
// quotes and brackets directly after the punctuation stay with the sentence.
var sentenceEnd = regexp.MustCompile(`[.!?]+["'\x{201D}\x{2019})\]]*\s+`)

type span struct{ start, end int }

// Segment partitions text into chunks of at most maxLength characters without
// breaking sentences. A single sentence longer than maxLength is emitted whole.
// Whitespace inside a chunk is kept as it appears in text; whitespace at chunk
// boundaries is dropped. Empty or whitespace-only text yields no chunks.
func Segment(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = DefaultMaxChunkLength
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	cur := sentences[0]
	for _, s := range sentences[1:] {
		if charLen(text[cur.start:s.end]) > maxLength {
			chunks = append(chunks, text[cur.start:cur.end])
			cur = s
			continue
		}
		cur.end = s.end
	}
	return append(chunks, text[cur.start:cur.end])
}

// SegmentChapter segments a chapter's text into numbered chunks.
func SegmentChapter(chapterIndex int, text string, maxLength int) []Chunk {
	parts := Segment(text, maxLength)
	chunks := make([]Chunk, len(parts))
	for i, p := range parts {
		chunks[i] = Chunk{ChapterIndex: chapterIndex, Sequence: i, Text: p}
	}
	return chunks
}

// splitSentences returns the byte spans of each sentence in text, trimmed of
// surrounding whitespace, in order.
func splitSentences(text string) []span {
	var spans []span
	start := 0
	for _, m := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s, ok := trimSpan(text, start, m[1]); ok {
			spans = append(spans, s)
		}
		start = m[1]
	}
	if s, ok := trimSpan(text, start, len(text)); ok {
		spans = append(spans, s)
	}
	return spans
}

func trimSpan(text string, start, end int) (span, bool) {
	seg := text[start:end]
	trimmed := strings.TrimSpace(seg)
	if trimmed == "" {
		return span{}, false
	}
	s := start + strings.Index(seg, trimmed)
	return span{start: s, end: s + len(trimmed)}, true
}

func charLen(s string) int {
	return utf8.RuneCountInString(s)
}
