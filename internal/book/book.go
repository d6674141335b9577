// Package book provides the input model for an audiobook run: ordered
// chapters plus bibliographic metadata, as produced by the text extraction
// collaborator, and a manifest loader for feeding it from a file.
package book

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Static errors for book validation.
var (
	// ErrNoChapters is returned when a book has no chapters at all.
	ErrNoChapters = errors.New("book: at least one chapter is required")
	// ErrTitleRequired is returned when the book metadata has no title.
	ErrTitleRequired = errors.New("book: title is required")
	// ErrDuplicateIndex is returned when two chapters share an index.
	ErrDuplicateIndex = errors.New("book: duplicate chapter index")
	// ErrInvalidBook is returned when field validation fails.
	ErrInvalidBook = errors.New("book: invalid")
)

// Metadata holds the bibliographic information embedded into the output file.
type Metadata struct {
	Title       string `yaml:"title" json:"title" validate:"required"`
	Author      string `yaml:"author" json:"author,omitempty"`
	Language    string `yaml:"language" json:"language,omitempty"`
	Date        string `yaml:"date" json:"date,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`
}

// Chapter is one unit of book text. It is read-only once extracted.
type Chapter struct {
	// Index is the 1-based position of the chapter in the book. It decides
	// the order of chapters in the final audio, regardless of completion order.
	Index     int    `yaml:"index" json:"index"`
	Title     string `yaml:"title" json:"title"`
	Text      string `yaml:"text" json:"text"`
	WordCount int    `yaml:"word_count" json:"word_count,omitempty"`
}

// Book is the full input of a pipeline run.
type Book struct {
	Metadata Metadata  `yaml:"metadata" json:"metadata"`
	Chapters []Chapter `yaml:"chapters" json:"chapters"`
}

var validate = validator.New()

// Normalize fills in derived fields: positional indices for chapters that
// carry none, a default title, and word counts.
func (b *Book) Normalize() {
	for i := range b.Chapters {
		ch := &b.Chapters[i]
		if ch.Index <= 0 {
			ch.Index = i + 1
		}
		if strings.TrimSpace(ch.Title) == "" {
			ch.Title = fmt.Sprintf("Chapter %d", ch.Index)
		}
		if ch.WordCount == 0 {
			ch.WordCount = len(strings.Fields(ch.Text))
		}
	}
}

// Validate checks the minimal structure needed to run the pipeline.
// Empty chapter text is allowed; it produces a zero-chunk chapter.
func (b *Book) Validate() error {
	if strings.TrimSpace(b.Metadata.Title) == "" {
		return ErrTitleRequired
	}
	if len(b.Chapters) == 0 {
		return ErrNoChapters
	}
	if err := validate.Struct(b); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBook, err)
	}
	seen := make(map[int]struct{}, len(b.Chapters))
	for _, ch := range b.Chapters {
		if _, dup := seen[ch.Index]; dup {
			return fmt.Errorf("%w %d", ErrDuplicateIndex, ch.Index)
		}
		seen[ch.Index] = struct{}{}
	}
	return nil
}

// Language returns the metadata language, or fallback when none is set.
func (b *Book) Language(fallback string) string {
	if lang := strings.TrimSpace(b.Metadata.Language); lang != "" {
		return lang
	}
	return fallback
}
