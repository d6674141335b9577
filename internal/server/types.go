// Package server provides the HTTP server for the audiobook builder.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/job"
)

// MetadataRequest carries the bibliographic fields of a submitted book.
type MetadataRequest struct {
	// Title is the book title.
	Title string `json:"title" validate:"required,max=500"`
	// Author is the book author.
	Author string `json:"author" validate:"max=300"`
	// Language is a BCP 47 tag selecting the voice profile.
	Language string `json:"language" validate:"omitempty,bcp47_language_tag"`
	// Date is the publication date; a four digit year is extracted from it.
	Date string `json:"date"`
	// Description is embedded as the description tag.
	Description string `json:"description"`
}

// ChapterRequest is one chapter of a submitted book.
type ChapterRequest struct {
	// Index is the 1-based chapter position. Zero means positional.
	Index int `json:"index" validate:"min=0"`
	// Title is the chapter title.
	Title string `json:"title" validate:"max=500"`
	// Text is the chapter text. Empty text produces an excluded chapter.
	Text string `json:"text"`
}

// CreateAudiobookRequest is the HTTP request body for building an audiobook.
type CreateAudiobookRequest struct {
	// Metadata holds the book title, author and related tags.
	Metadata MetadataRequest `json:"metadata"`
	// Chapters are the chapters in book order.
	Chapters []ChapterRequest `json:"chapters" validate:"required,min=1,dive"`
	// Format is the output container: "mp3" or "m4b".
	Format string `json:"format" validate:"omitempty,oneof=mp3 m4b"`
	// Quality is the encoding tier: "standard" or "high".
	Quality string `json:"quality" validate:"omitempty,oneof=standard high"`
	// PushToS3 indicates whether to upload the finished audiobook to S3.
	PushToS3 bool `json:"push_to_s3"`
}

// Book converts the request into the pipeline input model.
func (r CreateAudiobookRequest) Book() *book.Book {
	b := &book.Book{
		Metadata: book.Metadata{
			Title:       r.Metadata.Title,
			Author:      r.Metadata.Author,
			Language:    r.Metadata.Language,
			Date:        r.Metadata.Date,
			Description: r.Metadata.Description,
		},
		Chapters: make([]book.Chapter, len(r.Chapters)),
	}
	for i, ch := range r.Chapters {
		b.Chapters[i] = book.Chapter{Index: ch.Index, Title: ch.Title, Text: ch.Text}
	}
	return b
}

// CreateAudiobookResponse is the HTTP response after accepting a build.
type CreateAudiobookResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// ChapterResponse reports the state of one chapter.
type ChapterResponse struct {
	Index        int    `json:"index"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	ChunksTotal  int    `json:"chunks_total"`
	ChunksFailed int    `json:"chunks_failed"`
	Error        string `json:"error,omitempty"`
}

// MarkerResponse is a chapter marker of the finished audiobook.
type MarkerResponse struct {
	ChapterIndex  int    `json:"chapter_index"`
	Title         string `json:"title"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	DurationMs    int64  `json:"duration_ms"`
}

// SummaryResponse reports chapters attempted versus chapters included.
type SummaryResponse struct {
	ChaptersAttempted int    `json:"chapters_attempted"`
	ChaptersIncluded  int    `json:"chapters_included"`
	ChunksTotal       int    `json:"chunks_total"`
	ChunksFailed      int    `json:"chunks_failed"`
	Duration          string `json:"duration"`
	DurationMs        int64  `json:"duration_ms"`
}

// AudiobookResponse is the HTTP response for getting job details.
type AudiobookResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// Status is the current job status.
	Status string `json:"status"`
	// Title is the book title.
	Title string `json:"title"`
	// Author is the book author.
	Author string `json:"author,omitempty"`
	// Format is the output container.
	Format string `json:"format,omitempty"`
	// Quality is the encoding tier.
	Quality string `json:"quality,omitempty"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Error contains any error message if the job failed.
	Error string `json:"error,omitempty"`
	// MetadataWarning is set when the file was written without tags.
	MetadataWarning string `json:"metadata_warning,omitempty"`
	// Chapters reports per-chapter state in book order.
	Chapters []ChapterResponse `json:"chapters"`
	// Markers are the chapter markers of the finished audiobook.
	Markers []MarkerResponse `json:"markers,omitempty"`
	// Summary is present once the job finished assembling.
	Summary *SummaryResponse `json:"summary,omitempty"`
	// FileURL is the download path of the finished audiobook.
	FileURL string `json:"file_url,omitempty"`
	// OutputURL is the S3 URL of the audiobook (if push_to_s3=true and written).
	OutputURL string `json:"output_url,omitempty"`
	// CreatedAt is when the job was accepted.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the job reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListAudiobooksResponse is the HTTP response for listing jobs.
type ListAudiobooksResponse struct {
	Audiobooks []AudiobookResponse `json:"audiobooks"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newAudiobookResponse(j *job.Job) AudiobookResponse {
	resp := AudiobookResponse{
		ID:              j.ID,
		Status:          string(j.Status),
		Title:           j.Title,
		Author:          j.Author,
		Format:          j.Format,
		Quality:         j.Quality,
		Progress:        j.Progress,
		Error:           j.Error,
		MetadataWarning: j.MetadataWarning,
		Chapters:        make([]ChapterResponse, len(j.Chapters)),
		OutputURL:       j.OutputURL,
		CreatedAt:       j.CreatedAt,
	}
	for i, ch := range j.Chapters {
		resp.Chapters[i] = ChapterResponse{
			Index:        ch.Index,
			Title:        ch.Title,
			Status:       string(ch.Status),
			ChunksTotal:  ch.ChunksTotal,
			ChunksFailed: ch.ChunksFailed,
			Error:        ch.Error,
		}
	}
	for _, m := range j.Markers {
		resp.Markers = append(resp.Markers, MarkerResponse{
			ChapterIndex:  m.ChapterIndex,
			Title:         m.Title,
			StartOffsetMs: m.StartOffsetMs,
			DurationMs:    m.DurationMs,
		})
	}
	if s := j.Summary; s != nil {
		resp.Summary = &SummaryResponse{
			ChaptersAttempted: s.ChaptersAttempted,
			ChaptersIncluded:  s.ChaptersIncluded,
			ChunksTotal:       s.ChunksTotal,
			ChunksFailed:      s.ChunksFailed,
			Duration:          audio.FormatDuration(s.Duration),
			DurationMs:        s.Duration.Milliseconds(),
		}
	}
	if j.Status == job.StatusWritten && j.OutputPath != "" {
		resp.FileURL = "/audiobooks/" + j.ID + "/file"
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}
