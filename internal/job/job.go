// Package job provides the Job aggregate for audiobook builds submitted to
// the service. It tracks the run-level state machine, per-chapter progress
// and the final artifact, and defines the repository port for persistence.
package job

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is accepted and waiting to start.
	StatusPending Status = "PENDING"
	// StatusSynthesizing indicates chapters are being synthesized.
	StatusSynthesizing Status = "SYNTHESIZING"
	// StatusAssembling indicates the track is being assembled and written.
	StatusAssembling Status = "ASSEMBLING"
	// StatusWritten indicates the audiobook file was produced.
	StatusWritten Status = "WRITTEN"
	// StatusNoAudioProduced indicates every chapter failed.
	StatusNoAudioProduced Status = "NO_AUDIO_PRODUCED"
	// StatusFailed indicates the job stopped on an unrecoverable error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by the user.
	StatusCancelled Status = "CANCELLED"
)

// Static errors for the job aggregate.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrUnknownStatus is returned by ParseStatus for unrecognized names.
	ErrUnknownStatus = errors.New("unknown job status")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:         {StatusSynthesizing, StatusFailed, StatusCancelled},
	StatusSynthesizing:    {StatusAssembling, StatusFailed, StatusCancelled},
	StatusAssembling:      {StatusWritten, StatusNoAudioProduced, StatusFailed, StatusCancelled},
	StatusWritten:         {},
	StatusNoAudioProduced: {},
	StatusFailed:          {},
	StatusCancelled:       {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	allowed, ok := validTransitions[s]
	return ok && len(allowed) == 0
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := validTransitions[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return st, nil
}

// ChapterStatus represents the status of a single chapter.
type ChapterStatus string

const (
	// ChapterStatusPending indicates the chapter is waiting for a worker.
	ChapterStatusPending ChapterStatus = "PENDING"
	// ChapterStatusSynthesizing indicates the chapter is being synthesized.
	ChapterStatusSynthesizing ChapterStatus = "SYNTHESIZING"
	// ChapterStatusSynthesized indicates at least one chunk produced audio.
	ChapterStatusSynthesized ChapterStatus = "SYNTHESIZED"
	// ChapterStatusFailed indicates the chapter was excluded.
	ChapterStatusFailed ChapterStatus = "FAILED"
)

// Chapter tracks one chapter of the book being built.
type Chapter struct {
	// Index is the 1-based chapter position in the book.
	Index int
	// Title is the chapter title.
	Title string
	// Status is the current chapter status.
	Status ChapterStatus
	// ChunksTotal is the number of text chunks the chapter was split into.
	ChunksTotal int
	// ChunksFailed is the number of chunks dropped after retries.
	ChunksFailed int
	// Error explains why the chapter was excluded.
	Error string
	// StartedAt is when synthesis of the chapter started.
	StartedAt time.Time
	// CompletedAt is when the chapter reached a terminal status.
	CompletedAt time.Time
}

func (c Chapter) done() bool {
	return c.Status == ChapterStatusSynthesized || c.Status == ChapterStatusFailed
}

// Summary is the completion report of a job.
type Summary struct {
	ChaptersAttempted int
	ChaptersIncluded  int
	ChunksTotal       int
	ChunksFailed      int
	// Duration is the length of the produced audio.
	Duration time.Duration
}

// Job represents an audiobook build job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// Title is the book title.
	Title string
	// Author is the book author.
	Author string
	// Format is the output container format.
	Format string
	// Quality is the encoding quality tier.
	Quality string
	// Chapters tracks per-chapter progress in book order.
	Chapters []Chapter
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string
	// MetadataWarning is set when the file was written without tags.
	MetadataWarning string
	// OutputPath is the path to the finished audiobook.
	OutputPath string
	// OutputURL is the S3 URL if PushToS3 was true.
	OutputURL string
	// PushToS3 indicates whether to upload the result to S3.
	PushToS3 bool
	// Markers are the chapter markers of the finished audiobook.
	Markers []audio.Marker
	// Summary is set once the job finished assembling.
	Summary *Summary
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial PENDING status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial PENDING status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusPending,
		Chapters:  make([]Chapter, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	// Set timestamps based on state
	switch {
	case status == StatusSynthesizing:
		j.StartedAt = j.UpdatedAt
	case status.IsTerminal():
		j.CompletedAt = j.UpdatedAt
	}
	if status == StatusWritten {
		j.Progress = 100
	}

	return nil
}

// Start transitions the job from PENDING to SYNTHESIZING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusSynthesizing)
}

// BeginAssembly transitions the job from SYNTHESIZING to ASSEMBLING.
func (j *Job) BeginAssembly() error {
	return j.TransitionTo(StatusAssembling)
}

// Complete records the output and transitions the job to WRITTEN.
func (j *Job) Complete(outputPath, outputURL string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusWritten); err != nil {
		return err
	}
	j.OutputPath = outputPath
	j.OutputURL = outputURL
	return nil
}

// NoAudio transitions the job to NO_AUDIO_PRODUCED.
func (j *Job) NoAudio() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusNoAudioProduced); err != nil {
		return err
	}
	j.Error = "no chapter produced any audio"
	return nil
}

// Fail transitions the job to FAILED state with an error message.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetChapters sets the chapters for this job.
func (j *Job) SetChapters(chapters []Chapter) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Chapters = chapters
	j.UpdatedAt = time.Now()
}

// UpdateChapter replaces the chapter with the same Index and recomputes
// progress. Synthesis accounts for the first 90 percent.
func (j *Job) UpdateChapter(chapter Chapter) {
	j.mu.Lock()
	defer j.mu.Unlock()

	done := 0
	for i := range j.Chapters {
		if j.Chapters[i].Index == chapter.Index {
			j.Chapters[i] = chapter
		}
		if j.Chapters[i].done() {
			done++
		}
	}
	if n := len(j.Chapters); n > 0 {
		j.Progress = done * 90 / n
	}
	j.UpdatedAt = time.Now()
}

// ChapterByIndex returns a copy of the chapter with the given index.
func (j *Job) ChapterByIndex(index int) (Chapter, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, c := range j.Chapters {
		if c.Index == index {
			return c, true
		}
	}
	return Chapter{}, false
}

// SetResult records the markers and summary of a finished run.
func (j *Job) SetResult(markers []audio.Marker, summary Summary, metadataWarning string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Markers = markers
	j.Summary = &summary
	j.MetadataWarning = metadataWarning
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status.IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	chapters := make([]Chapter, len(j.Chapters))
	copy(chapters, j.Chapters)

	var markers []audio.Marker
	if j.Markers != nil {
		markers = make([]audio.Marker, len(j.Markers))
		copy(markers, j.Markers)
	}

	var summary *Summary
	if j.Summary != nil {
		s := *j.Summary
		summary = &s
	}

	return &Job{
		ID:              j.ID,
		Status:          j.Status,
		Title:           j.Title,
		Author:          j.Author,
		Format:          j.Format,
		Quality:         j.Quality,
		Chapters:        chapters,
		Progress:        j.Progress,
		Error:           j.Error,
		MetadataWarning: j.MetadataWarning,
		OutputPath:      j.OutputPath,
		OutputURL:       j.OutputURL,
		PushToS3:        j.PushToS3,
		Markers:         markers,
		Summary:         summary,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
	}
}
