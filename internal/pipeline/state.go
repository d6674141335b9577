package pipeline

import (
	"time"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/container"
)

// ChapterState is the per-chapter state machine:
// Pending -> Synthesizing -> {Synthesized | Failed}.
type ChapterState string

const (
	ChapterPending      ChapterState = "PENDING"
	ChapterSynthesizing ChapterState = "SYNTHESIZING"
	ChapterSynthesized  ChapterState = "SYNTHESIZED"
	ChapterFailed       ChapterState = "FAILED"
)

// Stage is the run-level state: Synthesizing, then Assembling, then
// Written or NoAudioProduced.
type Stage string

const (
	StageSynthesizing    Stage = "SYNTHESIZING"
	StageAssembling      Stage = "ASSEMBLING"
	StageWritten         Stage = "WRITTEN"
	StageNoAudioProduced Stage = "NO_AUDIO_PRODUCED"
)

// ChapterReport describes a chapter state change.
type ChapterReport struct {
	Index        int
	Title        string
	State        ChapterState
	ChunksTotal  int
	ChunksFailed int
	// Err is set for Failed chapters.
	Err error
}

// Observer is notified of progress. Calls for different chapters may arrive
// concurrently and out of index order.
type Observer interface {
	ChapterChanged(r ChapterReport)
	StageChanged(s Stage)
}

type nopObserver struct{}

func (nopObserver) ChapterChanged(ChapterReport) {}
func (nopObserver) StageChanged(Stage)           {}

// FailedChapter is a chapter excluded from the audiobook.
type FailedChapter struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Summary reports chapters attempted versus chapters included.
type Summary struct {
	ChaptersAttempted int             `json:"chapters_attempted"`
	ChaptersIncluded  int             `json:"chapters_included"`
	FailedChapters    []FailedChapter `json:"failed_chapters,omitempty"`
	ChunksTotal       int             `json:"chunks_total"`
	ChunksFailed      int             `json:"chunks_failed"`
	// Duration is the length of the produced audio.
	Duration time.Duration `json:"duration"`
	// Elapsed is the wall time of the run.
	Elapsed time.Duration `json:"elapsed"`
}

// Result is the outcome of a run.
type Result struct {
	OutputPath string
	Format     container.Format
	Markers    []audio.Marker
	SampleRate int
	Summary    Summary
	Tagged     bool
	// MetadataErr is set when the file was written without tags.
	MetadataErr error
}
