// Package events publishes notable pipeline occurrences, mostly absorbed
// failures, so they stay observable even though they never fail a run.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Type names an event.
type Type string

// Event types emitted by the pipeline.
const (
	ChunkSynthesisFailed   Type = "chunk.synthesis_failed"
	ChapterSynthesized     Type = "chapter.synthesized"
	ChapterSynthesisFailed Type = "chapter.synthesis_failed"
	AssemblyResampled      Type = "assembly.resampled"
	MetadataWriteFailed    Type = "metadata.write_failed"
	AudiobookWritten       Type = "audiobook.written"
	NoAudioProduced        Type = "audiobook.no_audio"
)

// Event is a single pipeline occurrence.
type Event struct {
	Type         Type      `json:"type"`
	JobID        string    `json:"job_id,omitempty"`
	ChapterIndex int       `json:"chapter_index,omitempty"`
	Sequence     int       `json:"sequence,omitempty"`
	Title        string    `json:"title,omitempty"`
	Attempts     int       `json:"attempts,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	Error        string    `json:"error,omitempty"`
	Time         time.Time `json:"time"`
}

// Sink receives events. Publish must be safe for concurrent use and should
// not block the pipeline for long.
type Sink interface {
	Publish(ctx context.Context, e Event) error
}

// Emit stamps e and publishes it, logging instead of failing when the sink
// rejects it.
func Emit(ctx context.Context, sink Sink, logger *slog.Logger, e Event) {
	if sink == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := sink.Publish(ctx, e); err != nil && logger != nil {
		logger.Warn("failed to publish event",
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// LogSink writes events to a structured logger. Failure events are logged
// at warn level, everything else at info.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Publish logs e.
func (s *LogSink) Publish(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Error != "" {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{slog.String("event", string(e.Type))}
	if e.JobID != "" {
		attrs = append(attrs, slog.String("job_id", e.JobID))
	}
	if e.ChapterIndex != 0 {
		attrs = append(attrs, slog.Int("chapter_index", e.ChapterIndex))
	}
	if e.Type == ChunkSynthesisFailed {
		attrs = append(attrs, slog.Int("sequence", e.Sequence), slog.Int("attempts", e.Attempts))
	}
	if e.Detail != "" {
		attrs = append(attrs, slog.String("detail", e.Detail))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	s.logger.LogAttrs(ctx, level, "pipeline event", attrs...)
	return nil
}

// Multi fans events out to several sinks.
type Multi []Sink

// Publish delivers e to every sink and joins their errors.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, Event) error { return nil }

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = Multi(nil)
	_ Sink = Discard{}
)
