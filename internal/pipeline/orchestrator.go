// Package pipeline turns a book into a single audiobook file. It segments
// chapter text, drives the synthesizer over a bounded pool of chapter
// workers, joins all chapter results, assembles them in index order and
// hands the track to the container writer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/events"
	"github.com/maauso/audiobook-builder/internal/synth"
	"github.com/maauso/audiobook-builder/internal/synthesis"
	"github.com/maauso/audiobook-builder/internal/text"
)

const instrumentationName = "github.com/maauso/audiobook-builder/internal/pipeline"

// Request errors.
var (
	ErrBookRequired       = errors.New("pipeline: book is required")
	ErrOutputPathRequired = errors.New("pipeline: output path is required")
)

// Scratch provides per-run working directories.
type Scratch interface {
	ScratchDir(ctx context.Context, runID string) (string, error)
	Cleanup(ctx context.Context, paths []string) error
}

// Writer persists the assembled track.
type Writer interface {
	Write(ctx context.Context, req container.WriteRequest) (*container.WriteResult, error)
}

// Config holds the tunables of a run.
type Config struct {
	MaxChunkLength int
	MaxWorkers     int
	RetryAttempts  int
	RetryDelay     time.Duration
	// SampleRate fixes the track rate. Zero uses the rate of the first
	// synthesized unit.
	SampleRate       int
	ChapterPause     time.Duration
	InterUnitSilence time.Duration
	NormalizeText    bool
	DefaultLanguage  string
	Format           container.Format
	Quality          container.Quality
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		MaxChunkLength:   text.DefaultMaxChunkLength,
		MaxWorkers:       2,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		SampleRate:       22050,
		ChapterPause:     audio.DefaultChapterPause,
		InterUnitSilence: audio.DefaultInterUnitSilence,
		NormalizeText:    true,
		DefaultLanguage:  synth.DefaultLanguage,
		Format:           container.FormatM4B,
		Quality:          container.QualityHigh,
	}
}

// Request describes one run.
type Request struct {
	JobID      string
	Book       *book.Book
	Format     container.Format
	Quality    container.Quality
	OutputPath string
	Observer   Observer
}

// Orchestrator runs the audiobook pipeline.
type Orchestrator struct {
	cfg      Config
	engine   synth.Engine
	profiles synth.Profiles
	scratch  Scratch
	writer   Writer
	sink     events.Sink
	logger   *slog.Logger
	tracer   trace.Tracer

	chaptersFailed metric.Int64Counter
	runDuration    metric.Float64Histogram
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventSink sets where pipeline events are published.
func WithEventSink(s events.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithProfiles replaces the language to voice table.
func WithProfiles(p synth.Profiles) Option {
	return func(o *Orchestrator) {
		if len(p) > 0 {
			o.profiles = p
		}
	}
}

// NewOrchestrator creates an Orchestrator. Unset chunk length, worker,
// retry, language, format and quality settings fall back to DefaultConfig;
// pauses, silence and normalization are taken as given.
func NewOrchestrator(cfg Config, engine synth.Engine, scratch Scratch, writer Writer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      withDefaults(cfg),
		engine:   engine,
		profiles: synth.DefaultProfiles(),
		scratch:  scratch,
		writer:   writer,
		sink:     events.Discard{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if o.chaptersFailed, err = meter.Int64Counter("audiobook.chapters.failed",
		metric.WithDescription("Chapters excluded because no chunk survived")); err != nil {
		o.logger.Warn("failed to create counter", slog.String("error", err.Error()))
		o.chaptersFailed = noop.Int64Counter{}
	}
	if o.runDuration, err = meter.Float64Histogram("audiobook.run.duration",
		metric.WithDescription("Wall time of audiobook runs"), metric.WithUnit("s")); err != nil {
		o.logger.Warn("failed to create histogram", slog.String("error", err.Error()))
		o.runDuration = noop.Float64Histogram{}
	}
	return o
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxChunkLength <= 0 {
		cfg.MaxChunkLength = def.MaxChunkLength
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.SampleRate < 0 {
		cfg.SampleRate = 0
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = def.DefaultLanguage
	}
	if cfg.Format == "" {
		cfg.Format = def.Format
	}
	if cfg.Quality == "" {
		cfg.Quality = def.Quality
	}
	return cfg
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// chapterOutcome is one entry of the results map.
type chapterOutcome struct {
	units  []audio.Unit
	total  int
	failed int
	err    error
}

// Run builds one audiobook. Chunk and chapter failures are absorbed and
// reported in the summary. The only errors returned are
// audio.ErrNoAudioProduced, container.ErrContainerEncodeFailed, request
// and book validation errors, synthesizer acquisition errors and the context
// error on cancellation. On audio.ErrNoAudioProduced the result still
// carries the summary. Scratch files are removed before Run returns. The
// caller's book is not modified.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result *Result, err error) {
	if req.Book == nil || len(req.Book.Chapters) == 0 {
		return nil, ErrBookRequired
	}
	if req.OutputPath == "" {
		return nil, ErrOutputPathRequired
	}
	// Results are keyed by chapter index, so indices must be set and unique.
	b := *req.Book
	b.Chapters = slices.Clone(req.Book.Chapters)
	b.Normalize()
	if err := b.Validate(); err != nil {
		return nil, err
	}
	req.Book = &b
	if req.Format == "" {
		req.Format = o.cfg.Format
	}
	if req.Quality == "" {
		req.Quality = o.cfg.Quality
	}
	observer := req.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	started := time.Now()
	logger := o.logger.With(slog.String("job_id", req.JobID))

	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("job_id", req.JobID),
		attribute.Int("chapters", len(req.Book.Chapters)),
		attribute.String("format", string(req.Format)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		o.runDuration.Record(context.WithoutCancel(ctx), time.Since(started).Seconds(),
			metric.WithAttributes(attribute.Bool("success", err == nil)))
	}()

	scratchDir, err := o.scratch.ScratchDir(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if cerr := o.scratch.Cleanup(context.WithoutCancel(ctx), []string{scratchDir}); cerr != nil {
			logger.Warn("failed to remove scratch directory", slog.String("error", cerr.Error()))
		}
	}()

	language := req.Book.Language(o.cfg.DefaultLanguage)
	profile, ok := o.profiles.Lookup(language)
	if !ok {
		logger.Warn("no voice profile for language, using engine defaults", slog.String("language", language))
		profile = synth.Profile{Language: language}
	}
	handle, err := o.engine.Acquire(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("acquire synthesizer: %w", err)
	}
	defer func() {
		if cerr := handle.Close(); cerr != nil {
			logger.Warn("failed to release synthesizer", slog.String("error", cerr.Error()))
		}
	}()

	coord := synthesis.NewCoordinator(handle,
		synthesis.WithMaxInFlight(o.cfg.MaxWorkers),
		synthesis.WithRetryAttempts(o.cfg.RetryAttempts),
		synthesis.WithRetryDelay(o.cfg.RetryDelay, 0),
		synthesis.WithSampleRateHint(o.cfg.SampleRate),
		synthesis.WithJobID(req.JobID),
		synthesis.WithEventSink(o.sink),
		synthesis.WithLogger(logger),
	)

	logger.Info("starting audiobook run",
		slog.String("title", req.Book.Metadata.Title),
		slog.Int("chapters", len(req.Book.Chapters)),
		slog.String("language", language),
		slog.String("voice", profile.Voice),
		slog.Int("max_workers", o.cfg.MaxWorkers),
	)

	observer.StageChanged(StageSynthesizing)
	outcomes := o.synthesizeChapters(ctx, req, coord, observer, logger)
	if err := ctx.Err(); err != nil {
		logger.Warn("audiobook run cancelled", slog.String("error", err.Error()))
		return nil, err
	}

	summary := Summary{ChaptersAttempted: len(req.Book.Chapters)}
	inputs := make([]audio.ChapterInput, 0, len(req.Book.Chapters))
	for _, ch := range req.Book.Chapters {
		out := outcomes[ch.Index]
		summary.ChunksTotal += out.total
		summary.ChunksFailed += out.failed
		if out.err != nil {
			summary.FailedChapters = append(summary.FailedChapters, FailedChapter{
				Index:  ch.Index,
				Title:  ch.Title,
				Reason: out.err.Error(),
			})
			continue
		}
		inputs = append(inputs, audio.ChapterInput{Index: ch.Index, Title: ch.Title, Units: out.units})
	}

	observer.StageChanged(StageAssembling)
	assembler := audio.NewAssembler(
		audio.WithInterUnitSilence(o.cfg.InterUnitSilence),
		audio.WithChapterPause(o.cfg.ChapterPause),
		audio.WithTargetRate(o.cfg.SampleRate),
		audio.WithLogger(logger),
		audio.WithResampleHook(func(chapterIndex, sequence, from, to int) {
			events.Emit(ctx, o.sink, logger, events.Event{
				Type:         events.AssemblyResampled,
				JobID:        req.JobID,
				ChapterIndex: chapterIndex,
				Sequence:     sequence,
				Detail:       fmt.Sprintf("%d Hz -> %d Hz", from, to),
			})
		}),
	)

	track, err := assembler.Assemble(inputs)
	if err != nil {
		summary.Elapsed = time.Since(started)
		if errors.Is(err, audio.ErrNoAudioProduced) {
			observer.StageChanged(StageNoAudioProduced)
			events.Emit(ctx, o.sink, logger, events.Event{Type: events.NoAudioProduced, JobID: req.JobID})
			logger.Error("no audio produced",
				slog.Int("chapters_attempted", summary.ChaptersAttempted),
				slog.Int("chunks_failed", summary.ChunksFailed),
			)
		}
		return &Result{Format: req.Format, Summary: summary}, err
	}
	summary.ChaptersIncluded = len(track.Markers)
	summary.Duration = time.Duration(track.DurationMs()) * time.Millisecond

	written, err := o.writer.Write(ctx, container.WriteRequest{
		JobID:      req.JobID,
		Track:      track,
		Metadata:   req.Book.Metadata,
		Format:     req.Format,
		Quality:    req.Quality,
		OutputPath: req.OutputPath,
		ScratchDir: scratchDir,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	summary.Elapsed = time.Since(started)
	observer.StageChanged(StageWritten)

	events.Emit(ctx, o.sink, logger, events.Event{
		Type:   events.AudiobookWritten,
		JobID:  req.JobID,
		Title:  req.Book.Metadata.Title,
		Detail: written.Path,
	})
	logger.Info("audiobook complete",
		slog.String("path", written.Path),
		slog.Int("chapters_attempted", summary.ChaptersAttempted),
		slog.Int("chapters_included", summary.ChaptersIncluded),
		slog.Int("chunks_total", summary.ChunksTotal),
		slog.Int("chunks_failed", summary.ChunksFailed),
		slog.String("duration", audio.FormatDuration(summary.Duration)),
		slog.Duration("elapsed", summary.Elapsed),
	)

	return &Result{
		OutputPath:  written.Path,
		Format:      req.Format,
		Markers:     track.Markers,
		SampleRate:  track.SampleRate,
		Summary:     summary,
		Tagged:      written.Tagged,
		MetadataErr: written.MetadataErr,
	}, nil
}

// synthesizeChapters runs the worker pool and blocks until every chapter has
// an outcome or ctx is cancelled.
func (o *Orchestrator) synthesizeChapters(ctx context.Context, req Request, coord *synthesis.Coordinator,
	observer Observer, logger *slog.Logger) map[int]chapterOutcome {
	var (
		mu       sync.Mutex
		outcomes = make(map[int]chapterOutcome, len(req.Book.Chapters))
		wg       sync.WaitGroup
		queue    = make(chan book.Chapter)
	)

	for _, ch := range req.Book.Chapters {
		observer.ChapterChanged(ChapterReport{Index: ch.Index, Title: ch.Title, State: ChapterPending})
	}

	workers := min(o.cfg.MaxWorkers, len(req.Book.Chapters))
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range queue {
				out := o.synthesizeChapter(ctx, req.JobID, ch, coord, observer, logger)
				if ctx.Err() != nil {
					continue
				}
				mu.Lock()
				outcomes[ch.Index] = out
				mu.Unlock()
			}
		}()
	}

feed:
	for _, ch := range req.Book.Chapters {
		select {
		case <-ctx.Done():
			break feed
		case queue <- ch:
		}
	}
	close(queue)
	wg.Wait()

	return outcomes
}

func (o *Orchestrator) synthesizeChapter(ctx context.Context, jobID string, ch book.Chapter,
	coord *synthesis.Coordinator, observer Observer, logger *slog.Logger) chapterOutcome {
	ctx, span := o.tracer.Start(ctx, "pipeline.chapter", trace.WithAttributes(
		attribute.Int("chapter_index", ch.Index),
		attribute.String("title", ch.Title),
	))
	defer span.End()

	observer.ChapterChanged(ChapterReport{Index: ch.Index, Title: ch.Title, State: ChapterSynthesizing})

	body := ch.Text
	if o.cfg.NormalizeText {
		body = text.Normalize(body)
	}
	chunks := text.SegmentChapter(ch.Index, body, o.cfg.MaxChunkLength)
	logger.Debug("chapter segmented",
		slog.Int("chapter_index", ch.Index),
		slog.Int("chunks", len(chunks)),
		slog.Int("words", ch.WordCount),
	)

	res, err := coord.SynthesizeChapter(ctx, ch.Index, chunks)
	out := chapterOutcome{units: res.Units, total: len(chunks), failed: res.ChunksFailed, err: err}
	if ctx.Err() != nil {
		return out
	}

	report := ChapterReport{
		Index:        ch.Index,
		Title:        ch.Title,
		ChunksTotal:  out.total,
		ChunksFailed: out.failed,
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.chaptersFailed.Add(ctx, 1)
		logger.Warn("excluding chapter",
			slog.Int("chapter_index", ch.Index),
			slog.String("title", ch.Title),
			slog.String("error", err.Error()),
		)
		events.Emit(ctx, o.sink, logger, events.Event{
			Type:         events.ChapterSynthesisFailed,
			JobID:        jobID,
			ChapterIndex: ch.Index,
			Title:        ch.Title,
			Error:        err.Error(),
		})
		report.State = ChapterFailed
		report.Err = err
		observer.ChapterChanged(report)
		return out
	}

	events.Emit(ctx, o.sink, logger, events.Event{
		Type:         events.ChapterSynthesized,
		JobID:        jobID,
		ChapterIndex: ch.Index,
		Title:        ch.Title,
		Detail:       fmt.Sprintf("%d/%d chunks", out.total-out.failed, out.total),
	})
	report.State = ChapterSynthesized
	observer.ChapterChanged(report)
	return out
}
