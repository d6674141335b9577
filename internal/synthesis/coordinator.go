// Package synthesis drives the speech synthesizer over the chunks of a
// chapter. It owns retry policy and bounds how many synthesis calls are in
// flight across all chapters of a run.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/events"
	"github.com/maauso/audiobook-builder/internal/synth"
	"github.com/maauso/audiobook-builder/internal/text"
)

const instrumentationName = "github.com/maauso/audiobook-builder/internal/synthesis"

// Synthesis failures. Neither is ever returned from a pipeline run; both are
// absorbed, logged and published as events.
var (
	// ErrChunkSynthesisFailed marks a chunk that failed every attempt.
	ErrChunkSynthesisFailed = errors.New("chunk synthesis failed")
	// ErrChapterSynthesisFailed marks a chapter without a single surviving chunk.
	ErrChapterSynthesisFailed = errors.New("chapter synthesis failed")
)

// ChunkError describes a chunk dropped after exhausting its attempts.
type ChunkError struct {
	ChapterIndex int
	Sequence     int
	Attempts     int
	Err          error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("%s: chapter %d chunk %d after %d attempt(s): %v",
		ErrChunkSynthesisFailed, e.ChapterIndex, e.Sequence, e.Attempts, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkSynthesisFailed, e.Err}
}

// ChapterResult is the outcome of synthesizing one chapter.
type ChapterResult struct {
	ChapterIndex int
	// Units holds the surviving units in sequence order.
	Units        []audio.Unit
	ChunksTotal  int
	ChunksFailed int
	// Failures lists the dropped chunks.
	Failures []*ChunkError
}

// LossRatio returns the share of chunks that were dropped.
func (r ChapterResult) LossRatio() float64 {
	if r.ChunksTotal == 0 {
		return 0
	}
	return float64(r.ChunksFailed) / float64(r.ChunksTotal)
}

// Coordinator calls a synthesizer handle for each chunk, retrying transient
// failures with exponential backoff.
type Coordinator struct {
	handle     synth.Handle
	limiter    chan struct{}
	attempts   int
	delay      time.Duration
	maxDelay   time.Duration
	sampleRate int
	jobID      string
	sink       events.Sink
	logger     *slog.Logger
	tracer     trace.Tracer

	synthesized metric.Int64Counter
	failed      metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxInFlight bounds concurrent synthesis calls across all chapters.
func WithMaxInFlight(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.limiter = make(chan struct{}, n)
		}
	}
}

// WithRetryAttempts sets the total number of attempts per chunk.
func WithRetryAttempts(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithRetryDelay sets the initial and maximum backoff between attempts.
func WithRetryDelay(initial, ceiling time.Duration) Option {
	return func(c *Coordinator) {
		if initial > 0 {
			c.delay = initial
		}
		if ceiling > 0 {
			c.maxDelay = ceiling
		}
	}
}

// WithSampleRateHint sets the sample rate requested from the synthesizer.
func WithSampleRateHint(rate int) Option {
	return func(c *Coordinator) {
		c.sampleRate = rate
	}
}

// WithJobID tags events and logs with the run identifier.
func WithJobID(id string) Option {
	return func(c *Coordinator) {
		c.jobID = id
	}
}

// WithEventSink sets where chunk failures are published.
func WithEventSink(s events.Sink) Option {
	return func(c *Coordinator) {
		c.sink = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a Coordinator that synthesizes through handle. The
// caller keeps ownership of handle and closes it after the run.
func NewCoordinator(handle synth.Handle, opts ...Option) *Coordinator {
	c := &Coordinator{
		handle:   handle,
		limiter:  make(chan struct{}, 2),
		attempts: 3,
		delay:    time.Second,
		maxDelay: 30 * time.Second,
		logger:   slog.Default(),
		sink:     events.Discard{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxDelay < c.delay {
		c.maxDelay = c.delay
	}

	meter := otel.Meter(instrumentationName)
	c.tracer = otel.Tracer(instrumentationName)
	c.synthesized = counter(meter, "audiobook.chunks.synthesized", "Chunks synthesized successfully", c.logger)
	c.failed = counter(meter, "audiobook.chunks.failed", "Chunks dropped after exhausting retries", c.logger)
	return c
}

// SynthesizeChapter synthesizes every chunk of one chapter. Failed chunks are
// dropped and reported; the chapter fails with ErrChapterSynthesisFailed only
// when no chunk survives. Once ctx is cancelled no new calls are issued and
// the context error is returned.
func (c *Coordinator) SynthesizeChapter(ctx context.Context, chapterIndex int, chunks []text.Chunk) (ChapterResult, error) {
	result := ChapterResult{ChapterIndex: chapterIndex, ChunksTotal: len(chunks)}
	if len(chunks) == 0 {
		return result, fmt.Errorf("%w: chapter %d: %w", ErrChapterSynthesisFailed, chapterIndex, text.ErrNoChunks)
	}

	units := make([]*audio.Unit, len(chunks))
	failures := make([]*ChunkError, len(chunks))
	var wg sync.WaitGroup

dispatch:
	for i, chunk := range chunks {
		select {
		case <-ctx.Done():
			break dispatch
		case c.limiter <- struct{}{}:
		}
		if ctx.Err() != nil {
			<-c.limiter
			break
		}
		wg.Add(1)
		go func(i int, chunk text.Chunk) {
			defer wg.Done()
			defer func() { <-c.limiter }()
			units[i], failures[i] = c.synthesizeChunk(ctx, chunk)
		}(i, chunk)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return ChapterResult{}, err
	}

	for i := range chunks {
		if units[i] != nil {
			result.Units = append(result.Units, *units[i])
			continue
		}
		result.ChunksFailed++
		result.Failures = append(result.Failures, failures[i])
		c.reportChunkFailure(ctx, failures[i])
	}

	if len(result.Units) == 0 {
		last := result.Failures[len(result.Failures)-1]
		return result, fmt.Errorf("%w: chapter %d: all %d chunk(s) failed: %w",
			ErrChapterSynthesisFailed, chapterIndex, result.ChunksTotal, last.Err)
	}
	if result.ChunksFailed > 0 {
		c.logger.Warn("chapter synthesized with missing chunks",
			slog.String("job_id", c.jobID),
			slog.Int("chapter_index", chapterIndex),
			slog.Int("chunks_total", result.ChunksTotal),
			slog.Int("chunks_failed", result.ChunksFailed),
			slog.Float64("loss_ratio", result.LossRatio()),
		)
	}
	return result, nil
}

func (c *Coordinator) synthesizeChunk(ctx context.Context, chunk text.Chunk) (*audio.Unit, *ChunkError) {
	ctx, span := c.tracer.Start(ctx, "synthesize_chunk", trace.WithAttributes(
		attribute.Int("chapter_index", chunk.ChapterIndex),
		attribute.Int("sequence", chunk.Sequence),
		attribute.Int("chars", len(chunk.Text)),
	))
	defer span.End()

	attempts := 0
	op := func() (synth.Result, error) {
		attempts++
		res, err := c.handle.Synthesize(ctx, synth.Request{Text: chunk.Text, SampleRate: c.sampleRate})
		if err != nil {
			if !synth.IsRetryable(err) {
				return synth.Result{}, backoff.Permanent(err)
			}
			return synth.Result{}, err
		}
		if len(res.Samples) == 0 {
			return synth.Result{}, synth.ErrEmptyOutput
		}
		if res.SampleRate <= 0 {
			return synth.Result{}, fmt.Errorf("%w: sample rate %d", synth.ErrMalformedOutput, res.SampleRate)
		}
		return res, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.delay
	b.MaxInterval = c.maxDelay

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug("retrying chunk synthesis",
				slog.Int("chapter_index", chunk.ChapterIndex),
				slog.Int("sequence", chunk.Sequence),
				slog.Duration("backoff", next),
				slog.String("error", err.Error()),
			)
		}),
	)
	if err != nil {
		span.RecordError(err)
		return nil, &ChunkError{
			ChapterIndex: chunk.ChapterIndex,
			Sequence:     chunk.Sequence,
			Attempts:     attempts,
			Err:          err,
		}
	}

	c.synthesized.Add(ctx, 1)
	return &audio.Unit{
		ChapterIndex: chunk.ChapterIndex,
		Sequence:     chunk.Sequence,
		Samples:      res.Samples,
		SampleRate:   res.SampleRate,
	}, nil
}

func (c *Coordinator) reportChunkFailure(ctx context.Context, f *ChunkError) {
	c.failed.Add(ctx, 1)
	c.logger.Warn("dropping chunk",
		slog.String("job_id", c.jobID),
		slog.Int("chapter_index", f.ChapterIndex),
		slog.Int("sequence", f.Sequence),
		slog.Int("attempts", f.Attempts),
		slog.String("error", f.Err.Error()),
	)
	events.Emit(ctx, c.sink, c.logger, events.Event{
		Type:         events.ChunkSynthesisFailed,
		JobID:        c.jobID,
		ChapterIndex: f.ChapterIndex,
		Sequence:     f.Sequence,
		Attempts:     f.Attempts,
		Error:        f.Err.Error(),
	})
}

func counter(meter metric.Meter, name, desc string, logger *slog.Logger) metric.Int64Counter {
	ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		logger.Warn("failed to create counter", slog.String("name", name), slog.String("error", err.Error()))
		return noop.Int64Counter{}
	}
	return ctr
}
