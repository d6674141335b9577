package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/job/id"
	"github.com/maauso/audiobook-builder/internal/pipeline"
)

// Static errors for the job service.
var (
	// ErrJobTerminal is returned when cancelling a job that already finished.
	ErrJobTerminal = errors.New("job already finished")
	// ErrPublisherNotConfigured is returned when S3 upload is requested but
	// no publisher is available.
	ErrPublisherNotConfigured = errors.New("S3 publishing not configured")
	// ErrOutputNotReady is returned when the audiobook file is requested
	// before the job was written.
	ErrOutputNotReady = errors.New("audiobook not ready")
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Publisher uploads a finished audiobook and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, key, path string) (string, error)
}

// SubmitInput contains the input parameters for an audiobook build.
type SubmitInput struct {
	// Book is the manifest to narrate.
	Book *book.Book
	// Format is the output container. Empty selects the service default.
	Format container.Format
	// Quality is the encoding tier. Empty selects the runner default.
	Quality container.Quality
	// PushToS3 uploads the finished file when set.
	PushToS3 bool
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Service accepts audiobook jobs and runs them in the background.
type Service struct {
	repo      Repository
	runner    Runner
	publisher Publisher
	outputDir string
	format    container.Format
	logger    *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
	wg   sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublisher sets the uploader used for jobs with PushToS3.
func WithPublisher(p Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithDefaultFormat sets the format used when a submission names none.
func WithDefaultFormat(f container.Format) ServiceOption {
	return func(s *Service) {
		if f != "" {
			s.format = f
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a Service that writes audiobooks below outputDir.
func NewService(repo Repository, runner Runner, outputDir string, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		runner:    runner,
		outputDir: outputDir,
		format:    container.FormatM4B,
		logger:    slog.Default(),
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates the book, persists a PENDING job and starts processing it
// in the background. The returned job is a snapshot taken before processing.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Job, error) {
	if in.Book == nil {
		return nil, pipeline.ErrBookRequired
	}
	in.Book.Normalize()
	if err := in.Book.Validate(); err != nil {
		return nil, err
	}
	if in.PushToS3 && s.publisher == nil {
		return nil, ErrPublisherNotConfigured
	}
	if in.Format == "" {
		in.Format = s.format
	}

	job := New()
	job.Title = in.Book.Metadata.Title
	job.Author = in.Book.Metadata.Author
	job.Format = string(in.Format)
	job.Quality = string(in.Quality)
	job.PushToS3 = in.PushToS3

	chapters := make([]Chapter, len(in.Book.Chapters))
	for i, ch := range in.Book.Chapters {
		chapters[i] = Chapter{Index: ch.Index, Title: ch.Title, Status: ChapterStatusPending}
	}
	job.SetChapters(chapters)

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("title", job.Title),
		slog.Int("chapters", len(chapters)),
		slog.String("format", job.Format),
		slog.Bool("push_to_s3", in.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[job.ID] = r
	s.mu.Unlock()

	snapshot := job.Clone()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.runs, job.ID)
			s.mu.Unlock()
		}()
		s.process(runCtx, job, in)
	}()

	return snapshot, nil
}

// GetJob retrieves a job by ID.
func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// ListJobs returns known jobs oldest first, optionally only those in one of
// statuses.
func (s *Service) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	return s.repo.List(ctx, statuses...)
}

// Prune forgets finished jobs completed before cutoff and removes their
// output directories. It returns the number of jobs removed.
func (s *Service) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	jobs, err := s.repo.List(ctx, StatusWritten, StatusNoAudioProduced, StatusFailed, StatusCancelled)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, job := range jobs {
		if job.CompletedAt.IsZero() || !job.CompletedAt.Before(cutoff) {
			continue
		}
		// Only generated IDs name a directory under outputDir.
		if id.Valid(job.ID) {
			if err := os.RemoveAll(filepath.Join(s.outputDir, job.ID)); err != nil {
				errs = append(errs, fmt.Errorf("remove output of job %s: %w", job.ID, err))
				continue
			}
		}
		if err := s.repo.Delete(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// RunJanitor prunes jobs older than retention every interval until ctx is
// done. A zero retention disables pruning.
func (s *Service) RunJanitor(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := s.Prune(ctx, now.Add(-retention))
			if err != nil {
				s.logger.Warn("failed to prune jobs", slog.String("error", err.Error()))
			}
			if n > 0 {
				s.logger.Info("pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}

// Cancel stops a running job and waits until it settles or ctx expires.
// Returns ErrJobTerminal if the job already finished.
func (s *Service) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsTerminal() {
		return nil, ErrJobTerminal
	}

	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		s.logger.Info("cancelling job", slog.String("job_id", id))
		r.cancel()
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return s.repo.FindByID(ctx, id)
}

// OutputFile returns the local path of a written audiobook.
func (s *Service) OutputFile(ctx context.Context, id string) (string, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if job.Status != StatusWritten || job.OutputPath == "" {
		return "", ErrOutputNotReady
	}
	return job.OutputPath, nil
}

// Shutdown cancels every running job and waits for them to settle.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, r := range s.runs {
		r.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs the pipeline for job and records the outcome.
func (s *Service) process(ctx context.Context, job *Job, in SubmitInput) {
	logger := s.logger.With(slog.String("job_id", job.ID))
	// Persisting must survive cancellation of the run.
	saveCtx := context.WithoutCancel(ctx)
	save := func() {
		if err := s.repo.Save(saveCtx, job); err != nil {
			logger.Error("failed to save job", slog.String("error", err.Error()))
		}
	}

	outputPath := filepath.Join(s.outputDir, job.ID, container.OutputFilename(in.Book.Metadata, in.Format))

	res, err := s.runner.Run(ctx, pipeline.Request{
		JobID:      job.ID,
		Book:       in.Book,
		Format:     in.Format,
		Quality:    in.Quality,
		OutputPath: outputPath,
		Observer:   &jobObserver{job: job, save: save, logger: logger},
	})
	if res != nil {
		job.SetResult(res.Markers, toSummary(res.Summary), errString(res.MetadataErr))
	}

	switch {
	case err == nil:
	case ctx.Err() != nil:
		logger.Info("job cancelled")
		_ = job.Cancel()
		save()
		return
	case errors.Is(err, audio.ErrNoAudioProduced):
		_ = job.NoAudio()
		save()
		return
	default:
		logger.Error("job failed", slog.String("error", err.Error()))
		_ = job.Fail(err.Error())
		save()
		return
	}

	var url string
	if job.PushToS3 {
		key := job.ID + "/" + filepath.Base(res.OutputPath)
		url, err = s.publisher.Publish(saveCtx, key, res.OutputPath)
		if err != nil {
			logger.Error("failed to publish audiobook", slog.String("error", err.Error()))
			_ = job.Fail(fmt.Sprintf("publish audiobook: %v", err))
			save()
			return
		}
		logger.Info("audiobook published", slog.String("url", url))
	}

	if err := job.Complete(res.OutputPath, url); err != nil {
		logger.Error("failed to complete job", slog.String("error", err.Error()))
	}
	save()
}

// jobObserver mirrors pipeline progress onto the job.
type jobObserver struct {
	job    *Job
	save   func()
	logger *slog.Logger
}

func (o *jobObserver) StageChanged(stage pipeline.Stage) {
	var err error
	switch stage {
	case pipeline.StageSynthesizing:
		err = o.job.Start()
	case pipeline.StageAssembling:
		err = o.job.BeginAssembly()
	default:
		// Terminal stages are recorded once Run returns.
		return
	}
	if err != nil {
		o.logger.Warn("unexpected stage change",
			slog.String("stage", string(stage)),
			slog.String("status", string(o.job.GetStatus())),
		)
		return
	}
	o.save()
}

func (o *jobObserver) ChapterChanged(r pipeline.ChapterReport) {
	ch, ok := o.job.ChapterByIndex(r.Index)
	if !ok {
		ch = Chapter{Index: r.Index, Title: r.Title}
	}
	now := time.Now()
	ch.Status = ChapterStatus(r.State)
	ch.ChunksTotal = r.ChunksTotal
	ch.ChunksFailed = r.ChunksFailed
	ch.Error = errString(r.Err)
	switch r.State {
	case pipeline.ChapterSynthesizing:
		ch.StartedAt = now
	case pipeline.ChapterSynthesized, pipeline.ChapterFailed:
		ch.CompletedAt = now
	}
	o.job.UpdateChapter(ch)
	o.save()
}

func toSummary(s pipeline.Summary) Summary {
	return Summary{
		ChaptersAttempted: s.ChaptersAttempted,
		ChaptersIncluded:  s.ChaptersIncluded,
		ChunksTotal:       s.ChunksTotal,
		ChunksFailed:      s.ChunksFailed,
		Duration:          s.Duration,
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
