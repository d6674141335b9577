// Package bootstrap provides dependency initialization for the audiobook
// builder server and CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/audiobook-builder/internal/config"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/events"
	"github.com/maauso/audiobook-builder/internal/job"
	"github.com/maauso/audiobook-builder/internal/media"
	"github.com/maauso/audiobook-builder/internal/pipeline"
	"github.com/maauso/audiobook-builder/internal/storage"
	"github.com/maauso/audiobook-builder/internal/synth"
)

// Pipeline holds the wired audiobook pipeline and the resources it owns.
type Pipeline struct {
	Orchestrator *pipeline.Orchestrator
	Storage      storage.Storage
	// S3Enabled reports whether Storage can publish finished files.
	S3Enabled bool

	closers []func() error
}

// Close releases connections opened during wiring.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	*Pipeline
	AudiobookService *job.Service
}

// NewDependencies creates and initializes all dependencies for the server.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	p, err := NewPipeline(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []job.ServiceOption{
		job.WithLogger(logger),
		job.WithDefaultFormat(container.Format(cfg.OutputFormat)),
	}
	if p.S3Enabled {
		opts = append(opts, job.WithPublisher(p.Storage))
	}
	svc := job.NewService(job.NewMemoryRepository(), p.Orchestrator, cfg.OutputDir, opts...)

	return &Dependencies{Pipeline: p, AudiobookService: svc}, nil
}

// NewPipeline wires the synthesizer, storage, event sinks and container
// writer into an Orchestrator.
func NewPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	p := &Pipeline{}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	p.Storage = store
	p.S3Enabled = cfg.S3Enabled()

	engine, err := initEngine(cfg, logger)
	if err != nil {
		return nil, err
	}

	profiles, err := initProfiles(cfg, logger)
	if err != nil {
		return nil, err
	}

	sink, err := p.initEvents(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	writer := container.NewWriter(processor, store,
		container.WithEventSink(sink),
		container.WithLogger(logger),
	)

	p.Orchestrator = pipeline.NewOrchestrator(PipelineConfig(cfg), engine, store, writer,
		pipeline.WithEventSink(sink),
		pipeline.WithLogger(logger),
		pipeline.WithProfiles(profiles),
	)
	return p, nil
}

// PipelineConfig maps the environment configuration onto run tunables.
func PipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		MaxChunkLength:   cfg.MaxChunkLength,
		MaxWorkers:       cfg.MaxWorkers,
		RetryAttempts:    cfg.RetryAttempts,
		RetryDelay:       cfg.RetryDelay,
		SampleRate:       cfg.SampleRate,
		ChapterPause:     cfg.ChapterPause(),
		InterUnitSilence: cfg.InterUnitSilence(),
		NormalizeText:    cfg.NormalizeText,
		DefaultLanguage:  cfg.DefaultLanguage,
		Format:           container.Format(cfg.OutputFormat),
		Quality:          container.Quality(cfg.AudioQuality),
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Prefix:          cfg.S3Prefix,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}

// initEngine creates the speech synthesizer selected by SYNTH_ENGINE.
func initEngine(cfg *config.Config, logger *slog.Logger) (synth.Engine, error) {
	switch cfg.SynthEngine {
	case "http":
		opts := []synth.HTTPOption{synth.WithRequestTimeout(cfg.SynthTimeout)}
		if cfg.SynthAPIKey != "" {
			opts = append(opts, synth.WithAPIKey(cfg.SynthAPIKey))
		}
		engine, err := synth.NewHTTPEngine(cfg.SynthURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("create HTTP synthesizer: %w", err)
		}
		logger.Info("HTTP synthesizer configured", slog.String("url", cfg.SynthURL))
		return engine, nil
	default:
		engine, err := synth.NewExecEngine(cfg.SynthCommand, synth.WithExecTimeout(cfg.SynthTimeout))
		if err != nil {
			return nil, fmt.Errorf("create exec synthesizer: %w", err)
		}
		logger.Info("exec synthesizer configured", slog.String("command", cfg.SynthCommand))
		return engine, nil
	}
}

func initProfiles(cfg *config.Config, logger *slog.Logger) (synth.Profiles, error) {
	if cfg.VoiceProfilesFile == "" {
		return synth.DefaultProfiles(), nil
	}
	profiles, err := synth.LoadProfiles(cfg.VoiceProfilesFile)
	if err != nil {
		return nil, err
	}
	logger.Info("voice profiles loaded",
		slog.String("path", cfg.VoiceProfilesFile),
		slog.Int("languages", len(profiles)),
	)
	return profiles, nil
}

// initEvents always logs events and additionally publishes them to NATS
// when configured.
func (p *Pipeline) initEvents(cfg *config.Config, logger *slog.Logger) (events.Sink, error) {
	logSink := events.NewLogSink(logger)
	if !cfg.NATSEnabled() {
		return logSink, nil
	}

	natsSink, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, natsSink.Close)
	return events.Multi{logSink, natsSink}, nil
}
