// Package main provides a one-shot command that builds a single audiobook
// from a manifest file.
//
// Usage:
//
//	audiobook -manifest book.yaml [-out DIR|FILE] [-format m4b|mp3] [-quality high|standard]
//
// Pipeline settings come from the same environment variables as the server;
// flags override the output location, format and quality.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/bootstrap"
	"github.com/maauso/audiobook-builder/internal/config"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/job/id"
	"github.com/maauso/audiobook-builder/internal/pipeline"
)

// exitNoAudio is returned when no chapter produced audio.
const exitNoAudio = 2

type options struct {
	manifest string
	out      string
	format   string
	quality  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, audio.ErrNoAudioProduced) {
			os.Exit(exitNoAudio)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("audiobook", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.manifest, "manifest", "", "path to the YAML or JSON book manifest (required)")
	fs.StringVar(&opts.out, "out", "", "output file or directory (default OUTPUT_DIR)")
	fs.StringVar(&opts.format, "format", "", "output format: m4b or mp3 (default OUTPUT_FORMAT)")
	fs.StringVar(&opts.quality, "quality", "", "audio quality: high or standard (default AUDIO_QUALITY)")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if opts.manifest == "" && fs.NArg() == 1 {
		opts.manifest = fs.Arg(0)
	}
	if opts.manifest == "" {
		fs.Usage()
		return options{}, errors.New("a manifest is required")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseFlags(args, stdout)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	format := container.Format(cfg.OutputFormat)
	if opts.format != "" {
		if format, err = container.ParseFormat(opts.format); err != nil {
			return err
		}
	}
	quality := container.Quality(cfg.AudioQuality)
	if opts.quality != "" {
		if quality, err = container.ParseQuality(opts.quality); err != nil {
			return err
		}
	}

	b, err := book.LoadManifest(opts.manifest)
	if err != nil {
		return err
	}

	outputPath, err := resolveOutput(opts.out, cfg.OutputDir, b.Metadata, format)
	if err != nil {
		return err
	}

	p, err := bootstrap.NewPipeline(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logger.Warn("failed to close pipeline", slog.String("error", cerr.Error()))
		}
	}()

	logger.Info("building audiobook",
		slog.String("title", b.Metadata.Title),
		slog.Int("chapters", len(b.Chapters)),
		slog.String("format", string(format)),
		slog.String("output", outputPath),
	)

	res, err := p.Orchestrator.Run(ctx, pipeline.Request{
		JobID:      id.Generate(),
		Book:       b,
		Format:     format,
		Quality:    quality,
		OutputPath: outputPath,
		Observer:   &progressObserver{logger: logger, total: len(b.Chapters)},
	})
	if res != nil {
		printSummary(stdout, res)
	}
	return err
}

// resolveOutput treats out as a directory when it is empty, ends in a
// separator, names an existing directory or has no extension.
func resolveOutput(out, defaultDir string, meta book.Metadata, format container.Format) (string, error) {
	if out == "" {
		out = defaultDir
	}
	dir := out
	name := container.OutputFilename(meta, format)

	info, err := os.Stat(out)
	isDir := err == nil && info.IsDir()
	if !isDir && !strings.HasSuffix(out, string(filepath.Separator)) && filepath.Ext(out) != "" {
		dir, name = filepath.Split(out)
		if dir == "" {
			dir = "."
		}
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return filepath.Join(dir, name), nil
}

func printSummary(w io.Writer, res *pipeline.Result) {
	s := res.Summary
	if res.OutputPath != "" {
		fmt.Fprintf(w, "Output:   %s\n", res.OutputPath)
	}
	fmt.Fprintf(w, "Chapters: %d/%d included\n", s.ChaptersIncluded, s.ChaptersAttempted)
	fmt.Fprintf(w, "Chunks:   %d failed of %d\n", s.ChunksFailed, s.ChunksTotal)
	fmt.Fprintf(w, "Duration: %s\n", audio.FormatDuration(s.Duration))
	fmt.Fprintf(w, "Elapsed:  %s\n", audio.FormatDuration(s.Elapsed))
	for _, fc := range s.FailedChapters {
		fmt.Fprintf(w, "  skipped chapter %d (%s): %s\n", fc.Index, fc.Title, fc.Reason)
	}
	if res.MetadataErr != nil {
		fmt.Fprintf(w, "Warning:  written without metadata: %v\n", res.MetadataErr)
	}
}

// progressObserver logs chapter completion as it happens.
type progressObserver struct {
	logger *slog.Logger
	total  int
}

func (o *progressObserver) StageChanged(s pipeline.Stage) {
	o.logger.Info("stage changed", slog.String("stage", string(s)))
}

func (o *progressObserver) ChapterChanged(r pipeline.ChapterReport) {
	switch r.State {
	case pipeline.ChapterSynthesized:
		o.logger.Info("chapter synthesized",
			slog.Int("chapter_index", r.Index),
			slog.Int("chapters", o.total),
			slog.Int("chunks_failed", r.ChunksFailed),
		)
	case pipeline.ChapterFailed:
		attrs := []any{slog.Int("chapter_index", r.Index), slog.Int("chapters", o.total)}
		if r.Err != nil {
			attrs = append(attrs, slog.String("error", r.Err.Error()))
		}
		o.logger.Warn("chapter skipped", attrs...)
	}
}
