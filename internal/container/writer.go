package container

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/maauso/audiobook-builder/internal/audio"
	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/events"
	"github.com/maauso/audiobook-builder/internal/media"
)

// Write failures.
var (
	// ErrContainerEncodeFailed means no output file could be produced.
	ErrContainerEncodeFailed = errors.New("container: encode failed")
	// ErrMetadataWriteFailed means the file was written untagged. It is
	// reported in WriteResult and never returned from Write.
	ErrMetadataWriteFailed = errors.New("container: metadata write failed")
	// ErrOutputPathRequired is returned when the request has no destination.
	ErrOutputPathRequired = errors.New("container: output path is required")
	// ErrChaptersMissing means the remuxed file does not carry every chapter.
	ErrChaptersMissing = errors.New("container: chapters missing after remux")
)

// WriteRequest describes one finished audiobook to persist.
type WriteRequest struct {
	JobID      string
	Track      *audio.Track
	Metadata   book.Metadata
	Format     Format
	Quality    Quality
	OutputPath string
	// ScratchDir holds the intermediate WAV and metadata files. Empty means
	// the system temp directory.
	ScratchDir string
}

// WriteResult reports what was written.
type WriteResult struct {
	Path   string
	Size   int64
	Tagged bool
	// MetadataErr is set when tagging failed and the file was kept untagged.
	MetadataErr error
}

// Writer encodes tracks and tags the resulting container.
type Writer struct {
	processor media.Processor
	taggers   map[Format]Tagger
	sink      events.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithTagger overrides the tagger used for a format.
func WithTagger(f Format, t Tagger) WriterOption {
	return func(w *Writer) {
		w.taggers[f] = t
	}
}

// WithEventSink sets where metadata failures are published.
func WithEventSink(s events.Sink) WriterOption {
	return func(w *Writer) {
		if s != nil {
			w.sink = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock sets the clock used for the default year tag.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a Writer that encodes with processor. Intermediate
// metadata files go through saver.
func NewWriter(processor media.Processor, saver TempSaver, opts ...WriterOption) *Writer {
	w := &Writer{
		processor: processor,
		taggers: map[Format]Tagger{
			FormatMP3: ID3Tagger{},
			FormatM4B: NewMP4Tagger(processor, saver),
		},
		sink:   events.Discard{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write encodes req.Track and moves the file to req.OutputPath. The file is
// built under a temporary name next to the destination so a cancelled or
// failed run never leaves a partial audiobook behind. Tagging failures are
// logged and reported in the result; the untagged file is still written.
func (w *Writer) Write(ctx context.Context, req WriteRequest) (*WriteResult, error) {
	if req.OutputPath == "" {
		return nil, ErrOutputPathRequired
	}
	enc, ok := encodings[req.Format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, req.Format)
	}
	quality := req.Quality
	if quality == "" {
		quality = QualityHigh
	}
	bitrate, ok := enc.bitrates[quality]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedQuality, quality)
	}
	if req.Track == nil || len(req.Track.Samples) == 0 || req.Track.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: empty track", ErrContainerEncodeFailed)
	}

	logger := w.logger.With(slog.String("job_id", req.JobID), slog.String("format", string(req.Format)))

	outDir := filepath.Dir(req.OutputPath)
	if err := os.MkdirAll(outDir, 0750); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %w", ErrContainerEncodeFailed, err)
	}

	wavPath, err := writeTrackWAV(req.ScratchDir, req.Track)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContainerEncodeFailed, err)
	}
	defer func() { _ = os.Remove(wavPath) }()

	partial, err := os.CreateTemp(outDir, "."+filepath.Base(req.OutputPath)+".*.partial")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp output: %w", ErrContainerEncodeFailed, err)
	}
	partialPath := partial.Name()
	_ = partial.Close()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(partialPath)
		}
	}()

	err = w.processor.EncodeAudio(ctx, wavPath, partialPath, media.EncodeOptions{
		Codec:    enc.codec,
		Bitrate:  bitrate,
		Muxer:    enc.muxer,
		Channels: 1,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		logger.Error("failed to encode audiobook", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrContainerEncodeFailed, err)
	}

	result := &WriteResult{Path: req.OutputPath}
	tags := w.buildTags(req)
	if terr := w.taggers[req.Format].Tag(ctx, partialPath, tags); terr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		result.MetadataErr = fmt.Errorf("%w: %w", ErrMetadataWriteFailed, terr)
		logger.Warn("writing untagged audiobook", slog.String("error", terr.Error()))
		events.Emit(ctx, w.sink, logger, events.Event{
			Type:  events.MetadataWriteFailed,
			JobID: req.JobID,
			Error: terr.Error(),
		})
	} else {
		result.Tagged = true
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.Rename(partialPath, req.OutputPath); err != nil {
		return nil, fmt.Errorf("%w: move into place: %w", ErrContainerEncodeFailed, err)
	}
	committed = true

	if info, err := os.Stat(req.OutputPath); err == nil {
		result.Size = info.Size()
	}
	logger.Info("audiobook written",
		slog.String("path", req.OutputPath),
		slog.Int64("bytes", result.Size),
		slog.Bool("tagged", result.Tagged),
		slog.Int("chapters", len(req.Track.Markers)),
	)
	return result, nil
}

var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

func (w *Writer) buildTags(req WriteRequest) Tags {
	year := strconv.Itoa(w.now().Year())
	if m := yearPattern.FindStringSubmatch(req.Metadata.Date); m != nil {
		year = m[1]
	}
	author := req.Metadata.Author
	if author == "" {
		author = "Unknown Author"
	}
	return Tags{
		Title:       req.Metadata.Title,
		Artist:      author,
		Album:       req.Metadata.Title,
		Year:        year,
		Genre:       Genre,
		Description: req.Metadata.Description,
		Comment:     ChapterComment(req.Track.Markers),
		Chapters:    req.Track.Markers,
		WorkDir:     req.ScratchDir,
	}
}

func writeTrackWAV(dir string, track *audio.Track) (string, error) {
	f, err := os.CreateTemp(dir, "track_*.wav")
	if err != nil {
		return "", fmt.Errorf("create wav file: %w", err)
	}
	path := f.Name()
	if err := audio.WriteWAV(f, track.Samples, track.SampleRate); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", fmt.Errorf("write wav: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("close wav: %w", err)
	}
	return path, nil
}
