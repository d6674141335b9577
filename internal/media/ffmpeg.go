package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Static errors for media operations.
var (
	// ErrCodecRequired is returned when no audio codec is given.
	ErrCodecRequired = errors.New("media: audio codec is required")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// Compile-time check that FFmpegProcessor implements Processor.
var _ Processor = (*FFmpegProcessor)(nil)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// NewFFmpegProcessor creates a new FFmpegProcessor.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH). ffprobe
// is looked up next to a custom ffmpeg binary.
func NewFFmpegProcessor(ffmpegPath string) *FFmpegProcessor {
	ffprobePath := "ffprobe"
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	} else if strings.HasSuffix(ffmpegPath, "ffmpeg") {
		ffprobePath = strings.TrimSuffix(ffmpegPath, "ffmpeg") + "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// EncodeAudio encodes src into dst with the given codec and bitrate. Video
// and embedded cover streams are dropped.
func (p *FFmpegProcessor) EncodeAudio(ctx context.Context, src, dst string, opts EncodeOptions) error {
	if opts.Codec == "" {
		return ErrCodecRequired
	}

	args := []string{
		"-y",      // Overwrite output file without asking
		"-i", src, // Input file
		"-vn",              // No video
		"-c:a", opts.Codec, // Audio codec
	}
	if opts.Bitrate != "" {
		args = append(args, "-b:a", opts.Bitrate)
	}
	if opts.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(opts.SampleRate))
	}
	if opts.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(opts.Channels))
	}
	if opts.Muxer != "" {
		args = append(args, "-f", opts.Muxer)
	}
	args = append(args, dst)

	return p.runFFmpeg(ctx, args)
}

// RemuxWithMetadata rewrites src into dst without re-encoding, taking global
// tags and chapters from metadataFile.
func (p *FFmpegProcessor) RemuxWithMetadata(ctx context.Context, src, metadataFile, dst string, opts RemuxOptions) error {
	args := []string{
		"-y",
		"-i", src,
		"-f", "ffmetadata", "-i", metadataFile,
		"-map", "0:a", // Audio from the encoded file
		"-map_metadata", "1", // Tags from the metadata file
		"-map_chapters", "1", // Chapters from the metadata file
		"-c", "copy",
	}
	if opts.Muxer != "" {
		args = append(args, "-f", opts.Muxer)
	}
	args = append(args, dst)

	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	args = append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Chapters []struct {
		StartTime string            `json:"start_time"`
		EndTime   string            `json:"end_time"`
		Tags      map[string]string `json:"tags"`
	} `json:"chapters"`
}

// Inspect returns the duration, global tags (keys lower-cased) and chapters
// of a media file.
func (p *FFmpegProcessor) Inspect(ctx context.Context, path string) (*MediaInfo, error) {
	out, err := p.runFFprobe(ctx,
		"-v", "error",
		"-show_format",
		"-show_chapters",
		"-of", "json",
		path,
	)
	if err != nil {
		return nil, err
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	res := &MediaInfo{Tags: make(map[string]string, len(raw.Format.Tags))}
	res.DurationSeconds, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	for k, v := range raw.Format.Tags {
		res.Tags[strings.ToLower(k)] = v
	}
	for _, ch := range raw.Chapters {
		start, _ := strconv.ParseFloat(ch.StartTime, 64)
		end, _ := strconv.ParseFloat(ch.EndTime, 64)
		res.Chapters = append(res.Chapters, MediaChapter{
			StartSeconds: start,
			EndSeconds:   end,
			Title:        ch.Tags["title"],
		})
	}
	return res, nil
}

func (p *FFmpegProcessor) runFFprobe(ctx context.Context, args ...string) ([]byte, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
