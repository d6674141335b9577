package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestTone writes a mono sine wave WAV file using ffmpeg.
func createTestTone(t *testing.T, path string, duration float64) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("sine=frequency=440:sample_rate=22050:duration=%.2f", duration),
		"-ac", "1",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test tone: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegProcessor(t *testing.T) {
	t.Run("default path", func(t *testing.T) {
		p := NewFFmpegProcessor("")
		if p.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", p.ffmpegPath)
		}
		if p.ffprobePath != "ffprobe" {
			t.Errorf("expected default ffprobe path, got %q", p.ffprobePath)
		}
	})

	t.Run("custom path", func(t *testing.T) {
		p := NewFFmpegProcessor("/usr/local/bin/ffmpeg")
		if p.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", p.ffmpegPath)
		}
		if p.ffprobePath != "/usr/local/bin/ffprobe" {
			t.Errorf("expected sibling ffprobe, got %q", p.ffprobePath)
		}
	})
}

func TestEncodeAudio(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "tone.wav")
	createTestTone(t, src, 1.5)

	p := NewFFmpegProcessor("")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tests := []struct {
		name string
		opts EncodeOptions
	}{
		{name: "mp3", opts: EncodeOptions{Codec: "libmp3lame", Bitrate: "128k", Muxer: "mp3"}},
		{name: "aac in mp4", opts: EncodeOptions{Codec: "aac", Bitrate: "64k", Muxer: "mp4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// no extension: the muxer must be explicit
			dst := filepath.Join(tmpDir, "out-"+strings.ReplaceAll(tt.name, " ", "-")+".tmp")
			if err := p.EncodeAudio(ctx, src, dst, tt.opts); err != nil {
				t.Fatalf("EncodeAudio failed: %v", err)
			}

			info, err := p.Inspect(ctx, dst)
			if err != nil {
				t.Fatalf("Inspect failed: %v", err)
			}
			if info.DurationSeconds < 1.4 || info.DurationSeconds > 1.7 {
				t.Errorf("expected duration ~1.5s, got %.3f", info.DurationSeconds)
			}
		})
	}

	t.Run("codec required", func(t *testing.T) {
		err := p.EncodeAudio(ctx, src, filepath.Join(tmpDir, "x"), EncodeOptions{})
		if !errors.Is(err, ErrCodecRequired) {
			t.Errorf("expected ErrCodecRequired, got %v", err)
		}
	})

	t.Run("missing input", func(t *testing.T) {
		err := p.EncodeAudio(ctx, filepath.Join(tmpDir, "missing.wav"), filepath.Join(tmpDir, "y"),
			EncodeOptions{Codec: "aac", Muxer: "mp4"})
		var ffErr *FFmpegError
		if !errors.As(err, &ffErr) {
			t.Fatalf("expected FFmpegError, got %v", err)
		}
		if ffErr.Stderr == "" {
			t.Error("expected stderr to be captured")
		}
	})
}

func TestRemuxWithMetadata(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "tone.wav")
	createTestTone(t, src, 3)

	p := NewFFmpegProcessor("")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	encoded := filepath.Join(tmpDir, "encoded")
	if err := p.EncodeAudio(ctx, src, encoded, EncodeOptions{Codec: "aac", Bitrate: "64k", Muxer: "mp4"}); err != nil {
		t.Fatalf("EncodeAudio failed: %v", err)
	}

	meta := filepath.Join(tmpDir, "meta.txt")
	content := ";FFMETADATA1\ntitle=Test Book\nartist=Jane Doe\n\n" +
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=0\nEND=1000\ntitle=One\n\n" +
		"[CHAPTER]\nTIMEBASE=1/1000\nSTART=1000\nEND=3000\ntitle=Two\n"
	if err := os.WriteFile(meta, []byte(content), 0o600); err != nil {
		t.Fatalf("write metadata: %v", err)
	}

	out := filepath.Join(tmpDir, "book.m4b")
	if err := p.RemuxWithMetadata(ctx, encoded, meta, out, RemuxOptions{Muxer: "mp4"}); err != nil {
		t.Fatalf("RemuxWithMetadata failed: %v", err)
	}

	res, err := p.Inspect(ctx, out)
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if res.Tags["title"] != "Test Book" {
		t.Errorf("expected title tag, got %q", res.Tags["title"])
	}
	if res.Tags["artist"] != "Jane Doe" {
		t.Errorf("expected artist tag, got %q", res.Tags["artist"])
	}
	if len(res.Chapters) != 2 {
		t.Fatalf("expected 2 chapters, got %d", len(res.Chapters))
	}
	if res.Chapters[1].Title != "Two" {
		t.Errorf("expected second chapter 'Two', got %q", res.Chapters[1].Title)
	}
	if res.Chapters[1].StartSeconds < 0.99 || res.Chapters[1].StartSeconds > 1.01 {
		t.Errorf("expected second chapter to start at 1s, got %.3f", res.Chapters[1].StartSeconds)
	}
}

func TestEncodeAudio_Cancelled(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	src := filepath.Join(tmpDir, "tone.wav")
	createTestTone(t, src, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewFFmpegProcessor("")
	err := p.EncodeAudio(ctx, src, filepath.Join(tmpDir, "out"), EncodeOptions{Codec: "aac", Muxer: "mp4"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.wav", "-c:a", "aac", "output.m4b"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}
