package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-builder/internal/book"
	"github.com/maauso/audiobook-builder/internal/container"
	"github.com/maauso/audiobook-builder/internal/pipeline"
)

func TestParseFlags(t *testing.T) {
	t.Run("all flags", func(t *testing.T) {
		opts, err := parseFlags([]string{"-manifest", "book.yaml", "-out", "out/", "-format", "mp3", "-quality", "standard"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, options{manifest: "book.yaml", out: "out/", format: "mp3", quality: "standard"}, opts)
	})

	t.Run("positional manifest", func(t *testing.T) {
		opts, err := parseFlags([]string{"book.yaml"}, io.Discard)
		require.NoError(t, err)
		assert.Equal(t, "book.yaml", opts.manifest)
	})

	t.Run("missing manifest", func(t *testing.T) {
		var usage bytes.Buffer
		_, err := parseFlags(nil, &usage)
		require.Error(t, err)
		assert.Contains(t, usage.String(), "-manifest")
	})

	t.Run("unknown flag", func(t *testing.T) {
		_, err := parseFlags([]string{"-voice", "x"}, io.Discard)
		require.Error(t, err)
	})
}

func TestResolveOutput(t *testing.T) {
	meta := book.Metadata{Title: "My Book", Author: "Jane Doe"}

	t.Run("default directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "books")
		got, err := resolveOutput("", dir, meta, container.FormatM4B)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "Jane_Doe-My_Book.m4b"), got)
		assert.DirExists(t, dir)
	})

	t.Run("existing directory", func(t *testing.T) {
		dir := t.TempDir()
		got, err := resolveOutput(dir, "unused", meta, container.FormatMP3)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "Jane_Doe-My_Book.mp3"), got)
	})

	t.Run("explicit file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested")
		file := filepath.Join(dir, "custom.m4b")
		got, err := resolveOutput(file, "unused", meta, container.FormatM4B)
		require.NoError(t, err)
		assert.Equal(t, file, got)
		assert.DirExists(t, dir)
	})
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, &pipeline.Result{
		OutputPath: "/out/book.m4b",
		Summary: pipeline.Summary{
			ChaptersAttempted: 3,
			ChaptersIncluded:  2,
			FailedChapters:    []pipeline.FailedChapter{{Index: 2, Title: "Two", Reason: "all chunks failed"}},
			ChunksTotal:       10,
			ChunksFailed:      4,
			Duration:          time.Hour + 2*time.Minute + 3*time.Second,
			Elapsed:           90 * time.Second,
		},
		MetadataErr: errors.New("tagger down"),
	})

	out := buf.String()
	assert.Contains(t, out, "/out/book.m4b")
	assert.Contains(t, out, "2/3 included")
	assert.Contains(t, out, "4 failed of 10")
	assert.Contains(t, out, "01:02:03")
	assert.Contains(t, out, "00:01:30")
	assert.Contains(t, out, "skipped chapter 2 (Two): all chunks failed")
	assert.Contains(t, out, "tagger down")
}

func TestRun_InvalidInputs(t *testing.T) {
	t.Setenv("OUTPUT_DIR", t.TempDir())
	t.Setenv("TEMP_DIR", t.TempDir())

	manifest := filepath.Join(t.TempDir(), "book.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`metadata:
  title: My Book
chapters:
  - index: 1
    title: One
    text: Hello there.
`), 0o600))

	t.Run("bad format", func(t *testing.T) {
		err := run(context.Background(), []string{"-manifest", manifest, "-format", "flac"}, io.Discard)
		assert.ErrorIs(t, err, container.ErrUnsupportedFormat)
	})

	t.Run("bad quality", func(t *testing.T) {
		err := run(context.Background(), []string{"-manifest", manifest, "-quality", "ultra"}, io.Discard)
		assert.ErrorIs(t, err, container.ErrUnsupportedQuality)
	})

	t.Run("missing manifest file", func(t *testing.T) {
		err := run(context.Background(), []string{"-manifest", filepath.Join(t.TempDir(), "none.yaml")}, io.Discard)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read manifest")
	})
}
