package container

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bogem/id3v2/v2"

	"github.com/maauso/audiobook-builder/internal/media"
)

// Tagger embeds tags into an already encoded file in place.
type Tagger interface {
	Tag(ctx context.Context, path string, tags Tags) error
}

// TempSaver stores intermediate files. storage.LocalStorage satisfies it.
type TempSaver interface {
	SaveTemp(ctx context.Context, dir, name string, data io.Reader) (string, error)
}

// ID3Tagger writes ID3v2.4 frames into MP3 files. Chapters are listed in a
// comment frame since MP3 has no chapter structure.
type ID3Tagger struct{}

// Tag writes TIT2, TPE1, TALB, TDRC, TCON and COMM frames.
func (ID3Tagger) Tag(ctx context.Context, path string, tags Tags) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open id3 tag: %w", err)
	}
	defer func() { _ = tag.Close() }()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(tags.Title)
	tag.SetArtist(tags.Artist)
	tag.SetAlbum(tags.Album)
	tag.SetYear(tags.Year)
	tag.SetGenre(tags.Genre)

	if tags.Comment != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "Chapters",
			Text:        tags.Comment,
		})
	}
	if tags.Description != "" {
		tag.AddCommentFrame(id3v2.CommentFrame{
			Encoding:    id3v2.EncodingUTF8,
			Language:    "eng",
			Description: "Description",
			Text:        tags.Description,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save id3 tag: %w", err)
	}
	return nil
}

// MP4Tagger remuxes an MP4 file through ffmpeg with an FFMETADATA1 file,
// adding global tags, the audiobook media kind and native chapters.
type MP4Tagger struct {
	processor media.Processor
	saver     TempSaver
}

// NewMP4Tagger creates an MP4Tagger.
func NewMP4Tagger(processor media.Processor, saver TempSaver) *MP4Tagger {
	return &MP4Tagger{processor: processor, saver: saver}
}

// Tag replaces path with a tagged copy once the copy is seen to carry every
// chapter. On failure path is left untouched.
func (t *MP4Tagger) Tag(ctx context.Context, path string, tags Tags) error {
	metaPath, err := t.saver.SaveTemp(ctx, tags.WorkDir, "ffmetadata", strings.NewReader(BuildFFMetadata(tags)))
	if err != nil {
		return fmt.Errorf("save ffmetadata: %w", err)
	}
	defer func() { _ = os.Remove(metaPath) }()

	tagged := path + ".tagged"
	if err := t.processor.RemuxWithMetadata(ctx, path, metaPath, tagged, media.RemuxOptions{Muxer: "mp4"}); err != nil {
		_ = os.Remove(tagged)
		return fmt.Errorf("remux with metadata: %w", err)
	}
	if err := t.verifyChapters(ctx, tagged, len(tags.Chapters)); err != nil {
		_ = os.Remove(tagged)
		return err
	}
	if err := os.Rename(tagged, path); err != nil {
		_ = os.Remove(tagged)
		return fmt.Errorf("replace untagged file: %w", err)
	}
	return nil
}

func (t *MP4Tagger) verifyChapters(ctx context.Context, path string, want int) error {
	info, err := t.processor.Inspect(ctx, path)
	if err != nil {
		return fmt.Errorf("inspect tagged file: %w", err)
	}
	if got := len(info.Chapters); got != want {
		return fmt.Errorf("%w: got %d, want %d", ErrChaptersMissing, got, want)
	}
	return nil
}
