package container

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/maauso/audiobook-builder/internal/audio"
)

// Genre is written into every audiobook.
const Genre = "Audiobook"

// Tags is the bibliographic and chapter information embedded in a container.
type Tags struct {
	Title       string
	Artist      string
	Album       string
	Year        string
	Genre       string
	Description string
	// Comment carries the human-readable chapter list.
	Comment  string
	Chapters []audio.Marker
	// WorkDir holds intermediate files while tagging.
	WorkDir string
}

var ffmetaEscaper = strings.NewReplacer(
	`\`, `\\`,
	`=`, `\=`,
	`;`, `\;`,
	`#`, `\#`,
	"\n", "\\\n",
)

// BuildFFMetadata renders tags in the FFMETADATA1 format read by ffmpeg,
// with one [CHAPTER] section per marker in milliseconds.
func BuildFFMetadata(t Tags) string {
	var b strings.Builder
	b.WriteString(";FFMETADATA1\n")
	writeKey(&b, "title", t.Title)
	writeKey(&b, "artist", t.Artist)
	writeKey(&b, "album_artist", t.Artist)
	writeKey(&b, "album", t.Album)
	writeKey(&b, "date", t.Year)
	writeKey(&b, "genre", t.Genre)
	writeKey(&b, "description", t.Description)
	writeKey(&b, "comment", t.Comment)
	// iTunes media kind 2 is "Audiobook"
	b.WriteString("media_type=2\n")

	for _, m := range t.Chapters {
		b.WriteString("\n[CHAPTER]\nTIMEBASE=1/1000\n")
		b.WriteString("START=" + strconv.FormatInt(m.StartOffsetMs, 10) + "\n")
		b.WriteString("END=" + strconv.FormatInt(m.EndOffsetMs(), 10) + "\n")
		writeKey(&b, "title", m.Title)
	}
	return b.String()
}

func writeKey(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(ffmetaEscaper.Replace(value))
	b.WriteByte('\n')
}

// ChapterComment renders markers as "Chapter N: <title>" entries joined by
// "; ", numbered by position in the final audiobook.
func ChapterComment(markers []audio.Marker) string {
	parts := make([]string, len(markers))
	for i, m := range markers {
		parts[i] = fmt.Sprintf("Chapter %d: %s", i+1, m.Title)
	}
	return strings.Join(parts, "; ")
}
