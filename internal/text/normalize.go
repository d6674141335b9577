package text

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]+>`)
	urlPattern      = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	emailPattern    = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)
	repeatedBang    = regexp.MustCompile(`!{2,}`)
	repeatedQuery   = regexp.MustCompile(`\?{2,}`)
	repeatedDots    = regexp.MustCompile(`\.{4,}`)
	spaceRun        = regexp.MustCompile(`[ \t]+`)
	blankLineRun    = regexp.MustCompile(`\n\s*\n\s*`)
	spaceBeforeMark = regexp.MustCompile(`[ \t]+([.,!?;:])`)
)

// characterReplacer maps typographic characters to the plain forms speech
// engines pronounce reliably.
var characterReplacer = strings.NewReplacer(
	"“", `"`, "”", `"`, "„", `"`,
	"‘", "'", "’", "'", "‚", "'",
	"–", "-", "—", " - ", "―", " - ",
	"…", "...",
	"\u00a0", " ", "\u2009", " ", "\u200b", "",
	"\r\n", "\n", "\r", "\n",
)

// abbreviations are expanded so the segmenter does not treat their periods
// as sentence ends and the synthesizer reads them as words.
var abbreviations = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`\bDr\.\s`), "Doctor "},
	{regexp.MustCompile(`\bMrs\.\s`), "Missus "},
	{regexp.MustCompile(`\bMr\.\s`), "Mister "},
	{regexp.MustCompile(`\bMs\.\s`), "Miss "},
	{regexp.MustCompile(`\bProf\.\s`), "Professor "},
	{regexp.MustCompile(`\bSt\.\s`), "Saint "},
	{regexp.MustCompile(`\bvs\.\s`), "versus "},
	// A capital after "etc." starts a new sentence, so the period stays.
	{regexp.MustCompile(`\betc\.(\s+\p{Lu})`), "et cetera.$1"},
	{regexp.MustCompile(`\betc\.`), "et cetera"},
	{regexp.MustCompile(`\be\.g\.`), "for example"},
	{regexp.MustCompile(`\bi\.e\.`), "that is"},
}

// Normalize cleans chapter text for synthesis. Markup, links and e-mail
// addresses are removed, typographic punctuation is flattened, common
// abbreviations are expanded and whitespace is collapsed. Paragraph breaks
// survive as single newlines. Normalize is idempotent.
func Normalize(s string) string {
	s = characterReplacer.Replace(s)
	s = htmlTagPattern.ReplaceAllString(s, " ")
	s = urlPattern.ReplaceAllString(s, "")
	s = emailPattern.ReplaceAllString(s, "")

	for _, a := range abbreviations {
		s = a.pattern.ReplaceAllString(s, a.repl)
	}

	s = repeatedBang.ReplaceAllString(s, "!")
	s = repeatedQuery.ReplaceAllString(s, "?")
	s = repeatedDots.ReplaceAllString(s, "...")

	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceBeforeMark.ReplaceAllString(s, "$1")
	s = blankLineRun.ReplaceAllString(s, "\n")

	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
