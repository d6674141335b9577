package audio

import (
	"errors"
	"log/slog"
	"sort"
	"time"
)

// Assembly errors.
var (
	// ErrNoAudioProduced is returned when no chapter has any audio to assemble.
	ErrNoAudioProduced = errors.New("audio: no audio produced")
	// ErrSampleRateMismatch describes a unit whose rate differs from the
	// track rate. It is resolved by resampling and only ever logged.
	ErrSampleRateMismatch = errors.New("audio: sample rate mismatch")
)

// Default timing constants.
const (
	DefaultInterUnitSilence = 300 * time.Millisecond
	DefaultChapterPause     = 2 * time.Second
)

// ChapterInput is one chapter handed to the assembler: its metadata plus the
// surviving units in any order. A chapter with no units is skipped.
type ChapterInput struct {
	Index int
	Title string
	Units []Unit
}

// ResampleFunc is notified whenever a unit is resampled to the track rate.
type ResampleFunc func(chapterIndex, sequence, from, to int)

// Assembler joins synthesized units into chapters and chapters into one
// track, computing chapter markers along the way.
type Assembler struct {
	interUnitSilence time.Duration
	chapterPause     time.Duration
	targetRate       int
	onResample       ResampleFunc
	logger           *slog.Logger
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithInterUnitSilence sets the silence inserted between units of a chapter.
func WithInterUnitSilence(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if d >= 0 {
			a.interUnitSilence = d
		}
	}
}

// WithChapterPause sets the silence inserted between chapters.
func WithChapterPause(d time.Duration) AssemblerOption {
	return func(a *Assembler) {
		if d >= 0 {
			a.chapterPause = d
		}
	}
}

// WithTargetRate fixes the output sample rate. Zero means the rate of the
// first unit of the first included chapter.
func WithTargetRate(rate int) AssemblerOption {
	return func(a *Assembler) {
		if rate >= 0 {
			a.targetRate = rate
		}
	}
}

// WithResampleHook registers fn to observe resampled units.
func WithResampleHook(fn ResampleFunc) AssemblerOption {
	return func(a *Assembler) {
		a.onResample = fn
	}
}

// WithLogger sets the logger used for absorbed mismatches.
func WithLogger(l *slog.Logger) AssemblerOption {
	return func(a *Assembler) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAssembler creates an Assembler with 300ms inter-unit silence and a two
// second chapter pause unless overridden.
func NewAssembler(opts ...AssemblerOption) *Assembler {
	a := &Assembler{
		interUnitSilence: DefaultInterUnitSilence,
		chapterPause:     DefaultChapterPause,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ChapterPause returns the configured inter-chapter pause.
func (a *Assembler) ChapterPause() time.Duration {
	return a.chapterPause
}

// AssembleChapter concatenates units in sequence order at the given rate,
// with inter-unit silence between consecutive units. Units at another rate
// are resampled; empty units are ignored.
func (a *Assembler) AssembleChapter(index int, title string, units []Unit, rate int) ChapterAudio {
	ordered := make([]Unit, 0, len(units))
	total := 0
	for _, u := range units {
		if len(u.Samples) == 0 {
			continue
		}
		ordered = append(ordered, u)
		total += len(u.Samples)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	gap := msToSamples(a.interUnitSilence.Milliseconds(), rate)
	samples := make([]int, 0, total+gap*len(ordered))
	for i, u := range ordered {
		if i > 0 {
			samples = appendSilence(samples, gap)
		}
		data := u.Samples
		if u.SampleRate != rate {
			a.logger.Warn("resampling unit",
				slog.Int("chapter_index", index),
				slog.Int("sequence", u.Sequence),
				slog.Int("from_rate", u.SampleRate),
				slog.Int("to_rate", rate),
				slog.String("reason", ErrSampleRateMismatch.Error()),
			)
			if a.onResample != nil {
				a.onResample(index, u.Sequence, u.SampleRate, rate)
			}
			data = Resample(data, u.SampleRate, rate)
		}
		samples = append(samples, data...)
	}

	return ChapterAudio{
		ChapterIndex: index,
		Title:        title,
		Samples:      samples,
		SampleRate:   rate,
	}
}

// Assemble builds the final track. Chapters are ordered by index; chapters
// without audio are skipped. Each marker starts where the previous one ended
// plus the chapter pause, and no pause follows the last chapter.
func (a *Assembler) Assemble(chapters []ChapterInput) (*Track, error) {
	included := make([]ChapterInput, 0, len(chapters))
	for _, ch := range chapters {
		if hasAudio(ch.Units) {
			included = append(included, ch)
		}
	}
	if len(included) == 0 {
		return nil, ErrNoAudioProduced
	}
	sort.SliceStable(included, func(i, j int) bool { return included[i].Index < included[j].Index })

	rate := a.targetRate
	if rate == 0 {
		rate = firstRate(included[0].Units)
	}

	pauseMs := a.chapterPause.Milliseconds()
	track := &Track{SampleRate: rate, Markers: make([]Marker, 0, len(included))}
	var cursorMs int64

	for i, ch := range included {
		chapter := a.AssembleChapter(ch.Index, ch.Title, ch.Units, rate)
		durationMs := chapter.DurationMs()

		track.Markers = append(track.Markers, Marker{
			ChapterIndex:  ch.Index,
			Title:         ch.Title,
			StartOffsetMs: cursorMs,
			DurationMs:    durationMs,
		})
		track.Samples = append(track.Samples, chapter.Samples...)

		if i == len(included)-1 {
			break
		}
		cursorMs += durationMs + pauseMs
		// Pad up to the sample at cursorMs so marker offsets and audio
		// positions never drift apart across chapters.
		track.Samples = appendSilence(track.Samples, msToSamples(cursorMs, rate)-len(track.Samples))
	}

	return track, nil
}

func hasAudio(units []Unit) bool {
	for _, u := range units {
		if len(u.Samples) > 0 {
			return true
		}
	}
	return false
}

// firstRate returns the rate of the lowest-sequence non-empty unit.
func firstRate(units []Unit) int {
	rate, seq := 0, -1
	for _, u := range units {
		if len(u.Samples) == 0 {
			continue
		}
		if seq == -1 || u.Sequence < seq {
			rate, seq = u.SampleRate, u.Sequence
		}
	}
	return rate
}

func appendSilence(samples []int, n int) []int {
	if n <= 0 {
		return samples
	}
	return append(samples, make([]int, n)...)
}
