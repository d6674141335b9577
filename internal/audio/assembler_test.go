package audio

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 1000 // one sample per millisecond keeps expectations exact

func tone(n, value int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = value
	}
	return s
}

func unit(chapter, seq, n int) Unit {
	return Unit{ChapterIndex: chapter, Sequence: seq, Samples: tone(n, 1000+seq), SampleRate: testRate}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAssembleChapter_InsertsSilenceBetweenUnits(t *testing.T) {
	a := NewAssembler(WithInterUnitSilence(300*time.Millisecond), WithLogger(quietLogger()))

	ch := a.AssembleChapter(1, "One", []Unit{unit(1, 1, 100), unit(1, 0, 100)}, testRate)

	require.Len(t, ch.Samples, 500)
	assert.Equal(t, int64(500), ch.DurationMs())
	assert.Equal(t, 1000, ch.Samples[0], "sequence 0 comes first")
	assert.Equal(t, 0, ch.Samples[150], "gap is silent")
	assert.Equal(t, 1001, ch.Samples[499])
}

func TestAssembleChapter_SingleUnitHasNoSilence(t *testing.T) {
	a := NewAssembler(WithLogger(quietLogger()))
	ch := a.AssembleChapter(1, "One", []Unit{unit(1, 0, 42)}, testRate)
	assert.Len(t, ch.Samples, 42)
}

func TestAssemble_MarkersFollowClosedForm(t *testing.T) {
	a := NewAssembler(
		WithInterUnitSilence(0),
		WithChapterPause(2*time.Second),
		WithLogger(quietLogger()),
	)
	chapters := []ChapterInput{
		{Index: 1, Title: "A", Units: []Unit{unit(1, 0, 1500)}},
		{Index: 2, Title: "B", Units: []Unit{unit(2, 0, 700)}},
		{Index: 3, Title: "C", Units: []Unit{unit(3, 0, 2300)}},
	}

	track, err := a.Assemble(chapters)
	require.NoError(t, err)
	require.Len(t, track.Markers, 3)

	var expected int64
	for i, m := range track.Markers {
		assert.Equal(t, expected, m.StartOffsetMs, "marker %d", i)
		if i > 0 {
			prev := track.Markers[i-1]
			assert.Greater(t, m.StartOffsetMs, prev.StartOffsetMs)
			assert.Equal(t, prev.StartOffsetMs+prev.DurationMs+2000, m.StartOffsetMs)
		}
		expected += m.DurationMs + 2000
	}

	assert.Equal(t, []int64{1500, 700, 2300}, []int64{track.Markers[0].DurationMs, track.Markers[1].DurationMs, track.Markers[2].DurationMs})
	// no trailing pause after the final chapter
	assert.Equal(t, 1500+2000+700+2000+2300, len(track.Samples))
	assert.Equal(t, track.Markers[2].EndOffsetMs(), track.DurationMs())
}

func TestAssemble_SkipsFailedChapter(t *testing.T) {
	a := NewAssembler(WithInterUnitSilence(0), WithChapterPause(time.Second), WithLogger(quietLogger()))
	chapters := []ChapterInput{
		{Index: 5, Title: "E", Units: []Unit{unit(5, 0, 500)}},
		{Index: 1, Title: "A", Units: []Unit{unit(1, 0, 100)}},
		{Index: 3, Title: "C", Units: nil},
		{Index: 2, Title: "B", Units: []Unit{unit(2, 0, 200)}},
		{Index: 4, Title: "D", Units: []Unit{unit(4, 0, 400)}},
	}

	track, err := a.Assemble(chapters)
	require.NoError(t, err)
	require.Len(t, track.Markers, 4)

	titles := make([]string, 0, 4)
	for _, m := range track.Markers {
		titles = append(titles, m.Title)
	}
	assert.Equal(t, []string{"A", "B", "D", "E"}, titles)
	assert.Equal(t, []int64{0, 1100, 2300, 3700}, []int64{
		track.Markers[0].StartOffsetMs,
		track.Markers[1].StartOffsetMs,
		track.Markers[2].StartOffsetMs,
		track.Markers[3].StartOffsetMs,
	})
}

func TestAssemble_NoAudioProduced(t *testing.T) {
	a := NewAssembler(WithLogger(quietLogger()))

	_, err := a.Assemble(nil)
	assert.ErrorIs(t, err, ErrNoAudioProduced)

	_, err = a.Assemble([]ChapterInput{
		{Index: 1, Units: nil},
		{Index: 2, Units: []Unit{{Sequence: 0, SampleRate: testRate}}},
	})
	assert.ErrorIs(t, err, ErrNoAudioProduced)
}

func TestAssemble_ResamplesToFirstUnitRate(t *testing.T) {
	var hooked [][4]int
	a := NewAssembler(
		WithInterUnitSilence(0),
		WithChapterPause(0),
		WithLogger(quietLogger()),
		WithResampleHook(func(ch, seq, from, to int) {
			hooked = append(hooked, [4]int{ch, seq, from, to})
		}),
	)
	chapters := []ChapterInput{
		{Index: 1, Title: "A", Units: []Unit{unit(1, 0, 1000)}},
		{Index: 2, Title: "B", Units: []Unit{{ChapterIndex: 2, Sequence: 0, Samples: tone(2000, 7), SampleRate: 2000}}},
	}

	track, err := a.Assemble(chapters)
	require.NoError(t, err)

	assert.Equal(t, testRate, track.SampleRate)
	assert.Equal(t, int64(1000), track.Markers[1].DurationMs)
	assert.Equal(t, [][4]int{{2, 0, 2000, testRate}}, hooked)
}

func TestAssemble_ConfiguredTargetRate(t *testing.T) {
	a := NewAssembler(WithTargetRate(2000), WithInterUnitSilence(0), WithLogger(quietLogger()))

	track, err := a.Assemble([]ChapterInput{{Index: 1, Title: "A", Units: []Unit{unit(1, 0, 500)}}})
	require.NoError(t, err)

	assert.Equal(t, 2000, track.SampleRate)
	assert.Len(t, track.Samples, 1000)
	assert.Equal(t, int64(500), track.Markers[0].DurationMs)
}

func TestAssemble_MarkersStayAlignedWithAudio(t *testing.T) {
	const rate = 22050
	a := NewAssembler(WithInterUnitSilence(0), WithChapterPause(2*time.Second), WithLogger(quietLogger()))
	var chapters []ChapterInput
	for i := 1; i <= 6; i++ {
		n := 12345*i + 17 // durations that are not whole milliseconds
		chapters = append(chapters, ChapterInput{
			Index: i,
			Units: []Unit{{ChapterIndex: i, Samples: tone(n, 1), SampleRate: rate}},
		})
	}

	track, err := a.Assemble(chapters)
	require.NoError(t, err)

	for _, m := range track.Markers {
		start := msToSamples(m.StartOffsetMs, rate)
		assert.Equal(t, 1, track.Samples[start], "chapter %d audio starts at its marker", m.ChapterIndex)
		if start > 0 {
			assert.Equal(t, 0, track.Samples[start-1])
		}
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatDuration(0))
	assert.Equal(t, "01:01:01", FormatDuration(time.Hour+time.Minute+time.Second+400*time.Millisecond))
	assert.Equal(t, "27:46:40", FormatDuration(100000*time.Second))
}
