package synthesis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiobook-builder/internal/events"
	"github.com/maauso/audiobook-builder/internal/synth"
	"github.com/maauso/audiobook-builder/internal/text"
)

// mockHandle implements synth.Handle for testing.
type mockHandle struct {
	mock.Mock
}

func (m *mockHandle) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(synth.Result), args.Error(1)
}

func (m *mockHandle) Close() error {
	return m.Called().Error(0)
}

// funcHandle answers with fn and tracks the number of concurrent calls.
type funcHandle struct {
	fn       func(req synth.Request) (synth.Result, error)
	inFlight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
}

func (f *funcHandle) Synthesize(_ context.Context, req synth.Request) (synth.Result, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return f.fn(req)
}

func (f *funcHandle) Close() error { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoResult encodes the chunk text length into a short waveform.
func echoResult(req synth.Request) (synth.Result, error) {
	return synth.Result{Samples: []int{len(req.Text)}, SampleRate: 22050}, nil
}

func chunksOf(chapter int, texts ...string) []text.Chunk {
	out := make([]text.Chunk, len(texts))
	for i, t := range texts {
		out[i] = text.Chunk{ChapterIndex: chapter, Sequence: i, Text: t}
	}
	return out
}

func newTestCoordinator(h synth.Handle, opts ...Option) *Coordinator {
	base := []Option{
		WithLogger(quietLogger()),
		WithRetryDelay(time.Millisecond, 2*time.Millisecond),
	}
	return NewCoordinator(h, append(base, opts...)...)
}

func TestSynthesizeChapter_PreservesOrder(t *testing.T) {
	h := &funcHandle{fn: func(req synth.Request) (synth.Result, error) {
		// later chunks finish first
		n, _ := strconv.Atoi(strings.TrimPrefix(req.Text, "c"))
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return synth.Result{Samples: []int{n}, SampleRate: 16000}, nil
	}}
	c := newTestCoordinator(h, WithMaxInFlight(4))

	res, err := c.SynthesizeChapter(context.Background(), 1, chunksOf(1, "c0", "c1", "c2", "c3", "c4", "c5"))
	require.NoError(t, err)

	require.Len(t, res.Units, 6)
	for i, u := range res.Units {
		assert.Equal(t, i, u.Sequence)
		assert.Equal(t, []int{i}, u.Samples)
		assert.Equal(t, 1, u.ChapterIndex)
		assert.Equal(t, 16000, u.SampleRate)
	}
	assert.Zero(t, res.ChunksFailed)
}

func TestSynthesizeChapter_RetriesTransientFailures(t *testing.T) {
	h := &mockHandle{}
	transient := synth.Retryable(errors.New("gpu busy"))
	h.On("Synthesize", mock.Anything, mock.Anything).Return(synth.Result{}, transient).Twice()
	h.On("Synthesize", mock.Anything, mock.Anything).Return(synth.Result{Samples: []int{1}, SampleRate: 22050}, nil).Once()

	c := newTestCoordinator(h, WithRetryAttempts(3), WithSampleRateHint(22050))
	res, err := c.SynthesizeChapter(context.Background(), 2, chunksOf(2, "Hello."))
	require.NoError(t, err)

	assert.Len(t, res.Units, 1)
	h.AssertNumberOfCalls(t, "Synthesize", 3)
	h.AssertCalled(t, "Synthesize", mock.Anything, synth.Request{Text: "Hello.", SampleRate: 22050})
}

func TestSynthesizeChapter_DropsExhaustedChunk(t *testing.T) {
	h := &funcHandle{fn: func(req synth.Request) (synth.Result, error) {
		if req.Text == "bad" {
			return synth.Result{}, synth.Retryable(errors.New("synth crashed"))
		}
		return echoResult(req)
	}}
	sink := &recordingSink{}
	c := newTestCoordinator(h, WithRetryAttempts(3), WithEventSink(sink), WithJobID("job-1"))

	res, err := c.SynthesizeChapter(context.Background(), 3, chunksOf(3, "good one", "bad", "good two"))
	require.NoError(t, err)

	require.Len(t, res.Units, 2)
	assert.Equal(t, []int{0, 2}, []int{res.Units[0].Sequence, res.Units[1].Sequence})
	assert.Equal(t, 3, res.ChunksTotal)
	assert.Equal(t, 1, res.ChunksFailed)
	assert.InDelta(t, 1.0/3.0, res.LossRatio(), 1e-9)
	assert.Equal(t, int32(5), h.calls.Load())

	require.Len(t, res.Failures, 1)
	f := res.Failures[0]
	assert.Equal(t, 1, f.Sequence)
	assert.Equal(t, 3, f.Attempts)
	assert.ErrorIs(t, f, ErrChunkSynthesisFailed)
	assert.Contains(t, f.Error(), "synth crashed")

	require.Len(t, sink.events, 1)
	ev := sink.events[0]
	assert.Equal(t, events.ChunkSynthesisFailed, ev.Type)
	assert.Equal(t, "job-1", ev.JobID)
	assert.Equal(t, 3, ev.ChapterIndex)
	assert.Equal(t, 1, ev.Sequence)
	assert.Equal(t, 3, ev.Attempts)
}

func TestSynthesizeChapter_PermanentErrorIsNotRetried(t *testing.T) {
	h := &mockHandle{}
	h.On("Synthesize", mock.Anything, mock.Anything).Return(synth.Result{}, synth.ErrRequestFailed)

	c := newTestCoordinator(h, WithRetryAttempts(5))
	res, err := c.SynthesizeChapter(context.Background(), 1, chunksOf(1, "x"))

	assert.ErrorIs(t, err, ErrChapterSynthesisFailed)
	assert.ErrorIs(t, err, synth.ErrRequestFailed)
	h.AssertNumberOfCalls(t, "Synthesize", 1)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Attempts)
}

func TestSynthesizeChapter_EmptyOutputIsRetriedThenDropped(t *testing.T) {
	h := &funcHandle{fn: func(req synth.Request) (synth.Result, error) {
		if req.Text == "silent" {
			return synth.Result{SampleRate: 22050}, nil
		}
		return echoResult(req)
	}}
	c := newTestCoordinator(h, WithRetryAttempts(2))

	res, err := c.SynthesizeChapter(context.Background(), 1, chunksOf(1, "silent", "loud"))
	require.NoError(t, err)
	assert.Len(t, res.Units, 1)
	assert.ErrorIs(t, res.Failures[0].Err, synth.ErrEmptyOutput)
	assert.Equal(t, 2, res.Failures[0].Attempts)
}

func TestSynthesizeChapter_AllChunksFail(t *testing.T) {
	h := &funcHandle{fn: func(synth.Request) (synth.Result, error) {
		return synth.Result{}, synth.Retryable(errors.New("down"))
	}}
	sink := &recordingSink{}
	c := newTestCoordinator(h, WithRetryAttempts(2), WithEventSink(sink))

	res, err := c.SynthesizeChapter(context.Background(), 7, chunksOf(7, "a", "b"))
	assert.ErrorIs(t, err, ErrChapterSynthesisFailed)
	assert.Empty(t, res.Units)
	assert.Equal(t, 2, res.ChunksFailed)
	assert.Len(t, sink.events, 2)
}

func TestSynthesizeChapter_NoChunks(t *testing.T) {
	c := newTestCoordinator(&mockHandle{})

	_, err := c.SynthesizeChapter(context.Background(), 1, nil)
	assert.ErrorIs(t, err, ErrChapterSynthesisFailed)
	assert.ErrorIs(t, err, text.ErrNoChunks)
}

func TestSynthesizeChapter_BoundsInFlightAcrossChapters(t *testing.T) {
	h := &funcHandle{fn: func(req synth.Request) (synth.Result, error) {
		time.Sleep(5 * time.Millisecond)
		return echoResult(req)
	}}
	c := newTestCoordinator(h, WithMaxInFlight(2))

	var wg sync.WaitGroup
	for ch := 1; ch <= 3; ch++ {
		wg.Add(1)
		go func(ch int) {
			defer wg.Done()
			_, err := c.SynthesizeChapter(context.Background(), ch, chunksOf(ch, "a", "b", "c", "d"))
			assert.NoError(t, err)
		}(ch)
	}
	wg.Wait()

	assert.Equal(t, int32(12), h.calls.Load())
	assert.LessOrEqual(t, h.peak.Load(), int32(2))
}

func TestSynthesizeChapter_Cancelled(t *testing.T) {
	h := &mockHandle{}
	c := newTestCoordinator(h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.SynthesizeChapter(ctx, 1, chunksOf(1, "a", "b"))
	assert.ErrorIs(t, err, context.Canceled)
	h.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestSynthesizeChapter_CancelStopsNewCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := &funcHandle{fn: func(req synth.Request) (synth.Result, error) {
		cancel()
		return echoResult(req)
	}}
	c := newTestCoordinator(h, WithMaxInFlight(1))

	_, err := c.SynthesizeChapter(ctx, 1, chunksOf(1, "a", "b", "c", "d"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), h.calls.Load())
}
