// Package synth adapts external speech synthesizers to the pipeline.
//
// A synthesizer is consumed as an opaque text to waveform function. Engines
// hand out a Handle for the duration of one pipeline run; the handle owns any
// loaded model or connection and must be closed when the run ends.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/maauso/audiobook-builder/internal/audio"
)

// Static errors for synthesis operations.
var (
	// ErrEmptyOutput is returned when the synthesizer produced no samples.
	ErrEmptyOutput = errors.New("synth: empty audio output")
	// ErrMalformedOutput is returned when the synthesizer output cannot be decoded.
	ErrMalformedOutput = errors.New("synth: malformed audio output")
	// ErrHandleClosed is returned when a closed handle is used.
	ErrHandleClosed = errors.New("synth: handle is closed")
	// ErrEmptyCommand is returned when the exec engine has no command.
	ErrEmptyCommand = errors.New("synth: command is empty")
	// ErrURLRequired is returned when the HTTP engine has no base URL.
	ErrURLRequired = errors.New("synth: base URL is required")
	// ErrServerError is returned when the synthesis server answers 5xx.
	ErrServerError = errors.New("synth: server error")
	// ErrRateLimited is returned when the synthesis server answers 429.
	ErrRateLimited = errors.New("synth: rate limited")
	// ErrRequestFailed is returned for any other non-2xx answer.
	ErrRequestFailed = errors.New("synth: request failed")
)

// Request is a single synthesis call.
type Request struct {
	Text    string
	Voice   string
	Speaker string
	// SampleRate is a hint; engines may answer at another rate.
	SampleRate int
}

// Result is the waveform produced for one request.
type Result struct {
	Samples    []int
	SampleRate int
}

// Handle is an acquired synthesizer. It is safe to call Synthesize
// concurrently.
type Handle interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
	Close() error
}

// Engine acquires synthesizer handles configured for a voice profile.
type Engine interface {
	Acquire(ctx context.Context, profile Profile) (Handle, error)
}

// retryableError marks failures that may succeed when attempted again.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// Retryable marks err as transient. Handles implemented outside this
// package use it to opt into retries.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err is worth another attempt. Malformed or
// empty output and transport failures are retryable; rejected requests and
// cancellation are not.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}

// decodeWAV turns synthesizer output into a Result.
func decodeWAV(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, &retryableError{err: ErrEmptyOutput}
	}
	samples, rate, err := audio.ReadWAV(bytes.NewReader(data))
	if err != nil {
		return Result{}, &retryableError{err: fmt.Errorf("%w: %w", ErrMalformedOutput, err)}
	}
	if len(samples) == 0 {
		return Result{}, &retryableError{err: ErrEmptyOutput}
	}
	return Result{Samples: samples, SampleRate: rate}, nil
}
