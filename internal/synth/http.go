package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// HTTPEngine calls a synthesis server over HTTP. Each request is a JSON POST
// to {baseURL}/synthesize answered with a WAV body.
type HTTPEngine struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// HTTPOption configures an HTTPEngine.
type HTTPOption func(*HTTPEngine)

// WithAPIKey sets a bearer token sent with every request.
func WithAPIKey(key string) HTTPOption {
	return func(e *HTTPEngine) {
		e.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEngine) {
		e.httpClient = c
	}
}

// WithRequestTimeout sets the timeout of the default HTTP client.
func WithRequestTimeout(d time.Duration) HTTPOption {
	return func(e *HTTPEngine) {
		if d > 0 {
			e.httpClient.Timeout = d
		}
	}
}

// NewHTTPEngine creates an engine for the server at baseURL.
func NewHTTPEngine(baseURL string, opts ...HTTPOption) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, ErrURLRequired
	}
	e := &HTTPEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Acquire returns a handle bound to profile. The underlying HTTP client is
// shared; closing the handle releases its idle connections.
func (e *HTTPEngine) Acquire(ctx context.Context, profile Profile) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &httpHandle{engine: e, profile: profile}, nil
}

type synthesizeRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type httpHandle struct {
	engine  *HTTPEngine
	profile Profile
	closed  atomic.Bool
}

func (h *httpHandle) Synthesize(ctx context.Context, req Request) (Result, error) {
	if h.closed.Load() {
		return Result{}, ErrHandleClosed
	}
	req = withProfileDefaults(req, h.profile)

	body, err := json.Marshal(synthesizeRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Speaker:    req.Speaker,
		SampleRate: req.SampleRate,
	})
	if err != nil {
		return Result{}, fmt.Errorf("synth: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.engine.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("synth: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/wav")
	if h.engine.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.engine.apiKey)
	}

	resp, err := h.engine.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("synth: cancelled: %w", ctx.Err())
		}
		return Result{}, &retryableError{err: fmt.Errorf("synth: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &retryableError{err: fmt.Errorf("synth: read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500:
		return Result{}, &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, truncate(respBody))}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, truncate(respBody))}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, truncate(respBody))
	}

	return decodeWAV(respBody)
}

func (h *httpHandle) Close() error {
	if h.closed.CompareAndSwap(false, true) {
		h.engine.httpClient.CloseIdleConnections()
	}
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
