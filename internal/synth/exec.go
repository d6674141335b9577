package synth

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/mattn/go-shellwords"
)

// ExecEngine runs a local synthesizer process per request. The text is
// written to the process stdin and a WAV file is expected on stdout.
//
// Command arguments may contain the placeholders {voice}, {speaker} and
// {sample_rate}, which are replaced per request.
type ExecEngine struct {
	args    []string
	timeout time.Duration
}

// ExecOption configures an ExecEngine.
type ExecOption func(*ExecEngine)

// WithExecTimeout bounds the run time of a single synthesizer process.
func WithExecTimeout(d time.Duration) ExecOption {
	return func(e *ExecEngine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// NewExecEngine parses command with shell quoting rules.
func NewExecEngine(command string, opts ...ExecOption) (*ExecEngine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("synth: parse command: %w", err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	e := &ExecEngine{args: args, timeout: 2 * time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Acquire returns a handle bound to profile. Processes are started per
// request, so acquiring holds no resources.
func (e *ExecEngine) Acquire(ctx context.Context, profile Profile) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &execHandle{engine: e, profile: profile}, nil
}

type execHandle struct {
	engine  *ExecEngine
	profile Profile
	closed  atomic.Bool
}

func (h *execHandle) Synthesize(ctx context.Context, req Request) (Result, error) {
	if h.closed.Load() {
		return Result{}, ErrHandleClosed
	}
	req = withProfileDefaults(req, h.profile)

	runCtx, cancel := context.WithTimeout(ctx, h.engine.timeout)
	defer cancel()

	args := expandArgs(h.engine.args, req)
	// #nosec G204 - the command is configured by the operator, not request input
	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, fmt.Errorf("synth: cancelled: %w", ctx.Err())
		}
		return Result{}, &retryableError{err: fmt.Errorf("synth: %s failed: %w, stderr: %s",
			args[0], err, strings.TrimSpace(stderr.String()))}
	}
	return decodeWAV(stdout.Bytes())
}

func (h *execHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func expandArgs(args []string, req Request) []string {
	r := strings.NewReplacer(
		"{voice}", req.Voice,
		"{speaker}", req.Speaker,
		"{sample_rate}", strconv.Itoa(req.SampleRate),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func withProfileDefaults(req Request, p Profile) Request {
	if req.Voice == "" {
		req.Voice = p.Voice
	}
	if req.Speaker == "" {
		req.Speaker = p.Speaker
	}
	if req.SampleRate == 0 {
		req.SampleRate = p.SampleRate
	}
	return req
}
