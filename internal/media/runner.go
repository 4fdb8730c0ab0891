package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/gammazero/workerpool"
)

// ErrProcess matches any *ProcessError.
var ErrProcess = errors.New("external process failed")

// ErrMalformedOutput is returned when a program's output cannot be parsed.
var ErrMalformedOutput = errors.New("malformed program output")

// ProcessError describes a failed or non-zero exit of an external program.
type ProcessError struct {
	Program string
	Stderr  string
	Err     error
}

func (e *ProcessError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Program, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Program, e.Err, e.Stderr)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool { return target == ErrProcess }

// Runner runs an external program to completion and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

const stderrTail = 512

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > stderrTail {
			msg = "..." + msg[len(msg)-stderrTail:]
		}
		return out, &ProcessError{Program: name, Stderr: msg, Err: err}
	}
	return out, nil
}

// PoolRunner bounds how many programs run at once across all workflows.
// Callers block until a worker picks up their invocation.
type PoolRunner struct {
	next Runner
	wp   *workerpool.WorkerPool
}

// NewPoolRunner wraps next with a pool of max workers.
func NewPoolRunner(next Runner, max int) *PoolRunner {
	if max < 1 {
		max = 1
	}
	return &PoolRunner{next: next, wp: workerpool.New(max)}
}

func (p *PoolRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	p.wp.Submit(func() {
		if err := ctx.Err(); err != nil {
			done <- result{err: err}
			return
		}
		out, err := p.next.Run(ctx, name, args...)
		done <- result{out: out, err: err}
	})

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Waiting reports invocations queued for a free worker.
func (p *PoolRunner) Waiting() int {
	return p.wp.WaitingQueueSize()
}

// Stop waits for running and queued invocations to finish.
func (p *PoolRunner) Stop() {
	p.wp.StopWait()
}
