// Package common holds the plumbing shared by the force-field engines: running
// external engine processes, probing the compute device and classifying
// device faults, and reporting engine invocations to an observer.
package common

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/turtacn/PoseRank/pkg/errors"
)

// Command describes one engine invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory. Engines write scratch files next to
	// their input, so every invocation gets its own directory.
	Dir   string
	Stdin []byte
	// Env is appended to the current process environment.
	Env []string
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output captures what a finished process produced.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Combined returns stdout followed by stderr.
func (o *Output) Combined() string {
	if o == nil {
		return ""
	}
	return string(o.Stdout) + string(o.Stderr)
}

// Executor abstracts process execution so engines can be tested with fakes.
type Executor interface {
	LookPath(file string) (string, error)

	// Run executes cmd and waits for it. The returned Output is non-nil
	// whenever the process started. Errors carry ErrCodeEngineNotFound,
	// ErrCodeEngineExit or ErrCodeTimeout.
	Run(ctx context.Context, cmd Command) (*Output, error)
}

// OSExecutor runs commands with os/exec.
type OSExecutor struct{}

// NewOSExecutor returns the production executor.
func NewOSExecutor() *OSExecutor { return &OSExecutor{} }

// LookPath resolves file on PATH.
func (OSExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// Run executes cmd, killing the process when ctx is done.
func (OSExecutor) Run(ctx context.Context, cmd Command) (*Output, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	out := &Output{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: c.ProcessState.ExitCode(),
		Duration: time.Since(start),
	}
	if err == nil {
		return out, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, errors.Wrap(ctxErr, errors.ErrCodeTimeout, fmt.Sprintf("%s interrupted", cmd.Name))
	}
	var notFound *exec.Error
	if stderrors.As(err, &notFound) {
		return nil, errors.Wrap(err, errors.ErrCodeEngineNotFound, fmt.Sprintf("%s not executable", cmd.Name))
	}
	return out, errors.Wrap(err, errors.ErrCodeEngineExit, fmt.Sprintf("%s failed", cmd.Name)).
		WithDetail(Tail(out.Stderr, 500))
}

// Tail returns at most n trailing bytes of b as a trimmed string.
func Tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

// EngineObserver receives one call per engine invocation.
type EngineObserver interface {
	ObserveEngine(engine, task, status string, d time.Duration)
}

// Engine invocation statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusTimeout = "timeout"
)

// InvocationStatus maps a Run error to an observer status.
func InvocationStatus(err error) string {
	switch {
	case err == nil:
		return StatusOK
	case errors.IsCode(err, errors.ErrCodeTimeout):
		return StatusTimeout
	default:
		return StatusFailed
	}
}

type nopObserver struct{}

func (nopObserver) ObserveEngine(string, string, string, time.Duration) {}

// NopObserver returns an observer that records nothing.
func NopObserver() EngineObserver { return nopObserver{} }
