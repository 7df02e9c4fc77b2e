// Package runner launches a single external process and captures its
// outcome. It is the primitive every pipeline stage is built from.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	// ErrExecutableNotFound reports that the target binary could not be launched.
	ErrExecutableNotFound = errors.New("executable not found")
	// ErrTimeout reports that a stage exceeded its allotted time.
	ErrTimeout = errors.New("timed out")
)

const (
	// DefaultTimeout bounds a stage when neither the Spec nor Options set one.
	DefaultTimeout = 20 * time.Second
	// DefaultWaitDelay bounds how long output is drained after the process
	// exits or is killed.
	DefaultWaitDelay = 2 * time.Second
)

// Spec describes one process invocation.
type Spec struct {
	Stage      string
	Executable string
	Args       []string
	Dir        string
	Env        []string
	Timeout    time.Duration
}

// Result is the normalized outcome of a process that ran to completion.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"-"`
}

// StageError wraps ErrExecutableNotFound, ErrTimeout or a launch failure with
// the stage and executable it concerns.
type StageError struct {
	Stage      string
	Executable string
	Err        error
}

func (e *StageError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("%s: %v", e.Executable, e.Err)
	}
	return fmt.Sprintf("%s stage (%s): %v", e.Stage, e.Executable, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Options configure how the runner executes processes.
type Options struct {
	DefaultTimeout time.Duration
	WaitDelay      time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Runner executes processes one call at a time per caller; it holds no
// per-call state and is safe for concurrent use.
type Runner struct {
	opts Options
}

// New creates a runner with the supplied options.
func New(opts Options) *Runner {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = DefaultWaitDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{opts: opts}
}

// Run launches spec and blocks until the process exits or its timeout fires.
// A non-zero exit is reported through Result.ExitCode, not as an error.
func (r *Runner) Run(ctx context.Context, spec Spec) (Result, error) {
	log := r.opts.Logger.With("component", "runner", "stage", spec.Stage)

	path, err := exec.LookPath(spec.Executable)
	if err != nil {
		log.Debug("lookup failed", "executable", spec.Executable, "error", err)
		return Result{ExitCode: -1}, &StageError{Stage: spec.Stage, Executable: spec.Executable, Err: fmt.Errorf("%w: %v", ErrExecutableNotFound, err)}
	}
	// os/exec resolves a relative Path against cmd.Dir, not the caller's
	// working directory where LookPath found it.
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.WaitDelay = r.opts.WaitDelay

	// Non-file writers make os/exec copy each stream on its own goroutine,
	// so a full stderr pipe never blocks stdout or the wait.
	var stdout, stderr syncBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug("starting", "executable", path, "args", spec.Args, "dir", spec.Dir, "timeout", timeout)
	start := r.opts.Now()
	err = cmd.Run()
	result := Result{
		ExitCode: exitCode(err),
		Stdout:   normalize(stdout.String()),
		Stderr:   normalize(stderr.String()),
		Duration: r.opts.Now().Sub(start),
	}

	switch {
	case err == nil:
		log.Debug("finished", "duration", result.Duration)
		return result, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.ExitCode = -1
		log.Debug("timeout", "after", timeout)
		return result, &StageError{Stage: spec.Stage, Executable: spec.Executable, Err: fmt.Errorf("%w after %s", ErrTimeout, timeout)}
	case ctx.Err() != nil:
		result.ExitCode = -1
		return result, &StageError{Stage: spec.Stage, Executable: spec.Executable, Err: ctx.Err()}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		log.Debug("exited", "code", result.ExitCode, "duration", result.Duration)
		return result, nil
	}
	if missing(err) {
		return result, &StageError{Stage: spec.Stage, Executable: spec.Executable, Err: fmt.Errorf("%w: %v", ErrExecutableNotFound, err)}
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// The process exited but a child kept the pipes open; output up to
		// the delay is kept.
		return result, nil
	}
	return result, &StageError{Stage: spec.Stage, Executable: spec.Executable, Err: err}
}

// Missing reports whether err means the executable could not be launched.
func Missing(err error) bool {
	return errors.Is(err, ErrExecutableNotFound)
}

// TimedOut reports whether err is a stage timeout.
func TimedOut(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func missing(err error) bool {
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return -1
}

// normalize fixes the decoding of process output to UTF-8.
func normalize(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}

func mergeEnv(base, overlay []string) []string {
	if len(overlay) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overlay))
	out = append(out, base...)
	return append(out, overlay...)
}

// syncBuffer guards a bytes.Buffer; os/exec may still be copying into it
// while WaitDelay expires.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
