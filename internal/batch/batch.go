// Package batch runs the pipeline over every source in a directory and
// persists one log per input plus a summary file.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bgricker/stagerun/internal/discovery"
	"github.com/bgricker/stagerun/internal/filter"
	"github.com/bgricker/stagerun/internal/output"
	"github.com/bgricker/stagerun/internal/pipeline"
	"github.com/bgricker/stagerun/internal/report"
	"github.com/bgricker/stagerun/internal/workspace"
)

// ErrAlreadyRunning is returned when a batch is requested while another is
// still in progress on the same Runner.
var ErrAlreadyRunning = errors.New("batch already running")

// DefaultSummaryFile is the summary file name inside the logs directory.
const DefaultSummaryFile = "summary.txt"

// Pipeline runs one request inside a caller-owned workspace.
type Pipeline interface {
	Run(ctx context.Context, ws *workspace.Workspace, req pipeline.Request) (*report.Report, error)
}

// Recorder persists a finished batch.
type Recorder interface {
	RecordRun(ctx context.Context, summary report.Summary) (string, error)
}

// ProgressFunc is called after each input with its 1-based position.
type ProgressFunc func(entry report.Entry, index, total int)

// Options configure a Runner.
type Options struct {
	Pipeline      Pipeline
	Workspaces    *workspace.Manager
	SourceExt     string
	NumericPrefix bool
	Only          []filter.Pattern
	Skip          []filter.Pattern
	SummaryFile   string
	Progress      ProgressFunc
	Recorder      Recorder
	Now           func() time.Time
	Logger        *slog.Logger
}

// Runner executes batches sequentially.
type Runner struct {
	opts    Options
	running atomic.Bool
}

// New creates a batch Runner.
func New(opts Options) *Runner {
	if opts.SourceExt == "" {
		opts.SourceExt = workspace.DefaultSourceExt
	}
	if opts.SummaryFile == "" {
		opts.SummaryFile = DefaultSummaryFile
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Workspaces == nil {
		opts.Workspaces = workspace.NewManager(workspace.Options{SourceExt: opts.SourceExt, Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts}
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Run processes every qualifying input in inputsDir and blocks until the
// summary is written. A non-nil error alongside a populated Summary means the
// batch completed but some logs or the summary could not be persisted.
func (r *Runner) Run(ctx context.Context, inputsDir, logsDir string) (report.Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return report.Summary{}, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	return r.run(ctx, inputsDir, logsDir)
}

// Task is a batch running on its own goroutine.
type Task struct {
	done    chan struct{}
	summary report.Summary
	err     error
}

// Done is closed once the batch has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Wait blocks until the batch finishes and returns its result.
func (t *Task) Wait() (report.Summary, error) {
	<-t.done
	return t.summary, t.err
}

// RunAll starts Run on a background goroutine so the caller stays responsive.
func (r *Runner) RunAll(ctx context.Context, inputsDir, logsDir string) (*Task, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	task := &Task{done: make(chan struct{})}
	go func() {
		defer close(task.done)
		defer r.running.Store(false)
		task.summary, task.err = r.run(ctx, inputsDir, logsDir)
	}()
	return task, nil
}

func (r *Runner) run(ctx context.Context, inputsDir, logsDir string) (report.Summary, error) {
	log := r.opts.Logger.With("component", "batch")
	summary := report.Summary{
		InputsDir:   inputsDir,
		LogsDir:     logsDir,
		SummaryPath: filepath.Join(logsDir, r.opts.SummaryFile),
		StartedAt:   r.opts.Now(),
	}
	defer func() {
		summary.Duration = r.opts.Now().Sub(summary.StartedAt)
		summary.DurationMS = summary.Duration.Milliseconds()
	}()

	sources, err := discovery.Sources(inputsDir, r.opts.SourceExt, r.opts.NumericPrefix)
	if err != nil {
		return summary, err
	}
	sources = filter.Select(sources, r.opts.Only, r.opts.Skip)
	if len(sources) == 0 {
		return summary, discovery.ErrNoSources
	}

	var ioErrs []error
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		ioErrs = append(ioErrs, fmt.Errorf("%w: create logs dir %q: %v", pipeline.ErrIO, logsDir, err))
	}

	log.Info("batch started", "inputs", len(sources), "dir", inputsDir)
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			ioErrs = append(ioErrs, err)
			break
		}

		started := r.opts.Now()
		rep, outcome, note := r.runOne(ctx, src)
		entry := report.Entry{Name: src.Name, Source: src.Path, Outcome: outcome}

		logPath := filepath.Join(logsDir, src.Name+".log")
		if err := writeLog(logPath, output.LogRecord{SourcePath: src.Path, Started: started, Report: rep, Outcome: outcome, Note: note}); err != nil {
			log.Warn("write log failed", "input", src.Name, "error", err)
			ioErrs = append(ioErrs, err)
		} else {
			entry.LogPath = logPath
		}

		summary.Add(entry)
		log.Info("input finished", "input", src.Name, "outcome", outcome)
		if r.opts.Progress != nil {
			r.opts.Progress(entry, i+1, len(sources))
		}
	}

	if err := writeSummary(summary.SummaryPath, summary.Entries); err != nil {
		ioErrs = append(ioErrs, err)
	}
	for _, err := range ioErrs {
		summary.Errors = append(summary.Errors, err.Error())
	}
	if len(ioErrs) > 0 {
		summary.ExitCode = 1
	}

	if r.opts.Recorder != nil {
		summary.Duration = r.opts.Now().Sub(summary.StartedAt)
		if id, err := r.opts.Recorder.RecordRun(ctx, summary); err != nil {
			log.Warn("record history failed", "error", err)
		} else {
			log.Debug("history recorded", "run", id)
		}
	}

	log.Info("batch finished", "passed", summary.Passed, "failed", summary.Failed, "io_errors", len(ioErrs))
	return summary, errors.Join(ioErrs...)
}

// runOne never panics; any fault inside the pipeline becomes
// runtime-exception so the batch moves on.
func (r *Runner) runOne(ctx context.Context, src discovery.Source) (rep *report.Report, outcome report.Outcome, note string) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("pipeline panicked", "input", src.Name, "panic", p)
			outcome = report.OutcomeRuntimeException
			note = fmt.Sprintf("pipeline panicked: %v", p)
		}
	}()

	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, report.OutcomeRuntimeException, fmt.Sprintf("read source: %v", err)
	}
	ws, err := r.opts.Workspaces.Acquire(data)
	if err != nil {
		return nil, report.OutcomeRuntimeException, fmt.Sprintf("acquire workspace: %v", err)
	}
	defer r.opts.Workspaces.Release(ws)

	rep, err = r.opts.Pipeline.Run(ctx, ws, pipeline.Request{
		Name:            src.Name,
		Source:          data,
		Mode:            pipeline.ModeAll,
		RunAfterCompile: true,
	})
	if err != nil {
		return rep, report.OutcomeRuntimeException, err.Error()
	}
	if rep == nil || !rep.Outcome.Valid() {
		return rep, report.OutcomeRuntimeException, "pipeline returned no outcome"
	}
	return rep, rep.Outcome, ""
}

func writeLog(path string, rec output.LogRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create log %q: %v", pipeline.ErrIO, path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close log %q: %v", pipeline.ErrIO, path, cerr)
		}
	}()
	if err := output.WriteLog(f, rec); err != nil {
		return fmt.Errorf("%w: write log %q: %v", pipeline.ErrIO, path, err)
	}
	return nil
}

// writeSummary replaces the summary file in one rename so readers never see
// a partial list.
func writeSummary(path string, entries []report.Entry) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*")
	if err != nil {
		return fmt.Errorf("%w: create summary: %v", pipeline.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if err := output.WriteSummary(tmp, entries); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write summary: %v", pipeline.ErrIO, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: chmod summary: %v", pipeline.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close summary: %v", pipeline.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: replace summary %q: %v", pipeline.ErrIO, path, err)
	}
	return nil
}
