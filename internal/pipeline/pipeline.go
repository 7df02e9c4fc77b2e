// Package pipeline sequences translation, native compilation and execution
// of one source unit and records every stage in a report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bgricker/stagerun/internal/report"
	"github.com/bgricker/stagerun/internal/runner"
	"github.com/bgricker/stagerun/internal/workspace"
)

// Stage names as they appear in reports and logs.
const (
	StageTranslate = "translate"
	StageCompile   = "compile"
	StageExecute   = "execute"
)

// DebugLexerFlag is appended to the translator invocation when lexer
// debugging is enabled.
const DebugLexerFlag = "--debug-lexer"

// StageRunner launches one external process.
type StageRunner interface {
	Run(ctx context.Context, spec runner.Spec) (runner.Result, error)
}

// Timeouts bound each stage.
type Timeouts struct {
	Translate time.Duration
	Compile   time.Duration
	Execute   time.Duration
}

// DefaultTimeouts mirrors the limits the stages historically ran with.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Translate: 10 * time.Second,
		Compile:   15 * time.Second,
		Execute:   20 * time.Second,
	}
}

// Options configure an Orchestrator. Translator and Toolchain are resolved
// once by the caller.
type Options struct {
	Translator string
	Toolchain  string
	DebugLexer bool
	// ProgramEnv holds KEY=VALUE pairs added to the produced program's
	// environment.
	ProgramEnv []string
	Timeouts   Timeouts
	Runner     StageRunner
	Workspaces *workspace.Manager
	Now        func() time.Time
	Logger     *slog.Logger
}

// Request is one unit of source to push through the pipeline.
type Request struct {
	Name            string
	Source          []byte
	Mode            Mode
	RunAfterCompile bool
}

// Orchestrator runs pipelines one at a time.
type Orchestrator struct {
	opts  Options
	busy  atomic.Bool
	state atomic.Value
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.Toolchain == "" {
		opts.Toolchain = "cc"
	}
	defaults := DefaultTimeouts()
	if opts.Timeouts.Translate <= 0 {
		opts.Timeouts.Translate = defaults.Translate
	}
	if opts.Timeouts.Compile <= 0 {
		opts.Timeouts.Compile = defaults.Compile
	}
	if opts.Timeouts.Execute <= 0 {
		opts.Timeouts.Execute = defaults.Execute
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Runner == nil {
		opts.Runner = runner.New(runner.Options{Logger: opts.Logger})
	}
	if opts.Workspaces == nil {
		opts.Workspaces = workspace.NewManager(workspace.Options{Logger: opts.Logger})
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{opts: opts}
	o.state.Store(report.StateIdle)
	return o
}

// State returns the state of the current or most recent run.
func (o *Orchestrator) State() report.State {
	return o.state.Load().(report.State)
}

// Busy reports whether a run is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// Execute acquires a workspace for req, runs the pipeline in it and releases
// it on every exit path.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*report.Report, error) {
	ws, err := o.opts.Workspaces.Acquire(req.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer o.opts.Workspaces.Release(ws)
	return o.Run(ctx, ws, req)
}

// Run drives req through the stages inside ws, whose source file must
// already hold req.Source. Stage failures are recorded in the report; the
// returned error is reserved for ErrBusy.
func (o *Orchestrator) Run(ctx context.Context, ws *workspace.Workspace, req Request) (*report.Report, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	name := req.Name
	if name == "" {
		name = filepath.Base(ws.Source())
	}
	e := &execution{
		o:   o,
		ws:  ws,
		req: req,
		log: o.opts.Logger.With("component", "pipeline", "source", name),
		rep: &report.Report{
			Source:    name,
			Mode:      req.Mode.String(),
			StartedAt: o.opts.Now(),
			State:     report.StateIdle,
		},
	}
	defer func() {
		if !e.rep.State.Terminal() {
			e.rep.State = report.StateFailed
			e.rep.Outcome = report.OutcomeRuntimeException
			o.state.Store(report.StateFailed)
		}
		e.rep.Duration = o.opts.Now().Sub(e.rep.StartedAt)
		e.rep.DurationMS = e.rep.Duration.Milliseconds()
	}()

	e.run(ctx)
	return e.rep, nil
}

// execution carries the state of one run; it is never shared.
type execution struct {
	o     *Orchestrator
	ws    *workspace.Workspace
	req   Request
	log   *slog.Logger
	rep   *report.Report
	cFile string
}

func (e *execution) run(ctx context.Context) {
	if !e.translate(ctx) {
		return
	}
	if !e.discover() {
		return
	}
	if !e.req.RunAfterCompile || e.cFile == "" {
		e.done(report.OutcomeOK, "")
		return
	}
	binary, ok := e.compile(ctx)
	if !ok {
		return
	}
	e.execute(ctx, binary)
}

func (e *execution) translate(ctx context.Context) bool {
	e.enter(report.StateTranslating)

	args := []string{e.ws.Source(), e.req.Mode.Flag()}
	if e.o.opts.DebugLexer {
		args = append(args, DebugLexerFlag)
	}
	spec := runner.Spec{
		Stage:      StageTranslate,
		Executable: e.o.opts.Translator,
		Args:       args,
		Dir:        e.ws.Dir(),
		Timeout:    e.o.opts.Timeouts.Translate,
	}
	res, err := e.o.opts.Runner.Run(ctx, spec)
	e.record(spec, res, err)

	switch {
	case err != nil:
		if res.Stdout != "" {
			e.rep.Add(report.LabelTranslationOutput, res.Stdout)
		}
		e.rep.Add(report.LabelTranslationErrors, res.Stderr)
		e.fail(StageTranslate, report.OutcomeCompileSourceFailed, err, translatorMessage(e.o.opts.Translator, spec.Timeout, err))
		return false
	case res.ExitCode != 0:
		if res.Stdout != "" {
			e.rep.Add(report.LabelTranslationOutput, res.Stdout)
		}
		e.rep.Add(report.LabelTranslationErrors, res.Stderr)
		e.fail(StageTranslate, report.OutcomeCompileSourceFailed,
			fmt.Errorf("%w: translator exited with status %d", ErrNonZeroExit, res.ExitCode),
			fmt.Sprintf("translator rejected the source (exit status %d)", res.ExitCode))
		return false
	}

	e.rep.Add(report.LabelTranslationOutput, res.Stdout)
	if res.Stderr != "" {
		e.rep.Add(report.LabelTranslationErrors, res.Stderr)
	}
	return true
}

// discover probes the artifacts the mode promises and appends their content.
func (e *execution) discover() bool {
	var missing []string
	for _, a := range e.req.Mode.Artifacts() {
		path := e.ws.Artifact(a.Suffix)
		e.ws.Track(path)
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				e.log.Warn("read artifact", "path", path, "error", err)
			}
			missing = append(missing, filepath.Base(path))
			continue
		}
		e.rep.Add(report.GeneratedCodeLabel(filepath.Base(path)), string(data))
		if a.C {
			e.cFile = path
		}
	}

	if e.req.Mode.ExpectsC() && e.cFile == "" {
		e.fail(StageTranslate, report.OutcomeCNotGenerated,
			fmt.Errorf("%w: %s", ErrArtifactMissing, filepath.Base(e.ws.Artifact(artifactC.Suffix))),
			"translator reported success but did not generate a C file")
		return false
	}
	if len(missing) > 0 {
		e.rep.Add(report.LabelMissingArtifacts, strings.Join(missing, "\n"))
		e.rep.Degraded = true
	}
	return true
}

func (e *execution) compile(ctx context.Context) (string, bool) {
	e.enter(report.StateNativeCompiling)

	binary := e.ws.Binary()
	e.ws.Track(binary)
	spec := runner.Spec{
		Stage:      StageCompile,
		Executable: e.o.opts.Toolchain,
		Args:       []string{e.cFile, "-o", binary},
		Dir:        e.ws.Dir(),
		Timeout:    e.o.opts.Timeouts.Compile,
	}
	res, err := e.o.opts.Runner.Run(ctx, spec)
	e.record(spec, res, err)

	if res.Stdout != "" {
		e.rep.Add(report.LabelToolchainOutput, res.Stdout)
	}
	switch {
	case err != nil && runner.Missing(err):
		e.fail(StageCompile, report.OutcomeSkippedNoGCC, err,
			fmt.Sprintf("C toolchain %q not found; install gcc (or another C compiler) and make sure it is on PATH", e.o.opts.Toolchain))
		return "", false
	case err != nil:
		if res.Stderr != "" {
			e.rep.Add(report.LabelToolchainErrors, res.Stderr)
		}
		msg := fmt.Sprintf("C toolchain failed: %v", err)
		if runner.TimedOut(err) {
			msg = fmt.Sprintf("C toolchain did not finish within %s", spec.Timeout)
		}
		e.fail(StageCompile, report.OutcomeGCCFailed, err, msg)
		return "", false
	case res.ExitCode != 0:
		e.rep.Add(report.LabelToolchainErrors, res.Stderr)
		e.fail(StageCompile, report.OutcomeGCCFailed,
			fmt.Errorf("%w: toolchain exited with status %d", ErrNonZeroExit, res.ExitCode),
			fmt.Sprintf("C toolchain reported compile errors (exit status %d)", res.ExitCode))
		return "", false
	}

	if res.Stderr != "" {
		e.rep.Add(report.LabelToolchainErrors, res.Stderr)
	}
	if _, err := os.Stat(binary); err != nil {
		e.fail(StageCompile, report.OutcomeGCCFailed,
			fmt.Errorf("%w: %s", ErrArtifactMissing, filepath.Base(binary)),
			"C toolchain reported success but produced no binary")
		return "", false
	}
	return binary, true
}

func (e *execution) execute(ctx context.Context, binary string) {
	e.enter(report.StateExecuting)

	spec := runner.Spec{
		Stage:      StageExecute,
		Executable: binary,
		Dir:        e.ws.Dir(),
		Env:        e.o.opts.ProgramEnv,
		Timeout:    e.o.opts.Timeouts.Execute,
	}
	res, err := e.o.opts.Runner.Run(ctx, spec)
	e.record(spec, res, err)

	e.rep.Add(report.LabelProgramOutput, res.Stdout)
	if res.Stderr != "" {
		e.rep.Add(report.LabelProgramErrors, res.Stderr)
	}

	switch {
	case err != nil:
		msg := fmt.Sprintf("program could not be run: %v", err)
		if runner.TimedOut(err) {
			msg = fmt.Sprintf("program did not finish within %s", spec.Timeout)
		}
		e.fail(StageExecute, report.OutcomeRuntimeException, err, msg)
	case res.ExitCode != 0:
		// The program's exit status is its own data, not a pipeline fault.
		e.rep.Degraded = true
		e.done(report.OutcomeRuntimeFailed, fmt.Sprintf("program exited with status %d", res.ExitCode))
	default:
		e.done(report.OutcomeOK, "")
	}
}

func (e *execution) enter(state report.State) {
	e.rep.State = state
	e.o.state.Store(state)
	e.log.Debug("stage", "state", state)
}

func (e *execution) done(outcome report.Outcome, msg string) {
	e.rep.Outcome = outcome
	e.rep.Message = msg
	e.enter(report.StateDone)
	e.log.Info("pipeline finished", "outcome", outcome, "degraded", e.rep.Degraded)
}

func (e *execution) fail(stage string, outcome report.Outcome, err error, msg string) {
	e.rep.FailedStage = stage
	e.rep.Outcome = outcome
	e.rep.Message = msg
	e.rep.Err = err
	e.rep.Add(report.LabelFailure, fmt.Sprintf("%s stage failed: %s", stage, msg))
	e.enter(report.StateFailed)
	e.log.Info("pipeline failed", "stage", stage, "outcome", outcome, "error", err)
}

func (e *execution) record(spec runner.Spec, res runner.Result, err error) {
	rec := report.StageRecord{
		Stage:      spec.Stage,
		Executable: spec.Executable,
		Args:       spec.Args,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		Duration:   res.Duration,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	e.rep.Record(rec)
}

func translatorMessage(translator string, timeout time.Duration, err error) string {
	switch {
	case runner.Missing(err):
		return fmt.Sprintf("translator %q not found; build the translator or set `translator` in the configuration", translator)
	case runner.TimedOut(err):
		return fmt.Sprintf("translator did not finish within %s", timeout)
	default:
		return fmt.Sprintf("translator could not be run: %v", err)
	}
}
