package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bgricker/stagerun/internal/discovery"
	"github.com/bgricker/stagerun/internal/filter"
	"github.com/bgricker/stagerun/internal/pipeline"
	"github.com/bgricker/stagerun/internal/report"
	"github.com/bgricker/stagerun/internal/runner"
	"github.com/bgricker/stagerun/internal/workspace"
)

// The fake translator rejects sources containing FAIL and otherwise copies the
// source into every artifact; the fake toolchain turns the C file into the
// binary, so each source is a shell script that becomes its own program.
const (
	translatorScript = `if grep -q FAIL "$1"; then echo "syntax error near FAIL" >&2; exit 1; fi
base="${1%.arabic}"
cp "$1" "$base.c"
echo asm > "$base.asm"
echo ir > "${base}_intermediate.txt"`
	toolchainScript = `cp "$1" "$3" && chmod +x "$3"`
)

type env struct {
	inputs string
	logs   string
	work   string
	orch   *pipeline.Orchestrator
	mgr    *workspace.Manager
}

func newEnv(t *testing.T) env {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake stages are POSIX shell scripts")
	}
	dir := t.TempDir()
	e := env{
		inputs: filepath.Join(dir, "Examples"),
		logs:   filepath.Join(dir, "test_logs"),
		work:   filepath.Join(dir, "work"),
	}
	require.NoError(t, os.MkdirAll(e.inputs, 0o755))
	e.mgr = workspace.NewManager(workspace.Options{Root: e.work})
	e.orch = pipeline.New(pipeline.Options{
		Translator: script(t, dir, "translator", translatorScript),
		Toolchain:  script(t, dir, "cc", toolchainScript),
		Timeouts:   pipeline.Timeouts{Translate: 5 * time.Second, Compile: 5 * time.Second, Execute: 5 * time.Second},
		Runner:     runner.New(runner.Options{WaitDelay: 200 * time.Millisecond}),
		Workspaces: e.mgr,
	})
	return e
}

func (e env) runner(mutate ...func(*Options)) *Runner {
	opts := Options{Pipeline: e.orch, Workspaces: e.mgr, NumericPrefix: true}
	for _, m := range mutate {
		m(&opts)
	}
	return New(opts)
}

func (e env) input(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.inputs, name+".arabic"), []byte("#!/bin/sh\n"+body+"\n"), 0o644))
}

func script(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestRunOneFailingInput(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_hello", "printf X")
	e.input(t, "02_broken", "# FAIL")
	e.input(t, "03_exit", "exit 4")
	e.input(t, "04_math", "echo 42")
	e.input(t, "notes", "printf ignored")

	summary, err := e.runner().Run(context.Background(), e.inputs, e.logs)
	require.NoError(t, err)

	lines := readLines(t, filepath.Join(e.logs, DefaultSummaryFile))
	assert.Equal(t, []string{
		"01_hello: ok",
		"02_broken: compile-source-failed",
		"03_exit: runtime-failed",
		"04_math: ok",
	}, lines)

	for _, name := range []string{"01_hello", "02_broken", "03_exit", "04_math"} {
		logLines := readLines(t, filepath.Join(e.logs, name+".log"))
		assert.Equal(t, "Source: "+filepath.Join(e.inputs, name+".arabic"), logLines[0])
		assert.True(t, strings.HasPrefix(logLines[len(logLines)-1], "Result: "), name)
	}
	broken, err := os.ReadFile(filepath.Join(e.logs, "02_broken.log"))
	require.NoError(t, err)
	assert.Contains(t, string(broken), "[translate] stderr: syntax error near FAIL")
	assert.Contains(t, string(broken), "Result: compile-source-failed\n")

	assert.Equal(t, 2, summary.Passed)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 1, summary.ExitCode)
	assert.Empty(t, summary.Errors)
	assert.Equal(t, filepath.Join(e.logs, "02_broken.log"), summary.Entries[1].LogPath)

	residue, err := os.ReadDir(e.work)
	require.NoError(t, err)
	assert.Empty(t, residue, "workspaces must be released")
}

func TestRunFiltersAndProgress(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_hello", "printf X")
	e.input(t, "02_loop", "printf Y")
	e.input(t, "03_skip_me", "printf Z")

	only, err := filter.Compile([]string{"/^0[1-3]_/"})
	require.NoError(t, err)
	skip, err := filter.Compile([]string{"skip"})
	require.NoError(t, err)

	var seen []string
	r := e.runner(func(o *Options) {
		o.Only, o.Skip = only, skip
		o.Progress = func(entry report.Entry, index, total int) {
			assert.Equal(t, 2, total)
			seen = append(seen, entry.Name)
		}
	})

	summary, err := r.Run(context.Background(), e.inputs, e.logs)
	require.NoError(t, err)
	assert.Equal(t, []string{"01_hello", "02_loop"}, seen)
	assert.Len(t, summary.Entries, 2)
	assert.NoFileExists(t, filepath.Join(e.logs, "03_skip_me.log"))
}

func TestRunNoInputs(t *testing.T) {
	e := newEnv(t)
	_, err := e.runner().Run(context.Background(), e.inputs, e.logs)
	assert.ErrorIs(t, err, discovery.ErrNoSources)
}

type panicPipeline struct{ on string }

func (p panicPipeline) Run(ctx context.Context, ws *workspace.Workspace, req pipeline.Request) (*report.Report, error) {
	if req.Name == p.on {
		panic("translator wrapper crashed")
	}
	return &report.Report{Source: req.Name, Outcome: report.OutcomeOK, State: report.StateDone}, nil
}

func TestRunRecoversPanics(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_a", "true")
	e.input(t, "02_b", "true")
	e.input(t, "03_c", "true")

	r := e.runner(func(o *Options) { o.Pipeline = panicPipeline{on: "02_b"} })
	summary, err := r.Run(context.Background(), e.inputs, e.logs)
	require.NoError(t, err)

	require.Len(t, summary.Entries, 3)
	assert.Equal(t, report.OutcomeRuntimeException, summary.Entries[1].Outcome)
	assert.Equal(t, report.OutcomeOK, summary.Entries[2].Outcome)

	data, err := os.ReadFile(filepath.Join(e.logs, "02_b.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline panicked: translator wrapper crashed")
	assert.Regexp(t, `(?m)^Started: \d{4}-\d{2}-\d{2}T`, string(data))
	assert.True(t, strings.HasSuffix(string(data), "Result: runtime-exception\n"))

	residue, err := os.ReadDir(e.work)
	require.NoError(t, err)
	assert.Empty(t, residue)
}

func TestRunLogWriteFailureDoesNotStopBatch(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_a", "true")
	e.input(t, "02_b", "true")
	require.NoError(t, os.MkdirAll(filepath.Join(e.logs, "01_a.log"), 0o755))

	summary, err := e.runner().Run(context.Background(), e.inputs, e.logs)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrIO)

	require.Len(t, summary.Entries, 2)
	assert.Empty(t, summary.Entries[0].LogPath)
	assert.FileExists(t, filepath.Join(e.logs, "02_b.log"))
	assert.Len(t, summary.Errors, 1)
	assert.Equal(t, 1, summary.ExitCode)
	assert.Equal(t, []string{"01_a: ok", "02_b: ok"}, readLines(t, summary.SummaryPath))
}

type blockingPipeline struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingPipeline) Run(ctx context.Context, ws *workspace.Workspace, req pipeline.Request) (*report.Report, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return &report.Report{Source: req.Name, Outcome: report.OutcomeOK, State: report.StateDone}, nil
}

func TestRunAllIsAsyncAndExclusive(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_a", "true")

	bp := &blockingPipeline{entered: make(chan struct{}), release: make(chan struct{})}
	r := e.runner(func(o *Options) { o.Pipeline = bp })

	task, err := r.RunAll(context.Background(), e.inputs, e.logs)
	require.NoError(t, err)

	<-bp.entered
	assert.True(t, r.Running())
	select {
	case <-task.Done():
		t.Fatal("task finished before the pipeline was released")
	default:
	}

	_, err = r.RunAll(context.Background(), e.inputs, e.logs)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	_, err = r.Run(context.Background(), e.inputs, e.logs)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(bp.release)
	summary, err := task.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Passed)
	assert.False(t, r.Running())
}

type fakeRecorder struct {
	got []report.Summary
	err error
}

func (f *fakeRecorder) RecordRun(ctx context.Context, s report.Summary) (string, error) {
	f.got = append(f.got, s)
	return "run-1", f.err
}

func TestRunRecordsHistory(t *testing.T) {
	e := newEnv(t)
	e.input(t, "01_a", "true")

	rec := &fakeRecorder{}
	_, err := e.runner(func(o *Options) { o.Recorder = rec }).Run(context.Background(), e.inputs, e.logs)
	require.NoError(t, err)
	require.Len(t, rec.got, 1)
	assert.Equal(t, e.inputs, rec.got[0].InputsDir)
	assert.Len(t, rec.got[0].Entries, 1)

	rec.err = errors.New("database is locked")
	_, err = e.runner(func(o *Options) { o.Recorder = rec }).Run(context.Background(), e.inputs, e.logs)
	assert.NoError(t, err, "history failures must not fail the batch")
}
