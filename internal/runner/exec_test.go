package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStreams(t *testing.T) {
	skipWindows(t)
	r := New(Options{})

	res, err := r.Run(context.Background(), Spec{
		Stage:      "probe",
		Executable: "sh",
		Args:       []string{"-c", "printf out; printf err >&2"},
	})
	if err != nil {
		t.Fatalf("runner Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", res.ExitCode)
	}
	if res.Stdout != "out" || res.Stderr != "err" {
		t.Fatalf("unexpected streams: stdout=%q stderr=%q", res.Stdout, res.Stderr)
	}
}

func TestRunNonZeroExitIsNotError(t *testing.T) {
	skipWindows(t)
	r := New(Options{})

	res, err := r.Run(context.Background(), Spec{Executable: "sh", Args: []string{"-c", "echo bad >&2; exit 3"}})
	if err != nil {
		t.Fatalf("non-zero exit returned error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit 3, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stderr) != "bad" {
		t.Fatalf("expected stderr 'bad', got %q", res.Stderr)
	}
}

func TestRunLargeOutputDoesNotDeadlock(t *testing.T) {
	skipWindows(t)
	r := New(Options{DefaultTimeout: 10 * time.Second})

	// Well beyond a pipe buffer on both streams.
	script := `i=0; while [ $i -lt 4000 ]; do echo "line $i"; echo "err $i" >&2; i=$((i+1)); done`
	res, err := r.Run(context.Background(), Spec{Executable: "sh", Args: []string{"-c", script}})
	if err != nil {
		t.Fatalf("runner Run: %v", err)
	}
	if got := strings.Count(res.Stdout, "\n"); got != 4000 {
		t.Fatalf("expected 4000 stdout lines, got %d", got)
	}
	if got := strings.Count(res.Stderr, "\n"); got != 4000 {
		t.Fatalf("expected 4000 stderr lines, got %d", got)
	}
}

func TestRunTimeout(t *testing.T) {
	skipWindows(t)
	r := New(Options{WaitDelay: 100 * time.Millisecond})

	start := time.Now()
	res, err := r.Run(context.Background(), Spec{
		Stage:      "execute",
		Executable: "sh",
		Args:       []string{"-c", "echo partial; exec sleep 5"},
		Timeout:    200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !TimedOut(err) || Missing(err) {
		t.Fatalf("classification mismatch for %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
	if res.ExitCode != -1 {
		t.Fatalf("expected exit -1 on timeout, got %d", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "partial" {
		t.Fatalf("expected partial output kept, got %q", res.Stdout)
	}
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "execute" {
		t.Fatalf("expected StageError for execute, got %#v", err)
	}
}

func TestRunExecutableNotFound(t *testing.T) {
	r := New(Options{})

	_, err := r.Run(context.Background(), Spec{Stage: "compile", Executable: "definitely-not-a-real-toolchain-xyz"})
	if !errors.Is(err, ErrExecutableNotFound) {
		t.Fatalf("expected ErrExecutableNotFound, got %v", err)
	}

	missingPath := filepath.Join(t.TempDir(), "absent")
	_, err = r.Run(context.Background(), Spec{Executable: missingPath})
	if !Missing(err) {
		t.Fatalf("expected missing classification for %q, got %v", missingPath, err)
	}
}

func TestRunWorkingDirectory(t *testing.T) {
	skipWindows(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("here"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}
	r := New(Options{})

	res, err := r.Run(context.Background(), Spec{Executable: "cat", Args: []string{"marker.txt"}, Dir: dir})
	if err != nil {
		t.Fatalf("runner Run: %v", err)
	}
	if res.Stdout != "here" {
		t.Fatalf("expected marker contents, got %q", res.Stdout)
	}
}

func TestRunInvalidUTF8Normalized(t *testing.T) {
	skipWindows(t)
	r := New(Options{})

	res, err := r.Run(context.Background(), Spec{Executable: "sh", Args: []string{"-c", `printf 'مرحبا\377'`}})
	if err != nil {
		t.Fatalf("runner Run: %v", err)
	}
	if res.Stdout != "مرحبا�" {
		t.Fatalf("unexpected normalized output %q", res.Stdout)
	}
}

func TestRunEnvOverlay(t *testing.T) {
	skipWindows(t)
	t.Setenv("BASE", "1")
	r := New(Options{})

	res, err := r.Run(context.Background(), Spec{
		Executable: "sh",
		Args:       []string{"-c", `printf "$BASE-$EXTRA"`},
		Env:        []string{"EXTRA=2"},
	})
	if err != nil {
		t.Fatalf("runner Run: %v", err)
	}
	if res.Stdout != "1-2" {
		t.Fatalf("expected merged env, got %q", res.Stdout)
	}
}

func TestRunRelativeExecutableIgnoresStageDir(t *testing.T) {
	skipWindows(t)
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "tool"), []byte("#!/bin/sh\nprintf ran\n"), 0o755); err != nil {
		t.Fatalf("write tool: %v", err)
	}
	t.Chdir(bin)

	r := New(Options{})
	res, err := r.Run(context.Background(), Spec{Executable: "./tool", Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("relative executable: %v", err)
	}
	if res.Stdout != "ran" {
		t.Fatalf("unexpected stdout %q", res.Stdout)
	}
}

func skipWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("runner tests require a POSIX shell")
	}
}
