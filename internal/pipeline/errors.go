package pipeline

import (
	"errors"

	"github.com/bgricker/stagerun/internal/runner"
)

var (
	// ErrExecutableNotFound: the translator, toolchain or produced binary could not be launched.
	ErrExecutableNotFound = runner.ErrExecutableNotFound
	// ErrTimeout: a stage exceeded its allotted time.
	ErrTimeout = runner.ErrTimeout
	// ErrNonZeroExit: a process ran but reported failure.
	ErrNonZeroExit = errors.New("non-zero exit")
	// ErrArtifactMissing: an expected output file is absent after a successful stage.
	ErrArtifactMissing = errors.New("artifact missing")
	// ErrIO: a workspace, log or summary file operation failed.
	ErrIO = errors.New("io failure")
	// ErrBusy: a run was requested while another is in flight on the same orchestrator.
	ErrBusy = errors.New("pipeline already running")
)
