package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgricker/stagerun/internal/batch"
	"github.com/bgricker/stagerun/internal/config"
	"github.com/bgricker/stagerun/internal/filter"
	"github.com/bgricker/stagerun/internal/history"
	"github.com/bgricker/stagerun/internal/output"
	"github.com/bgricker/stagerun/internal/report"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run every example through the pipeline and write logs plus a summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd)
		},
	}
	flags := cmd.Flags()
	flags.String("examples-dir", "", "directory holding the example sources")
	flags.String("logs-dir", "", "directory receiving per-example logs and the summary")
	flags.StringArray("only", nil, "include only matching examples (substring or /regex/)")
	flags.StringArray("skip", nil, "exclude matching examples (substring or /regex/)")
	return cmd
}

func runBatch(cmd *cobra.Command) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	fmtName, err := format(a.cfg)
	if err != nil {
		return err
	}

	only, err := filter.Compile(a.cfg.Only)
	if err != nil {
		return err
	}
	skip, err := filter.Compile(a.cfg.Skip)
	if err != nil {
		return err
	}

	var (
		store    *history.Store
		recorder batch.Recorder
	)
	if a.cfg.History.Enabled {
		store, err = history.Open(a.path(a.cfg.History.Path))
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer store.Close()
		recorder = store
	}

	pretty := output.NewPretty(cmd.OutOrStdout())
	var progress batch.ProgressFunc
	if fmtName == config.FormatPretty {
		progress = func(e report.Entry, index, total int) {
			_ = pretty.RenderEntry(e, index, total)
			if store == nil {
				return
			}
			// The current run is recorded only after the last input.
			previous, ok, err := store.LastOutcome(cmd.Context(), e.Name)
			if err != nil {
				a.log.Warn("read previous outcome", "input", e.Name, "error", err)
				return
			}
			if ok && previous != e.Outcome {
				_ = pretty.RenderChange(e, previous)
			}
		}
	}

	ws := a.workspaces()
	runner := batch.New(batch.Options{
		Pipeline:      a.orchestrator(ws),
		Workspaces:    ws,
		SourceExt:     a.cfg.SourceExt,
		NumericPrefix: a.cfg.RequireNumericPrefix,
		Only:          only,
		Skip:          skip,
		SummaryFile:   a.cfg.SummaryFile,
		Progress:      progress,
		Recorder:      recorder,
		Logger:        a.log,
	})

	task, err := runner.RunAll(cmd.Context(), a.path(a.cfg.ExamplesDir), a.path(a.cfg.LogsDir))
	if err != nil {
		return err
	}
	summary, runErr := task.Wait()
	if runErr != nil && len(summary.Entries) == 0 {
		return runErr
	}

	switch fmtName {
	case config.FormatPretty:
		if err := pretty.RenderSummary(summary); err != nil {
			return err
		}
	case config.FormatJSON:
		if err := a.renderJSON(cmd, output.Document{Summary: &summary}); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("batch finished with write errors: %w", runErr)
	}
	if summary.ExitCode != 0 {
		return fmt.Errorf("%d of %d examples failed", summary.Failed, len(summary.Entries))
	}
	return nil
}
