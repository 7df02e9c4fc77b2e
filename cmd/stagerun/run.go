package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bgricker/stagerun/internal/config"
	"github.com/bgricker/stagerun/internal/discovery"
	"github.com/bgricker/stagerun/internal/output"
	"github.com/bgricker/stagerun/internal/pipeline"
	"github.com/bgricker/stagerun/internal/report"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Translate one source file and optionally compile and run it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSingle,
	}
	addPipelineFlags(cmd)
	return cmd
}

func addPipelineFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("mode", "", "translator output (asm|c|ir|all)")
	flags.Bool("run", true, "compile the generated C and run the binary")
	flags.Bool("debug-lexer", false, "ask the translator to dump its lexer state")
}

func runSingle(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	fmtName, err := format(a.cfg)
	if err != nil {
		return err
	}
	mode, err := a.mode()
	if err != nil {
		return err
	}

	sources, err := discovery.Files(a.root, args)
	if err != nil {
		return err
	}
	src := sources[0]
	data, err := os.ReadFile(a.path(src.Path))
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	orch := a.orchestrator(a.workspaces())
	rep, err := orch.Execute(cmd.Context(), pipeline.Request{
		Name:            src.Path,
		Source:          data,
		Mode:            mode,
		RunAfterCompile: a.cfg.RunAfterCompile,
	})
	if err != nil {
		return err
	}

	if err := renderReport(cmd, a, fmtName, rep); err != nil {
		return err
	}
	if rep.Outcome != report.OutcomeOK {
		return fmt.Errorf("pipeline finished with outcome %s", rep.Outcome)
	}
	return nil
}

func renderReport(cmd *cobra.Command, a *app, fmtName string, rep *report.Report) error {
	switch fmtName {
	case config.FormatJSON:
		return a.renderJSON(cmd, output.Document{Report: rep})
	default:
		return output.NewPretty(cmd.OutOrStdout()).RenderReport(rep)
	}
}
