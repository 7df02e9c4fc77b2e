package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/stagerun/internal/config"
	"github.com/bgricker/stagerun/internal/history"
	"github.com/bgricker/stagerun/internal/output"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded batch runs, or the outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	cmd.Flags().Int("limit", 20, "number of runs to list (0 for all)")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	path := cfg.History.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	store, err := history.Open(path)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer store.Close()

	asJSON := strings.ToLower(cfg.Format) == config.FormatJSON

	if len(args) == 1 {
		entries, err := store.Entries(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if asJSON {
			return output.NewJSON(cmd.OutOrStdout()).Render(output.Document{Entries: entries})
		}
		return output.WriteSummary(cmd.OutOrStdout(), entries)
	}

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if asJSON {
		return output.NewJSON(cmd.OutOrStdout()).Render(output.Document{Runs: runs})
	}
	return output.NewPretty(cmd.OutOrStdout()).RenderRuns(runs)
}
