package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bgricker/stagerun/internal/config"
	"github.com/bgricker/stagerun/internal/pipeline"
)

const watchDebounce = 200 * time.Millisecond

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <file>",
		Short: "Rerun the pipeline every time a source file changes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	}
	addPipelineFlags(cmd)
	cmd.Flags().Int("max-runs", 0, "stop after this many runs (0 keeps watching)")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
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
	maxRuns, err := cmd.Flags().GetInt("max-runs")
	if err != nil {
		return err
	}

	target, err := filepath.Abs(a.path(args[0]))
	if err != nil {
		return err
	}
	if _, err := os.Stat(target); err != nil {
		return fmt.Errorf("watch %q: %w", args[0], err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	// Editors often replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %q: %w", filepath.Dir(target), err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	trigger := make(chan struct{}, 1)

	g.Go(func() error {
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				debounce = time.After(watchDebounce)
			case <-debounce:
				debounce = nil
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				a.log.Warn("watch error", "error", err)
			}
		}
	})

	g.Go(func() error {
		orch := a.orchestrator(a.workspaces())
		runs := 0
		for {
			data, err := os.ReadFile(target)
			if err != nil {
				a.log.Warn("read source", "path", target, "error", err)
			} else {
				rep, err := orch.Execute(ctx, pipeline.Request{
					Name:            args[0],
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
			}

			runs++
			if maxRuns > 0 && runs >= maxRuns {
				cancel()
				return nil
			}
			if fmtName != config.FormatJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "--- watching %s (Ctrl+C to stop)\n", args[0])
			}

			select {
			case <-ctx.Done():
				return nil
			case <-trigger:
			}
		}
	})

	return g.Wait()
}
