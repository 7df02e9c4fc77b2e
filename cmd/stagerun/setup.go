package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bgricker/stagerun/internal/config"
	"github.com/bgricker/stagerun/internal/output"
	"github.com/bgricker/stagerun/internal/pipeline"
	"github.com/bgricker/stagerun/internal/runner"
	"github.com/bgricker/stagerun/internal/workspace"
)

// app bundles the resolved configuration shared by every command.
type app struct {
	cfg        config.Config
	root       string
	log        *slog.Logger
	translator string
	// translatorErr is kept so the pipeline, not startup, reports a missing
	// translator with its remediation.
	translatorErr error
	runner        *runner.Runner
}

func loadApp(cmd *cobra.Command) (*app, error) {
	cfg, root, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	translator, terr := config.ResolveTranslator(cfg, root)
	if terr != nil {
		logger.Warn("translator not resolved", "error", terr)
	} else {
		logger.Debug("translator resolved", "path", translator)
	}

	return &app{
		cfg:           cfg,
		root:          root,
		log:           logger,
		translator:    translator,
		translatorErr: terr,
		runner:        runner.New(runner.Options{Logger: logger}),
	}, nil
}

func loadConfig(cmd *cobra.Command) (config.Config, string, error) {
	root, err := os.Getwd()
	if err != nil {
		return config.Config{}, "", fmt.Errorf("determine working directory: %w", err)
	}

	var cfg config.Config
	explicit, _ := cmd.Flags().GetString("config")
	if explicit != "" {
		cfg, err = config.LoadFile(explicit)
	} else {
		cfg, err = config.Load(root)
	}
	if err != nil {
		return config.Config{}, "", err
	}

	flags, err := gatherFlags(cmd)
	if err != nil {
		return config.Config{}, "", err
	}
	config.ApplyFlags(&cfg, flags)

	return cfg, root, nil
}

// path resolves p against the working directory.
func (a *app) path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(a.root, p)
}

func (a *app) workspaces() *workspace.Manager {
	return workspace.NewManager(workspace.Options{
		Root:      a.path(a.cfg.WorkspaceRoot),
		SourceExt: a.cfg.SourceExt,
		Logger:    a.log,
	})
}

func (a *app) orchestrator(ws *workspace.Manager) *pipeline.Orchestrator {
	return pipeline.New(pipeline.Options{
		Translator: a.translator,
		Toolchain:  a.cfg.Toolchain,
		DebugLexer: a.cfg.DebugLexer,
		ProgramEnv: a.cfg.ProgramEnv,
		Timeouts: pipeline.Timeouts{
			Translate: a.cfg.Timeouts.Translate(),
			Compile:   a.cfg.Timeouts.Compile(),
			Execute:   a.cfg.Timeouts.Execute(),
		},
		Runner:     a.runner,
		Workspaces: ws,
		Logger:     a.log,
	})
}

func (a *app) mode() (pipeline.Mode, error) {
	return pipeline.ParseMode(a.cfg.Mode)
}

func (a *app) renderJSON(cmd *cobra.Command, doc output.Document) error {
	doc.Translator = a.translator
	doc.Toolchain = a.cfg.Toolchain
	if a.translatorErr != nil {
		doc.Warnings = append(doc.Warnings, a.translatorErr.Error())
	}
	return output.NewJSON(cmd.OutOrStdout()).Render(doc)
}

func format(cfg config.Config) (string, error) {
	switch f := strings.ToLower(cfg.Format); f {
	case config.FormatPretty, config.FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q", cfg.Format)
	}
}
