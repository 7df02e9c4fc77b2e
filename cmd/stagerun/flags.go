package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bgricker/stagerun/internal/config"
)

func gatherFlags(cmd *cobra.Command) (config.FlagValues, error) {
	flags := cmd.Flags()
	var values config.FlagValues
	var err error

	stringFlags := []struct {
		name string
		dst  *config.StringFlag
	}{
		{"translator", &values.Translator},
		{"toolchain", &values.Toolchain},
		{"mode", &values.Mode},
		{"examples-dir", &values.ExamplesDir},
		{"logs-dir", &values.LogsDir},
		{"workspace-root", &values.WorkspaceRoot},
		{"format", &values.Format},
	}
	for _, f := range stringFlags {
		if *f.dst, err = stringFlag(flags, f.name); err != nil {
			return values, err
		}
	}

	boolFlags := []struct {
		name string
		dst  *config.BoolFlag
	}{
		{"run", &values.RunAfterCompile},
		{"debug-lexer", &values.DebugLexer},
		{"verbose", &values.Verbose},
		{"history", &values.History},
	}
	for _, f := range boolFlags {
		if *f.dst, err = boolFlag(flags, f.name); err != nil {
			return values, err
		}
	}

	if flags.Changed("only") {
		v, err := flags.GetStringArray("only")
		if err != nil {
			return values, fmt.Errorf("parse --only: %w", err)
		}
		values.Only = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("skip") {
		v, err := flags.GetStringArray("skip")
		if err != nil {
			return values, fmt.Errorf("parse --skip: %w", err)
		}
		values.Skip = config.SliceFlag{Values: append([]string{}, v...)}
	}

	if flags.Changed("execute-timeout") {
		v, err := flags.GetInt("execute-timeout")
		if err != nil {
			return values, fmt.Errorf("parse --execute-timeout: %w", err)
		}
		values.ExecuteTimeout = config.IntFlag{Value: v, Set: true}
	}

	return values, nil
}

func stringFlag(flags *pflag.FlagSet, name string) (config.StringFlag, error) {
	if !flags.Changed(name) {
		return config.StringFlag{}, nil
	}
	v, err := flags.GetString(name)
	if err != nil {
		return config.StringFlag{}, fmt.Errorf("parse --%s: %w", name, err)
	}
	return config.StringFlag{Value: v, Set: true}, nil
}

func boolFlag(flags *pflag.FlagSet, name string) (config.BoolFlag, error) {
	if !flags.Changed(name) {
		return config.BoolFlag{}, nil
	}
	v, err := flags.GetBool(name)
	if err != nil {
		return config.BoolFlag{}, fmt.Errorf("parse --%s: %w", name, err)
	}
	return config.BoolFlag{Value: v, Set: true}, nil
}
