package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bgricker/stagerun/internal/version"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the translator and the C toolchain can be found",
		Args:  cobra.NoArgs,
		RunE:  runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	var problems []error

	if a.translatorErr != nil {
		fmt.Fprintf(out, "✗ translator: %v\n", a.translatorErr)
		fmt.Fprintln(out, "    build the translator or set `translator` in .stagerun.yml")
		problems = append(problems, a.translatorErr)
	} else {
		fmt.Fprintf(out, "✓ translator: %s\n", a.translator)
	}

	info, err := version.DetectToolchain(cmd.Context(), a.runner, a.cfg.Toolchain)
	switch {
	case err == nil:
		fmt.Fprintf(out, "✓ toolchain: %s (%s)\n", info.Banner, nonEmpty(info.Path, a.cfg.Toolchain))
		if want := a.cfg.ToolchainVersion; want != "" {
			if version.CompareMajorMinor(want, info.Version) {
				fmt.Fprintf(out, "✓ toolchain version: %s matches %s\n", info.MajorMinor(), want)
			} else {
				fmt.Fprintf(out, "✗ toolchain version: found %s, configuration expects %s\n", nonEmpty(info.MajorMinor(), info.Version), want)
				problems = append(problems, fmt.Errorf("toolchain version %s does not match %s", info.Version, want))
			}
		}
	case version.Missing(err):
		fmt.Fprintf(out, "✗ toolchain: %s not found\n", a.cfg.Toolchain)
		fmt.Fprintln(out, "    install gcc (or another C compiler); native compilation will be skipped")
		problems = append(problems, err)
	default:
		fmt.Fprintf(out, "✗ toolchain: %v\n", err)
		problems = append(problems, err)
	}

	if len(problems) > 0 {
		return fmt.Errorf("doctor found %d problem(s): %w", len(problems), errors.Join(problems...))
	}
	return nil
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
