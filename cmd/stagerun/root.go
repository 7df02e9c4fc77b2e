package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stagerun",
		Short:         "Stagerun translates, compiles and runs source files through an external toolchain",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runTests, err := cmd.Flags().GetBool("run-tests")
			if err != nil {
				return err
			}
			if !runTests {
				return cmd.Help()
			}
			return runBatch(cmd)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "config file (.yml, .yaml or .toml); defaults to .stagerun.yml or .stagerun.toml")
	persistent.String("translator", "", "translator executable (overrides discovery)")
	persistent.String("toolchain", "", "C toolchain executable")
	persistent.String("workspace-root", "", "directory for per-run workspaces (default: system temp)")
	persistent.Int("execute-timeout", 0, "timeout for the produced program in milliseconds")
	persistent.Bool("history", false, "record batch runs in the history database")
	persistent.BoolP("verbose", "v", false, "log every stage at debug level")
	persistent.String("format", "pretty", "output format (pretty|json)")

	cmd.Flags().Bool("run-tests", false, "run every example headlessly, write logs and a summary, then exit")

	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}
