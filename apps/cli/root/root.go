package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the cloudpod operations CLI. Subcommands (quota, queue, etc.) are attached here.
var rootCmd = &cobra.Command{
	Use:           "cloudpod-ops",
	Short:         "cloudpod operations CLI",
	Long:          "Operational utilities for cloudpod (quota reconciliation, queue maintenance).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
