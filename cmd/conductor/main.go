package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airbais/conductor/cmd/conductor/commands"
	"github.com/airbais/conductor/logger"
)

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Conductor - async job engine for long-running analysis tools",
	Long: `Conductor - async job orchestration for long-running analysis tools.

Conductor fronts slow content-analysis tools with an async job API:
submit a job, get an id back immediately, poll for status, fetch
results when the run finishes.

Available commands:
  serve   - Start the HTTP API server and job workers
  jobs    - Inspect and manage jobs
  tools   - List registered tools and their contracts
  version - Show version information

Examples:
  conductor serve                          # Start the server
  conductor jobs ls --status running       # List running jobs
  conductor jobs show <job-id>             # Show job details
  conductor tools ls                       # List registered tools`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		if err := logger.InitializeWithLevel(false, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ToolsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
