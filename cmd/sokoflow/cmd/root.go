// Package cmd provides the CLI commands for SokoFlow.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// verbose enables verbose output
	verbose bool
	// outputFormat specifies the output format (json, plain)
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sokoflow",
	Short: "SokoFlow workflow automation engine",
	Long: `SokoFlow runs tenant-defined automation workflows for commerce
operators: AI processing, customer messaging, and record updates, executed
step by step under per-organization safety limits.

The API server accepts workflow definitions and triggers; the worker
executes queued workflow jobs.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// NewRootCmd creates a new root command for testing.
// This allows tests to create fresh command trees.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "sokoflow",
		Short:        rootCmd.Short,
		Long:         rootCmd.Long,
		SilenceUsage: true,
	}
	addCommands(cmd)
	return cmd
}

func addCommands(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "plain", "output format (json|plain)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServerCmd())
	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newCompletionCmd())
}

func init() {
	addCommands(rootCmd)
}
