// Kagan drives external coding-agent processes through the task
// execution subsystem described in this repo's design documents: a
// reactive scheduler, per-task worktrees, and a review/merge pipeline.
// CLI surface follows the same flavor as a typical single-binary
// board-driving CLI (repo/db/max-agents/auto-merge flags, a status
// view), re-expressed with cobra+viper subcommands instead of a flat
// flag set, since this port's configuration surface (a dozen options
// plus per-agent model overrides) outgrows `flag`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagRepoRoot  string
	flagDBPath    string
	flagConfig    string
	flagLogLevel  string
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kagan",
		Short: "Kagan drives coding agents through a board-driven task execution pipeline",
	}
	cmd.PersistentFlags().StringVar(&flagRepoRoot, "repo", ".", "repository root to operate on")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "kagan.db", "task database path")
	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "configuration file (yaml/json/toml)")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newTaskCmd())

	return cmd
}
