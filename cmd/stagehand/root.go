package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Workflow orchestration for multi-agent development",
	Long: `Stagehand coordinates multi-step development workflows across
specialized agents: planning, architecture, story drafting, implementation,
and review.

A run executes an ordered workflow sequence. Each step is routed to the
agent responsible for it, retried with backoff on failure, and its artifacts
are checked by the configured quality gates. Progress is published as events
and printed live.

Stories track units of work through their lifecycle (ready, in progress,
code review, testing, done) and are persisted per project under .stagehand/.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(storyCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
