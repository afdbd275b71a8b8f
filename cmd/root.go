// Package cmd contains the quill command line entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill - content generation studio backend",
	Long: `Quill is the backend service for a multi-project content generation
studio: per-project structured stores, retrieval buckets, a generation
pipeline, and an immutable version ledger, all behind a JSON REST API.

Running quill without a subcommand starts the HTTP server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
