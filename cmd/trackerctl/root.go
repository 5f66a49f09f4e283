package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trackerctl",
		Short: "Maintenance tool for the mistake tracker",
		Long: `trackerctl runs the tracker's core pipelines from the command line:
normalizing raw AI responses, stepping the review scheduler, applying the
database schema and minting development tokens.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newNormalizeCmd(),
		newScheduleCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return root
}
