package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the taskflow CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "taskflow",
		Short: "taskflow - projects, tasks and bearer-token auth",
		Long: `taskflow serves a JSON API for owned projects and their tasks,
authenticated with short-lived access tokens and rotating refresh tokens.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
