package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the periodic refresh loop with archiving and alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Monitor(cmd.Context())
	},
}
