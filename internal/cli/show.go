package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"perpscope/internal/app"
)

var (
	showLimit   int
	showSignals bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent archived refresh cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Signals: showSignals,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of cycles to display")
	showCmd.Flags().BoolVar(&showSignals, "signals", false, "List recent archived signal events instead of cycles")
}
