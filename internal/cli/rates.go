package cli

import (
	"github.com/spf13/cobra"

	"perpscope/internal/app"
)

var (
	ratesSymbol string
	ratesLimit  int
)

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Fetch and print live funding rates from every venue",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.RatesOptions{
			Symbol: ratesSymbol,
			Limit:  ratesLimit,
		}
		return getApp().Rates(cmd.Context(), opts)
	},
}

var signalTestNotify bool

var signalTestCmd = &cobra.Command{
	Use:   "signal-test",
	Short: "Run one sentiment cycle and print the derived signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SignalTestOptions{
			Notify: signalTestNotify,
		}
		return getApp().SignalTest(cmd.Context(), opts)
	},
}

func init() {
	ratesCmd.Flags().StringVar(&ratesSymbol, "symbol", "", "Filter to one base symbol, e.g. BTC")
	ratesCmd.Flags().IntVar(&ratesLimit, "limit", 0, "Limit printed rows (0 = all)")

	signalTestCmd.Flags().BoolVar(&signalTestNotify, "notify", false, "Also dispatch signals to the configured alert channel")
}
