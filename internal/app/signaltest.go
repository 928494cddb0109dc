package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"perpscope/internal/alerting"
)

// SignalTest runs the sentiment pipeline once against live venues and prints
// the derived signals. With Notify it also exercises the alert channel.
func (a *App) SignalTest(ctx context.Context, opts SignalTestOptions) error {
	market := a.newMarket()
	resp, err := market.Sentiment(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "cycle: %d symbols, %d signals, %d positive / %d negative funding\n",
		resp.Meta.TotalSymbols,
		resp.Meta.SignalsGenerated,
		resp.Meta.Aggregates.PositiveFundingCount,
		resp.Meta.Aggregates.NegativeFundingCount,
	)

	if len(resp.Signals) == 0 {
		fmt.Fprintln(os.Stdout, "no signals this cycle")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tType\tStrength\tFunding/h%\tCVD\tOI (USD)")
	for _, sig := range resp.Signals {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			sig.Symbol,
			sig.Type,
			sig.Strength.StringFixed(1),
			sig.Indicators.FundingRate.StringFixed(3),
			sig.Indicators.CVD.StringFixed(2),
			sig.Indicators.OpenInterest.StringFixed(0),
		)
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	if !opts.Notify {
		return nil
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	now := time.Now().UTC()
	for _, sig := range resp.Signals {
		note := alerting.Notification{Signal: sig, Timestamp: now}
		if err := notifier.Notify(ctx, note); err != nil {
			return fmt.Errorf("dispatch alert for %s: %w", sig.Symbol, err)
		}
	}
	a.Logger.Info().Int("alerts", len(resp.Signals)).Msg("test alerts dispatched")
	return nil
}
