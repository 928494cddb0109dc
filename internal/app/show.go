package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"perpscope/internal/storage"
)

var hundred = decimal.NewFromInt(100)

// Show prints recent archived refresh cycles.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show archived cycles")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Signals {
		return showSignalEvents(ctx, store, opts.Limit)
	}

	snaps, err := store.ListRecentMarketSnapshots(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Fprintln(os.Stdout, "no archived cycles found")
		return nil
	}

	total, err := store.CountMarketSnapshots(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%d cycles archived, showing %d most recent\n\n", total, len(snaps))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbols\tSignals\tAvg Funding/h%\tTotal OI (USD)\tPos\tNeg")
	for _, snap := range snaps {
		fmt.Fprintf(writer, "%s\t%d\t%d\t%s\t%s\t%d\t%d\n",
			snap.Bucket.UTC().Format(time.RFC3339),
			snap.TotalSymbols,
			snap.SignalsGenerated,
			snap.AvgFundingRate.Mul(hundred).StringFixed(5),
			snap.TotalOpenInterest.StringFixed(0),
			snap.PositiveCount,
			snap.NegativeCount,
		)
	}
	return writer.Flush()
}

func showSignalEvents(ctx context.Context, store *storage.Store, limit int) error {
	events, err := store.ListRecentSignalEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no archived signal events found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tSignal\tStrength\tFunding/h%\tCVD (M)\tOI (USD)")
	for _, event := range events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.Bucket.UTC().Format(time.RFC3339),
			event.Symbol,
			event.SignalType,
			event.Strength.StringFixed(1),
			event.FundingRate.StringFixed(3),
			event.CVD.StringFixed(1),
			event.OpenInterest.StringFixed(0),
		)
	}
	return writer.Flush()
}
