package app

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
)

// Rates fetches live funding from every venue and prints a table sorted by
// APY descending.
func (a *App) Rates(ctx context.Context, opts RatesOptions) error {
	market := a.newMarket()
	records, err := market.FetchAll(ctx)
	if err != nil {
		return err
	}

	if opts.Symbol != "" {
		want := strings.ToUpper(strings.TrimSpace(opts.Symbol))
		filtered := records[:0]
		for _, rec := range records {
			if rec.BaseSymbol() == want {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].APY.GreaterThan(records[j].APY)
	})
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no funding rates found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Exchange\tSymbol\tRate/h%\tAPY%\tOI (USD)\tPrice\tInterval")
	for _, rec := range records {
		oi := "-"
		if rec.OpenInterest != nil {
			oi = rec.OpenInterest.StringFixed(0)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Exchange,
			rec.Symbol,
			rec.Rate.Mul(hundred).StringFixed(5),
			rec.APY.StringFixed(2),
			oi,
			rec.Price.StringFixed(4),
			rec.Interval,
		)
	}
	return writer.Flush()
}
