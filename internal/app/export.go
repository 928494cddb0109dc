package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"perpscope/internal/storage"
)

// Export renders one symbol's archived history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	// Relative output paths land in the configured export directory.
	if dir := a.Config.Export.OutputDir; dir != "" {
		if opts.CSVPath != "" && !filepath.IsAbs(opts.CSVPath) {
			opts.CSVPath = filepath.Join(dir, opts.CSVPath)
		}
		if opts.PNGPath != "" && !filepath.IsAbs(opts.PNGPath) {
			opts.PNGPath = filepath.Join(dir, opts.PNGPath)
		}
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	rows, err := store.ListSymbolHistory(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no archived history for export window")
		return nil
	}

	downsampled := downsampleHistory(rows, opts.MaxPoints)
	a.Logger.Info().Str("symbol", opts.Symbol).
		Int("total", len(rows)).Int("exported", len(downsampled)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleHistory(rows []storage.SymbolSnapshot, max int) []storage.SymbolSnapshot {
	if max <= 0 || len(rows) <= max {
		return rows
	}

	result := make([]storage.SymbolSnapshot, 0, max)
	step := float64(len(rows)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(rows) {
			idx = len(rows) - 1
		}
		result = append(result, rows[idx])
	}
	return result
}

func writeHistoryCSV(path string, rows []storage.SymbolSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "symbol", "funding_rate_avg", "funding_rate_weighted", "total_open_interest", "weighted_price", "cvd", "funding_spread"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Bucket.Format(time.RFC3339),
			row.Symbol,
			row.FundingRateAvg.String(),
			row.FundingRateWeighted.String(),
			row.TotalOpenInterest.String(),
			row.WeightedPrice.String(),
			row.CVD.String(),
			row.FundingSpread.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeHistoryPNG(path, symbol string, rows []storage.SymbolSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(rows))
	funding := make([]float64, len(rows))
	cvdValues := make([]float64, len(rows))

	for i, row := range rows {
		x[i] = row.Bucket
		funding[i] = row.FundingRateWeighted.Mul(hundred).InexactFloat64()
		cvdValues[i] = row.CVD.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	graph := chart.Chart{
		Title:  symbol + " funding history",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "OI-weighted funding (%/h)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "CVD",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Funding %/h",
				XValues: x,
				YValues: funding,
			},
			chart.TimeSeries{
				Name:    "CVD",
				XValues: x,
				YValues: cvdValues,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
