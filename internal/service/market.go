// Package service orchestrates one refresh cycle: venue fan-out, CVD
// enrichment, aggregation and signal derivation. Every cycle is computed
// fresh from live upstream calls; nothing here persists between cycles.
package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/aggregate"
	"perpscope/internal/cvd"
	"perpscope/internal/exchange"
	"perpscope/internal/fanout"
	"perpscope/internal/model"
	"perpscope/internal/signal"
)

// ErrNoData reports a cycle in which no venue produced any usable records,
// distinct from a successful cycle that matched nothing.
var ErrNoData = errors.New("market: no venue data available")

// Options tune the refresh cycle.
type Options struct {
	// MinOpenInterest is the optional USD floor handed to each adapter.
	MinOpenInterest decimal.Decimal
	// TopSymbols caps CVD enrichment to the N symbols with the most open
	// interest; 0 means the default of 100.
	TopSymbols int
	// MinCombinedAPY filters arbitrage opportunities, in percent.
	MinCombinedAPY decimal.Decimal
}

// Market runs refresh cycles over a fixed adapter set.
type Market struct {
	adapters  []exchange.Adapter
	estimator *cvd.Estimator
	opts      Options
	logger    zerolog.Logger
}

// NewMarket constructs the orchestrator.
func NewMarket(adapters []exchange.Adapter, estimator *cvd.Estimator, opts Options, logger zerolog.Logger) *Market {
	if opts.TopSymbols <= 0 {
		opts.TopSymbols = 100
	}
	return &Market{
		adapters:  adapters,
		estimator: estimator,
		opts:      opts,
		logger:    logger.With().Str("component", "market").Logger(),
	}
}

// FetchAll fans out to every adapter, waits for all of them to settle, and
// returns the union of records from the venues that succeeded. Individual
// venue failures are logged, never propagated; only a cycle with zero usable
// venues returns ErrNoData.
func (m *Market) FetchAll(ctx context.Context) ([]model.RateRecord, error) {
	return m.FetchAllWithFloor(ctx, m.opts.MinOpenInterest)
}

// FetchAllWithFloor is FetchAll with an explicit open-interest floor,
// overriding the configured one for a single request.
func (m *Market) FetchAllWithFloor(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	tasks := make([]fanout.Task[[]model.RateRecord], 0, len(m.adapters))
	for _, adapter := range m.adapters {
		adapter := adapter
		tasks = append(tasks, fanout.Task[[]model.RateRecord]{
			Name: adapter.Name(),
			Run: func(ctx context.Context) ([]model.RateRecord, error) {
				return adapter.FetchRates(ctx, minOpenInterest)
			},
		})
	}

	results := fanout.Gather(ctx, tasks)
	batches, failed := fanout.Partition(results, m.logger)
	if failed == len(m.adapters) && len(m.adapters) > 0 {
		return nil, ErrNoData
	}

	var records []model.RateRecord
	for _, batch := range batches {
		records = append(records, batch...)
	}

	m.logger.Info().
		Int("venues_ok", len(m.adapters)-failed).
		Int("venues_failed", failed).
		Int("records", len(records)).
		Msg("venue fan-out settled")
	return records, nil
}

// Sentiment runs the full pipeline and builds the structured downstream
// response.
func (m *Market) Sentiment(ctx context.Context) (model.SentimentResponse, error) {
	records, err := m.FetchAll(ctx)
	if err != nil {
		return model.SentimentResponse{}, err
	}

	topSymbols := m.rankByOpenInterest(records)
	filtered := filterToSymbols(records, topSymbols)
	cvdMap := m.enrich(ctx, topSymbols)

	aggregates := aggregate.Build(filtered, cvdMap)
	signals := signal.EvaluateAll(aggregates)
	breadth := aggregate.Breadth(aggregates)

	return model.SentimentResponse{
		Data:    aggregates,
		Signals: signals,
		Meta: model.MarketMeta{
			TotalSymbols:     len(topSymbols),
			SignalsGenerated: len(signals),
			CVDTimeframe:     m.estimator.Timeframe(),
			FundingBasis:     "OI-weighted hourly rates",
			FilteredBy:       "Top symbols by total open interest",
			Timestamp:        time.Now().UTC(),
			Aggregates:       breadth,
		},
	}, nil
}

// Arbitrage fetches the raw records and derives funding arbitrage pairs.
func (m *Market) Arbitrage(ctx context.Context, minCombinedAPY decimal.Decimal) ([]model.ArbitrageOpportunity, error) {
	records, err := m.FetchAll(ctx)
	if err != nil {
		return nil, err
	}
	if minCombinedAPY.IsZero() {
		minCombinedAPY = m.opts.MinCombinedAPY
	}
	return signal.FindArbitrage(records, minCombinedAPY), nil
}

// rankByOpenInterest returns the top-N base symbols by summed known open
// interest, symbol ascending as tie-break for determinism.
func (m *Market) rankByOpenInterest(records []model.RateRecord) []string {
	totals := make(map[string]decimal.Decimal)
	order := make([]string, 0)
	for _, rec := range records {
		base := rec.BaseSymbol()
		if _, seen := totals[base]; !seen {
			order = append(order, base)
		}
		if rec.OpenInterest != nil {
			totals[base] = totals[base].Add(*rec.OpenInterest)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := totals[order[i]], totals[order[j]]
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		return order[i] < order[j]
	})

	if len(order) > m.opts.TopSymbols {
		order = order[:m.opts.TopSymbols]
	}
	return order
}

// enrich computes CVD for each capped symbol concurrently. The estimator
// already degrades failures to the neutral result, so every task settles
// successfully.
func (m *Market) enrich(ctx context.Context, symbols []string) map[string]model.CVDResult {
	tasks := make([]fanout.Task[model.CVDResult], 0, len(symbols))
	for _, symbol := range symbols {
		symbol := symbol
		tasks = append(tasks, fanout.Task[model.CVDResult]{
			Name: "cvd:" + symbol,
			Run: func(ctx context.Context) (model.CVDResult, error) {
				return m.estimator.Compute(ctx, symbol+"USDT"), nil
			},
		})
	}

	results := fanout.Gather(ctx, tasks)
	cvdMap := make(map[string]model.CVDResult, len(symbols))
	for i, res := range results {
		cvdMap[symbols[i]] = res.Value
	}
	return cvdMap
}

func filterToSymbols(records []model.RateRecord, symbols []string) []model.RateRecord {
	allowed := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		allowed[symbol] = true
	}
	filtered := make([]model.RateRecord, 0, len(records))
	for _, rec := range records {
		if allowed[rec.BaseSymbol()] {
			filtered = append(filtered, rec)
		}
	}
	return filtered
}
