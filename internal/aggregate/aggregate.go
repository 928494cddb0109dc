// Package aggregate merges per-venue rate records into per-symbol views.
// Aggregation is order-independent: grouping plus associative sums, so the
// output is identical regardless of adapter completion order.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
	"perpscope/internal/signal"
)

var hundred = decimal.NewFromInt(100)

type group struct {
	symbol string

	rateSum         decimal.Decimal
	rateCount       int64
	weightedRateSum decimal.Decimal
	priceSum        decimal.Decimal
	priceCount      int64
	weightedPrice   decimal.Decimal
	totalWeight     decimal.Decimal

	exchanges []string
	seen      map[string]bool
	breakdown []model.RateRecord
}

// Build produces one SymbolAggregate per distinct base symbol. Records with
// unknown open interest contribute zero weight to the weighted means but
// still appear in the venue list and breakdown. Output is sorted by total
// open interest descending (symbol ascending as tie-break) for determinism.
func Build(records []model.RateRecord, cvdMap map[string]model.CVDResult) []model.SymbolAggregate {
	groups := make(map[string]*group)
	order := make([]string, 0)

	for _, rec := range records {
		base := rec.BaseSymbol()
		g, ok := groups[base]
		if !ok {
			g = &group{symbol: base, seen: make(map[string]bool)}
			groups[base] = g
			order = append(order, base)
		}

		weight := decimal.Zero
		if rec.OpenInterest != nil {
			weight = *rec.OpenInterest
		}

		g.rateSum = g.rateSum.Add(rec.Rate)
		g.rateCount++
		g.weightedRateSum = g.weightedRateSum.Add(rec.Rate.Mul(weight))
		if rec.Price.IsPositive() {
			g.priceSum = g.priceSum.Add(rec.Price)
			g.priceCount++
			g.weightedPrice = g.weightedPrice.Add(rec.Price.Mul(weight))
		}
		g.totalWeight = g.totalWeight.Add(weight)

		if !g.seen[rec.Exchange] {
			g.seen[rec.Exchange] = true
			g.exchanges = append(g.exchanges, rec.Exchange)
		}
		g.breakdown = append(g.breakdown, rec)
	}

	aggregates := make([]model.SymbolAggregate, 0, len(order))
	for _, symbol := range order {
		aggregates = append(aggregates, finalize(groups[symbol], cvdMap[symbol]))
	}

	sort.SliceStable(aggregates, func(i, j int) bool {
		if !aggregates[i].TotalOpenInterest.Equal(aggregates[j].TotalOpenInterest) {
			return aggregates[i].TotalOpenInterest.GreaterThan(aggregates[j].TotalOpenInterest)
		}
		return aggregates[i].Symbol < aggregates[j].Symbol
	})
	return aggregates
}

func finalize(g *group, cvd model.CVDResult) model.SymbolAggregate {
	avgRate := decimal.Zero
	if g.rateCount > 0 {
		avgRate = g.rateSum.Div(decimal.NewFromInt(g.rateCount))
	}

	// Weighted means fall back to the simple mean when total weight is zero;
	// never divide by zero.
	weightedRate := avgRate
	if g.totalWeight.IsPositive() {
		weightedRate = g.weightedRateSum.Div(g.totalWeight)
	}

	avgPrice := decimal.Zero
	if g.priceCount > 0 {
		avgPrice = g.priceSum.Div(decimal.NewFromInt(g.priceCount))
	}
	weightedPrice := avgPrice
	if g.totalWeight.IsPositive() && g.weightedPrice.IsPositive() {
		weightedPrice = g.weightedPrice.Div(g.totalWeight)
	}

	fundingPct := weightedRate.Mul(hundred)
	bands := signal.LiquidationBands(g.totalWeight, fundingPct)

	return model.SymbolAggregate{
		Symbol:              g.symbol,
		FundingRateAvg:      avgRate,
		FundingRateWeighted: weightedRate,
		AvgPrice:            avgPrice,
		WeightedPrice:       weightedPrice,
		TotalOpenInterest:   g.totalWeight,
		FundingSpread:       spread(g.breakdown),
		CVD:                 cvd.CVD,
		CVDMomentum:         cvd.Momentum,
		IsAccelerating:      cvd.IsAccelerating,
		ExchangeFunding:     venueRollup(g.breakdown),
		LiquidationBands:    bands,
		LiquidationSeverity: signal.Severity(bands),
		Exchanges:           g.exchanges,
		ExchangeBreakdown:   g.breakdown,
	}
}

// spread is max venue rate minus min venue rate, expressed in percent. A
// single-venue symbol degenerates to zero.
func spread(records []model.RateRecord) decimal.Decimal {
	if len(records) == 0 {
		return decimal.Zero
	}
	max := records[0].Rate
	min := records[0].Rate
	for _, rec := range records[1:] {
		if rec.Rate.GreaterThan(max) {
			max = rec.Rate
		}
		if rec.Rate.LessThan(min) {
			min = rec.Rate
		}
	}
	return max.Sub(min).Mul(hundred)
}

// venueRollup keeps both simple and weighted per-venue funding so drill-down
// needs no recomputation.
func venueRollup(records []model.RateRecord) []model.ExchangeFunding {
	type venueStats struct {
		rateSum     decimal.Decimal
		count       int64
		weightedSum decimal.Decimal
		totalOI     decimal.Decimal
	}

	stats := make(map[string]*venueStats)
	order := make([]string, 0)
	for _, rec := range records {
		s, ok := stats[rec.Exchange]
		if !ok {
			s = &venueStats{}
			stats[rec.Exchange] = s
			order = append(order, rec.Exchange)
		}
		weight := decimal.Zero
		if rec.OpenInterest != nil {
			weight = *rec.OpenInterest
		}
		s.rateSum = s.rateSum.Add(rec.Rate)
		s.count++
		s.weightedSum = s.weightedSum.Add(rec.Rate.Mul(weight))
		s.totalOI = s.totalOI.Add(weight)
	}

	rollup := make([]model.ExchangeFunding, 0, len(order))
	for _, exchangeName := range order {
		s := stats[exchangeName]
		avg := decimal.Zero
		if s.count > 0 {
			avg = s.rateSum.Div(decimal.NewFromInt(s.count))
		}
		weighted := avg
		if s.totalOI.IsPositive() {
			weighted = s.weightedSum.Div(s.totalOI)
		}
		rollup = append(rollup, model.ExchangeFunding{
			Exchange:        exchangeName,
			AvgFunding:      avg,
			WeightedFunding: weighted,
			TotalOI:         s.totalOI,
		})
	}
	return rollup
}

// Breadth summarizes funding direction, momentum and liquidation severity
// across all aggregates for the meta block.
func Breadth(aggregates []model.SymbolAggregate) model.MarketAggregates {
	var breadth model.MarketAggregates
	for _, agg := range aggregates {
		switch {
		case agg.FundingRateWeighted.IsPositive():
			breadth.PositiveFundingCount++
			breadth.TotalOIPositiveFunding = breadth.TotalOIPositiveFunding.Add(agg.TotalOpenInterest)
		case agg.FundingRateWeighted.IsNegative():
			breadth.NegativeFundingCount++
			breadth.TotalOINegativeFunding = breadth.TotalOINegativeFunding.Add(agg.TotalOpenInterest)
		}

		if agg.IsAccelerating {
			breadth.AcceleratingCount++
		} else {
			breadth.DeceleratingCount++
		}

		if agg.LiquidationSeverity.GreaterThan(breadth.PeakLiquidationNotional) {
			breadth.PeakLiquidationNotional = agg.LiquidationSeverity
		}
	}

	if len(aggregates) > 0 {
		breadth.PositiveFundingPercentage = decimal.NewFromInt(int64(breadth.PositiveFundingCount)).
			Mul(hundred).
			Div(decimal.NewFromInt(int64(len(aggregates))))
	}
	return breadth
}
