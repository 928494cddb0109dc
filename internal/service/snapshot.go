package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

const snapshotTopN = 5

// BuildSnapshot condenses a full sentiment response into the bounded payload
// that gets rendered into AI prompts and Telegram digests. Keeping it small is
// deliberate: the relay forwards it verbatim and prompt size is billed.
func BuildSnapshot(resp model.SentimentResponse) model.Snapshot {
	aggregates := resp.Data

	var (
		fundingSum decimal.Decimal
		priceSum   decimal.Decimal
		priceCount int
		totalOI    decimal.Decimal
	)
	for _, agg := range aggregates {
		fundingSum = fundingSum.Add(agg.FundingRateWeighted)
		if agg.WeightedPrice.IsPositive() {
			priceSum = priceSum.Add(agg.WeightedPrice)
			priceCount++
		}
		totalOI = totalOI.Add(agg.TotalOpenInterest)
	}

	totals := model.SnapshotTotals{
		TotalAssets:       len(aggregates),
		TotalOpenInterest: totalOI,
		SignalsDetected:   len(resp.Signals),
	}
	if len(aggregates) > 0 {
		totals.AvgFundingRate = fundingSum.Div(decimal.NewFromInt(int64(len(aggregates))))
	}
	if priceCount > 0 {
		totals.AvgPrice = priceSum.Div(decimal.NewFromInt(int64(priceCount)))
	}

	return model.Snapshot{
		Timestamp:        time.Now().UTC(),
		Totals:           totals,
		PositiveFunding:  topFunding(aggregates, true),
		NegativeFunding:  topFunding(aggregates, false),
		CVDLeaders:       cvdLeaders(aggregates),
		StrongestSignals: topSignals(resp.Signals),
		Breadth:          resp.Meta.Aggregates,
	}
}

func toEntry(agg model.SymbolAggregate) model.SnapshotEntry {
	return model.SnapshotEntry{
		Symbol:       agg.Symbol,
		FundingRate:  agg.FundingRateWeighted,
		Price:        agg.WeightedPrice,
		OpenInterest: agg.TotalOpenInterest,
		CVD:          agg.CVD,
	}
}

func topFunding(aggregates []model.SymbolAggregate, positive bool) []model.SnapshotEntry {
	side := make([]model.SymbolAggregate, 0, len(aggregates))
	for _, agg := range aggregates {
		if positive && agg.FundingRateWeighted.IsPositive() {
			side = append(side, agg)
		}
		if !positive && agg.FundingRateWeighted.IsNegative() {
			side = append(side, agg)
		}
	}
	sort.SliceStable(side, func(i, j int) bool {
		if positive {
			return side[i].FundingRateWeighted.GreaterThan(side[j].FundingRateWeighted)
		}
		return side[i].FundingRateWeighted.LessThan(side[j].FundingRateWeighted)
	})
	return entries(side)
}

func cvdLeaders(aggregates []model.SymbolAggregate) []model.SnapshotEntry {
	leaders := make([]model.SymbolAggregate, 0, len(aggregates))
	for _, agg := range aggregates {
		if !agg.CVD.IsZero() {
			leaders = append(leaders, agg)
		}
	}
	sort.SliceStable(leaders, func(i, j int) bool {
		return leaders[i].CVD.Abs().GreaterThan(leaders[j].CVD.Abs())
	})
	return entries(leaders)
}

func entries(aggregates []model.SymbolAggregate) []model.SnapshotEntry {
	if len(aggregates) > snapshotTopN {
		aggregates = aggregates[:snapshotTopN]
	}
	out := make([]model.SnapshotEntry, 0, len(aggregates))
	for _, agg := range aggregates {
		out = append(out, toEntry(agg))
	}
	return out
}

func topSignals(signals []model.Signal) []model.Signal {
	if len(signals) > snapshotTopN {
		signals = signals[:snapshotTopN]
	}
	return signals
}
