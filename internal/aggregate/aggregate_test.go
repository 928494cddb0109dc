package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func record(exchange, symbol, rate string, oi *decimal.Decimal, price string) model.RateRecord {
	return model.RateRecord{
		Exchange:     exchange,
		Symbol:       symbol,
		Rate:         dec(rate),
		OpenInterest: oi,
		Price:        dec(price),
	}
}

func oi(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestBuildWeightedMean(t *testing.T) {
	// 0.0001 weighted by 10M and 0.0002 weighted by 20M gives
	// (1000 + 4000) / 30M = 0.000166...
	records := []model.RateRecord{
		record("Binance", "BTC-PERP", "0.0001", oi("10000000"), "100000"),
		record("Bybit", "BTC-PERP", "0.0002", oi("20000000"), "100000"),
	}

	aggregates := Build(records, nil)
	if len(aggregates) != 1 {
		t.Fatalf("expected 1 aggregate, got %d", len(aggregates))
	}
	agg := aggregates[0]

	wantWeighted := dec("0.0001").Mul(dec("10000000")).
		Add(dec("0.0002").Mul(dec("20000000"))).
		Div(dec("30000000"))
	if !agg.FundingRateWeighted.Equal(wantWeighted) {
		t.Fatalf("expected weighted rate %s, got %s", wantWeighted, agg.FundingRateWeighted)
	}

	wantAvg := dec("0.00015")
	if !agg.FundingRateAvg.Equal(wantAvg) {
		t.Fatalf("expected avg rate %s, got %s", wantAvg, agg.FundingRateAvg)
	}

	if !agg.TotalOpenInterest.Equal(dec("30000000")) {
		t.Fatalf("expected total OI 30M, got %s", agg.TotalOpenInterest)
	}
	// Spread is (0.0002 - 0.0001) * 100 = 0.01 percent.
	if !agg.FundingSpread.Equal(dec("0.01")) {
		t.Fatalf("expected spread 0.01, got %s", agg.FundingSpread)
	}
}

func TestBuildZeroWeightFallsBackToSimpleMean(t *testing.T) {
	records := []model.RateRecord{
		record("Binance", "BTC-PERP", "0.0001", nil, "100000"),
		record("edgeX", "BTC-PERP", "0.0003", nil, "100000"),
	}

	agg := Build(records, nil)[0]
	if !agg.FundingRateWeighted.Equal(agg.FundingRateAvg) {
		t.Fatalf("zero total weight must fall back to the simple mean: weighted %s, avg %s",
			agg.FundingRateWeighted, agg.FundingRateAvg)
	}
	if !agg.FundingRateAvg.Equal(dec("0.0002")) {
		t.Fatalf("expected mean 0.0002, got %s", agg.FundingRateAvg)
	}
}

func TestBuildNilOIContributesZeroWeight(t *testing.T) {
	records := []model.RateRecord{
		record("Binance", "BTC-PERP", "0.0009", nil, "100000"),
		record("Bybit", "BTC-PERP", "0.0001", oi("10000000"), "100000"),
	}

	agg := Build(records, nil)[0]
	// Binance has no weight, so the weighted mean equals Bybit's rate.
	if !agg.FundingRateWeighted.Equal(dec("0.0001")) {
		t.Fatalf("nil-OI venue must not move the weighted mean, got %s", agg.FundingRateWeighted)
	}
	// But it still shows up in the venue list and breakdown.
	if len(agg.Exchanges) != 2 || len(agg.ExchangeBreakdown) != 2 {
		t.Fatalf("nil-OI venue must stay visible: %v", agg.Exchanges)
	}
}

func TestBuildSortsByOpenInterestDesc(t *testing.T) {
	records := []model.RateRecord{
		record("Bybit", "AAA-PERP", "0.0001", oi("1000000"), "1"),
		record("Bybit", "BBB-PERP", "0.0001", oi("9000000"), "1"),
		record("Bybit", "CCC-PERP", "0.0001", oi("1000000"), "1"),
	}

	aggregates := Build(records, nil)
	if aggregates[0].Symbol != "BBB" {
		t.Fatalf("largest OI must sort first, got %s", aggregates[0].Symbol)
	}
	// Equal OI ties break on symbol ascending.
	if aggregates[1].Symbol != "AAA" || aggregates[2].Symbol != "CCC" {
		t.Fatalf("tie-break must be symbol ascending: %s, %s", aggregates[1].Symbol, aggregates[2].Symbol)
	}
}

func TestBuildAttachesCVD(t *testing.T) {
	records := []model.RateRecord{
		record("Bybit", "BTC-PERP", "0.0001", oi("10000000"), "100000"),
	}
	cvdMap := map[string]model.CVDResult{
		"BTC": {CVD: dec("42.5"), Momentum: dec("10"), IsAccelerating: true},
	}

	agg := Build(records, cvdMap)[0]
	if !agg.CVD.Equal(dec("42.5")) || !agg.IsAccelerating {
		t.Fatalf("CVD enrichment not attached: %+v", agg)
	}
}

func TestVenueRollup(t *testing.T) {
	records := []model.RateRecord{
		record("Bybit", "BTC-PERP", "0.0001", oi("10000000"), "100000"),
		record("Binance", "BTC-PERP", "0.0003", nil, "100000"),
	}

	agg := Build(records, nil)[0]
	if len(agg.ExchangeFunding) != 2 {
		t.Fatalf("expected 2 venue rollups, got %d", len(agg.ExchangeFunding))
	}
	bybit := agg.ExchangeFunding[0]
	if bybit.Exchange != "Bybit" || !bybit.TotalOI.Equal(dec("10000000")) {
		t.Fatalf("unexpected rollup: %+v", bybit)
	}
}

func TestBreadth(t *testing.T) {
	aggregates := []model.SymbolAggregate{
		{FundingRateWeighted: dec("0.0001"), TotalOpenInterest: dec("10000000"), IsAccelerating: true},
		{FundingRateWeighted: dec("-0.0001"), TotalOpenInterest: dec("5000000")},
		{FundingRateWeighted: dec("0.0002"), TotalOpenInterest: dec("20000000"), IsAccelerating: true},
	}

	breadth := Breadth(aggregates)
	if breadth.PositiveFundingCount != 2 || breadth.NegativeFundingCount != 1 {
		t.Fatalf("unexpected direction counts: %+v", breadth)
	}
	if !breadth.TotalOIPositiveFunding.Equal(dec("30000000")) {
		t.Fatalf("expected positive OI 30M, got %s", breadth.TotalOIPositiveFunding)
	}
	if breadth.AcceleratingCount != 2 || breadth.DeceleratingCount != 1 {
		t.Fatalf("unexpected momentum counts: %+v", breadth)
	}
	// 2 of 3 positive.
	want := decimal.NewFromInt(200).Div(decimal.NewFromInt(3))
	if !breadth.PositiveFundingPercentage.Equal(want) {
		t.Fatalf("expected %s%% positive, got %s", want, breadth.PositiveFundingPercentage)
	}
}

func TestBreadthEmpty(t *testing.T) {
	breadth := Breadth(nil)
	if !breadth.PositiveFundingPercentage.IsZero() {
		t.Fatalf("empty input must not divide, got %s", breadth.PositiveFundingPercentage)
	}
}
