// Package model defines the data records exchanged between the venue
// adapters, the aggregation pipeline and the presentation layer.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateRecord is one venue's view of one perpetual market, already normalized:
// Rate is always the hourly funding rate in decimal form (0.0001 = 0.01%/h)
// regardless of the venue's native funding cadence.
type RateRecord struct {
	Exchange string `json:"exchange"`
	Symbol   string `json:"symbol"`

	Rate decimal.Decimal `json:"rate"`
	APY  decimal.Decimal `json:"apy"`

	// OpenInterest is USD notional. Nil when the venue does not publish it;
	// it is never fabricated.
	OpenInterest          *decimal.Decimal `json:"openInterest"`
	OpenInterestContracts *decimal.Decimal `json:"openInterestContracts,omitempty"`

	// Price is the adapter's best-effort reference, resolved by the
	// mark → index → last → oracle → impact precedence.
	Price       decimal.Decimal  `json:"price"`
	MarkPrice   *decimal.Decimal `json:"markPrice,omitempty"`
	IndexPrice  *decimal.Decimal `json:"indexPrice,omitempty"`
	LastPrice   *decimal.Decimal `json:"lastPrice,omitempty"`
	OraclePrice *decimal.Decimal `json:"oraclePrice,omitempty"`
	ImpactPrice *decimal.Decimal `json:"impactPrice,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Interval  string    `json:"interval"`
}

// BaseSymbol strips the venue-neutral perp suffix, e.g. "BTC-PERP" → "BTC".
func (r RateRecord) BaseSymbol() string {
	return TrimPerpSuffix(r.Symbol)
}

// CVDResult is the candle-derived directional pressure estimate for one symbol.
type CVDResult struct {
	CVD            decimal.Decimal `json:"cvd"`
	Momentum       decimal.Decimal `json:"momentum"`
	IsAccelerating bool            `json:"isAccelerating"`
}

// ExchangeFunding is the per-venue rollup kept on an aggregate so drill-down
// does not require recomputation.
type ExchangeFunding struct {
	Exchange        string          `json:"exchange"`
	AvgFunding      decimal.Decimal `json:"avgFunding"`
	WeightedFunding decimal.Decimal `json:"weightedFunding"`
	TotalOI         decimal.Decimal `json:"totalOI"`
}

// LiquidationBand estimates notional at risk for one hypothetical move size.
// The numbers come from an inferred leverage/positioning model and are a
// directional compass, not a liquidation engine readout.
type LiquidationBand struct {
	MovePercent           decimal.Decimal `json:"movePercent"`
	LongNotional          decimal.Decimal `json:"longNotional"`
	ShortNotional         decimal.Decimal `json:"shortNotional"`
	LongThresholdPercent  decimal.Decimal `json:"longThresholdPercent"`
	ShortThresholdPercent decimal.Decimal `json:"shortThresholdPercent"`
}

// SymbolAggregate merges every venue's record for one base symbol.
type SymbolAggregate struct {
	Symbol string `json:"symbol"`

	FundingRateAvg      decimal.Decimal `json:"fundingRate"`
	FundingRateWeighted decimal.Decimal `json:"fundingRateWeighted"`
	AvgPrice            decimal.Decimal `json:"avgPrice"`
	WeightedPrice       decimal.Decimal `json:"weightedPrice"`
	TotalOpenInterest   decimal.Decimal `json:"openInterest"`

	// FundingSpread is max venue rate minus min venue rate, in percent.
	FundingSpread decimal.Decimal `json:"fundingSpread"`

	CVD            decimal.Decimal `json:"cvd"`
	CVDMomentum    decimal.Decimal `json:"momentum"`
	IsAccelerating bool            `json:"isAccelerating"`

	ExchangeFunding     []ExchangeFunding `json:"exchangeFunding"`
	LiquidationBands    []LiquidationBand `json:"liquidationBands"`
	LiquidationSeverity decimal.Decimal   `json:"liquidationSeverity"`
	Exchanges           []string          `json:"exchanges"`
	ExchangeBreakdown   []RateRecord      `json:"exchangeBreakdown"`
}

// SignalType enumerates the heuristic classifications.
type SignalType string

const (
	SignalLocalTop              SignalType = "LOCAL TOP"
	SignalShortSqueeze          SignalType = "SHORT SQUEEZE"
	SignalLocalBottom           SignalType = "LOCAL BOTTOM"
	SignalBuildingLongPressure  SignalType = "BUILDING LONG PRESSURE"
	SignalBuildingShortPressure SignalType = "BUILDING SHORT PRESSURE"
)

// SignalIndicators snapshots the inputs a signal was derived from.
type SignalIndicators struct {
	FundingRate  decimal.Decimal `json:"fundingRate"`
	OpenInterest decimal.Decimal `json:"openInterest"`
	CVD          decimal.Decimal `json:"cvd"`
	Price        decimal.Decimal `json:"price"`
}

// Signal is a per-cycle classification. It is never persisted by the live
// path and carries no cross-cycle state.
type Signal struct {
	Type       SignalType       `json:"type"`
	Symbol     string           `json:"symbol"`
	Strength   decimal.Decimal  `json:"strength"`
	Message    string           `json:"message"`
	Indicators SignalIndicators `json:"indicators"`

	// Priority is the rule tier used for per-symbol selection; it is not
	// part of the downstream contract.
	Priority int `json:"-"`
}

// ArbitrageLeg is one side of a funding arbitrage pair.
type ArbitrageLeg struct {
	Exchange string          `json:"exchange"`
	Rate     decimal.Decimal `json:"rate"`
	APY      decimal.Decimal `json:"apy"`
}

// ArbitrageOpportunity pairs the best positive-funding venue (collect as
// short there, i.e. long leg of the carry) with the best negative-funding
// venue. CombinedAPY is the sum of both legs' absolute APY.
type ArbitrageOpportunity struct {
	Symbol       string          `json:"symbol"`
	Long         ArbitrageLeg    `json:"long"`
	Short        ArbitrageLeg    `json:"short"`
	CombinedAPY  decimal.Decimal `json:"combinedAPY"`
	LongBackups  []ArbitrageLeg  `json:"longAlternatives,omitempty"`
	ShortBackups []ArbitrageLeg  `json:"shortAlternatives,omitempty"`
}

// MarketAggregates summarizes breadth across the whole refresh cycle.
type MarketAggregates struct {
	PositiveFundingPercentage decimal.Decimal `json:"positiveFundingPercentage"`
	PositiveFundingCount      int             `json:"positiveFundingCount"`
	NegativeFundingCount      int             `json:"negativeFundingCount"`
	TotalOIPositiveFunding    decimal.Decimal `json:"totalOIPositiveFunding"`
	TotalOINegativeFunding    decimal.Decimal `json:"totalOINegativeFunding"`
	AcceleratingCount         int             `json:"acceleratingCount"`
	DeceleratingCount         int             `json:"deceleratingCount"`
	PeakLiquidationNotional   decimal.Decimal `json:"peakLiquidationNotional"`
}

// MarketMeta describes how a sentiment response was produced.
type MarketMeta struct {
	TotalSymbols     int              `json:"totalSymbols"`
	SignalsGenerated int              `json:"signalsGenerated"`
	CVDTimeframe     string           `json:"cvdTimeframe"`
	FundingBasis     string           `json:"fundingBasis"`
	FilteredBy       string           `json:"filteredBy"`
	Timestamp        time.Time        `json:"timestamp"`
	Aggregates       MarketAggregates `json:"aggregates"`
}

// SentimentResponse is the structured downstream contract.
type SentimentResponse struct {
	Data    []SymbolAggregate `json:"data"`
	Signals []Signal          `json:"signals"`
	Meta    MarketMeta        `json:"meta"`
}
