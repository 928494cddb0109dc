package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TrimPerpSuffix normalizes a venue symbol to its base asset.
func TrimPerpSuffix(symbol string) string {
	return strings.TrimSpace(strings.TrimSuffix(symbol, "-PERP"))
}

// SnapshotTotals carries whole-market headline numbers for the AI payload.
type SnapshotTotals struct {
	TotalAssets       int             `json:"totalAssets"`
	AvgFundingRate    decimal.Decimal `json:"avgFundingRate"`
	AvgPrice          decimal.Decimal `json:"avgPrice"`
	TotalOpenInterest decimal.Decimal `json:"totalOpenInterest"`
	SignalsDetected   int             `json:"signalsDetected"`
}

// SnapshotEntry is one symbol line inside the AI payload.
type SnapshotEntry struct {
	Symbol       string          `json:"symbol"`
	FundingRate  decimal.Decimal `json:"fundingRate"`
	Price        decimal.Decimal `json:"price"`
	OpenInterest decimal.Decimal `json:"openInterest"`
	CVD          decimal.Decimal `json:"cvd"`
}

// Snapshot is the bounded-size payload handed to the text-generation
// collaborator. It is plain data; the collaborator owns all wording.
type Snapshot struct {
	Timestamp        time.Time        `json:"timestamp"`
	Totals           SnapshotTotals   `json:"totals"`
	PositiveFunding  []SnapshotEntry  `json:"positiveFunding"`
	NegativeFunding  []SnapshotEntry  `json:"negativeFunding"`
	CVDLeaders       []SnapshotEntry  `json:"cvdLeaders"`
	StrongestSignals []Signal         `json:"strongestSignals"`
	Breadth          MarketAggregates `json:"breadth"`
}
