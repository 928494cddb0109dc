package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is one archived refresh cycle: headline numbers plus the
// full response payload as JSON.
type MarketSnapshot struct {
	Bucket            time.Time
	TotalSymbols      int
	SignalsGenerated  int
	AvgFundingRate    decimal.Decimal
	TotalOpenInterest decimal.Decimal
	PositiveCount     int
	NegativeCount     int
	Payload           json.RawMessage
	CreatedAt         time.Time
}

// SymbolSnapshot is one symbol's aggregate row within an archived cycle.
type SymbolSnapshot struct {
	Bucket              time.Time
	Symbol              string
	FundingRateAvg      decimal.Decimal
	FundingRateWeighted decimal.Decimal
	TotalOpenInterest   decimal.Decimal
	WeightedPrice       decimal.Decimal
	CVD                 decimal.Decimal
	FundingSpread       decimal.Decimal
	CreatedAt           time.Time
}

// SignalEvent records an emitted signal for auditing and alert cooldowns
// across restarts.
type SignalEvent struct {
	ID           int64
	Bucket       time.Time
	Symbol       string
	SignalType   string
	Strength     decimal.Decimal
	FundingRate  decimal.Decimal
	CVD          decimal.Decimal
	OpenInterest decimal.Decimal
	CreatedAt    time.Time
}
