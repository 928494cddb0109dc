// Package signal derives per-cycle classifications from aggregated funding,
// open interest and CVD. Evaluation is pure threshold logic per refresh: no
// state carries across cycles and no "already active" suppression exists.
package signal

import (
	"sort"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

// rule is one heuristic classification. Thresholds combine an hourly funding
// rate in percent, a CVD level in millions, and a USD open-interest floor.
// Strength is min(|cvd|/divisor, cap). Lower priority numbers win per symbol.
type rule struct {
	signalType model.SignalType
	priority   int
	message    string

	fundingAbove decimal.Decimal // zero means unused
	fundingBelow decimal.Decimal // zero means unused
	cvdAbove     decimal.Decimal
	cvdBelow     decimal.Decimal
	oiFloor      decimal.Decimal

	strengthDivisor decimal.Decimal
	strengthCap     decimal.Decimal
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var rules = []rule{
	{
		signalType:      model.SignalLocalTop,
		priority:        1,
		message:         "High long funding + heavy selling pressure → reversal likely",
		fundingAbove:    dec(0.06),
		cvdBelow:        dec(-60),
		oiFloor:         dec(10_000_000),
		strengthDivisor: dec(18),
		strengthCap:     dec(10),
	},
	{
		signalType:      model.SignalShortSqueeze,
		priority:        1,
		message:         "Shorts paying premium + aggressive buying → squeeze incoming",
		fundingBelow:    dec(-0.06),
		cvdAbove:        dec(90),
		oiFloor:         dec(10_000_000),
		strengthDivisor: dec(20),
		strengthCap:     dec(10),
	},
	{
		signalType:      model.SignalLocalBottom,
		priority:        2,
		message:         "Buyers absorbing shorts + negative funding → bounce setup",
		fundingBelow:    dec(-0.04),
		cvdAbove:        dec(45),
		oiFloor:         dec(8_000_000),
		strengthDivisor: dec(15),
		strengthCap:     dec(10),
	},
	{
		signalType:      model.SignalBuildingLongPressure,
		priority:        3,
		message:         "Accumulation under short funding → bullish momentum",
		fundingBelow:    dec(-0.03),
		cvdAbove:        dec(30),
		oiFloor:         dec(5_000_000),
		strengthDivisor: dec(14),
		strengthCap:     dec(8),
	},
	{
		signalType:      model.SignalBuildingShortPressure,
		priority:        3,
		message:         "Distribution while longs pay → bearish setup forming",
		fundingAbove:    dec(0.03),
		cvdBelow:        dec(-30),
		oiFloor:         dec(5_000_000),
		strengthDivisor: dec(14),
		strengthCap:     dec(8),
	},
}

func (r rule) matches(fundingPct, cvd, oi decimal.Decimal) bool {
	if !r.fundingAbove.IsZero() && !fundingPct.GreaterThan(r.fundingAbove) {
		return false
	}
	if !r.fundingBelow.IsZero() && !fundingPct.LessThan(r.fundingBelow) {
		return false
	}
	if !r.cvdAbove.IsZero() && !cvd.GreaterThan(r.cvdAbove) {
		return false
	}
	if !r.cvdBelow.IsZero() && !cvd.LessThan(r.cvdBelow) {
		return false
	}
	return oi.GreaterThan(r.oiFloor)
}

func (r rule) strength(cvd decimal.Decimal) decimal.Decimal {
	s := cvd.Abs().Div(r.strengthDivisor)
	if s.GreaterThan(r.strengthCap) {
		return r.strengthCap
	}
	return s
}

// Evaluate runs every rule against one aggregate and returns the single best
// candidate: lowest priority number first, then highest strength. Returns
// false when no rule fires.
func Evaluate(agg model.SymbolAggregate) (model.Signal, bool) {
	fundingPct := agg.FundingRateWeighted.Mul(decimal.NewFromInt(100))

	var best model.Signal
	found := false
	for _, r := range rules {
		if !r.matches(fundingPct, agg.CVD, agg.TotalOpenInterest) {
			continue
		}
		candidate := model.Signal{
			Type:     r.signalType,
			Symbol:   agg.Symbol,
			Strength: r.strength(agg.CVD),
			Message:  r.message,
			Priority: r.priority,
			Indicators: model.SignalIndicators{
				FundingRate:  fundingPct.Round(3),
				OpenInterest: agg.TotalOpenInterest,
				CVD:          agg.CVD.Round(2),
				Price:        agg.WeightedPrice,
			},
		}
		if !found || better(candidate, best) {
			best = candidate
			found = true
		}
	}
	return best, found
}

func better(a, b model.Signal) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Strength.GreaterThan(b.Strength)
}

// EvaluateAll classifies every aggregate and sorts the surviving signals by
// descending strength for presentation.
func EvaluateAll(aggregates []model.SymbolAggregate) []model.Signal {
	signals := make([]model.Signal, 0)
	for _, agg := range aggregates {
		if sig, ok := Evaluate(agg); ok {
			signals = append(signals, sig)
		}
	}
	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Strength.GreaterThan(signals[j].Strength)
	})
	return signals
}
