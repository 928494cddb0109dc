package signal

import (
	"math"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

// Liquidation-band estimate. This is a heuristic positioning model, not an
// exchange liquidation readout: the long/short split is inferred from funding
// bias and the leverage tiers are assumptions that step up with funding
// pressure. Constants are part of the documented model and are not tuned.
var (
	liquidationMoveBands = []float64{0.5, 1, 2, 3}

	fundingBiasScale = 0.12

	leverageBase     = 6.5
	leverageWarm     = 8.0
	leverageHot      = 9.0
	leverageHotAbove = 0.02 // funding %/h beyond which the hot tier applies
)

// LongShare infers the long side's share of open interest from the hourly
// funding rate in percent: (1 + tanh(funding/0.12)) / 2.
func LongShare(fundingPct decimal.Decimal) decimal.Decimal {
	bias := math.Tanh(fundingPct.InexactFloat64() / fundingBiasScale)
	return decimal.NewFromFloat((1 + bias) / 2)
}

func longLeverage(fundingPct float64) float64 {
	switch {
	case fundingPct > leverageHotAbove:
		return leverageHot
	case fundingPct > 0:
		return leverageWarm
	default:
		return leverageBase
	}
}

func shortLeverage(fundingPct float64) float64 {
	switch {
	case fundingPct < -leverageHotAbove:
		return leverageHot
	case fundingPct < 0:
		return leverageWarm
	default:
		return leverageBase
	}
}

// LiquidationBands estimates, for each hypothetical move size, the notional
// on each side that would cross its assumed leverage threshold.
func LiquidationBands(totalOpenInterest, fundingPct decimal.Decimal) []model.LiquidationBand {
	funding := fundingPct.InexactFloat64()
	longShare := LongShare(fundingPct)
	shortShare := decimal.NewFromInt(1).Sub(longShare)

	longThreshold := 1 / longLeverage(funding)
	shortThreshold := 1 / shortLeverage(funding)

	bands := make([]model.LiquidationBand, 0, len(liquidationMoveBands))
	for _, percent := range liquidationMoveBands {
		move := percent / 100
		longRisk := clamp01(move / longThreshold)
		shortRisk := clamp01(move / shortThreshold)

		bands = append(bands, model.LiquidationBand{
			MovePercent:           decimal.NewFromFloat(percent),
			LongNotional:          totalOpenInterest.Mul(longShare).Mul(decimal.NewFromFloat(longRisk)),
			ShortNotional:         totalOpenInterest.Mul(shortShare).Mul(decimal.NewFromFloat(shortRisk)),
			LongThresholdPercent:  decimal.NewFromFloat(longThreshold * 100),
			ShortThresholdPercent: decimal.NewFromFloat(shortThreshold * 100),
		})
	}
	return bands
}

// Severity is the largest single-side notional across all bands.
func Severity(bands []model.LiquidationBand) decimal.Decimal {
	peak := decimal.Zero
	for _, band := range bands {
		if band.LongNotional.GreaterThan(peak) {
			peak = band.LongNotional
		}
		if band.ShortNotional.GreaterThan(peak) {
			peak = band.ShortNotional
		}
	}
	return peak
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
