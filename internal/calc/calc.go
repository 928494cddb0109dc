// Package calc holds the rate normalization formulas shared by every venue
// adapter. Cross-venue comparison is only valid once a rate has been brought
// onto the hourly basis, so adapters convert first and annualize second.
package calc

import (
	"math"

	"github.com/shopspring/decimal"
)

// HoursPerYear is the compounding period count used for annualization.
const HoursPerYear = 24 * 365

// HourlyRate converts a venue-native funding rate (decimal form) into the
// hourly rate by dividing by the native period length in hours. A period of
// one hour passes through unchanged.
func HourlyRate(nativeRate decimal.Decimal, periodHours decimal.Decimal) decimal.Decimal {
	if periodHours.IsZero() || periodHours.Equal(decimal.NewFromInt(1)) {
		return nativeRate
	}
	return nativeRate.Div(periodHours)
}

// HourlyRateFromMinutes is HourlyRate for venues that report their funding
// interval in minutes.
func HourlyRateFromMinutes(nativeRate decimal.Decimal, intervalMin int64) decimal.Decimal {
	if intervalMin <= 0 {
		return nativeRate
	}
	hours := decimal.NewFromInt(intervalMin).Div(decimal.NewFromInt(60))
	return HourlyRate(nativeRate, hours)
}

// APY annualizes an hourly decimal rate with hourly compounding and returns
// a percentage: (1 + r)^(24*365) - 1, expressed as percent.
func APY(hourlyRate decimal.Decimal) decimal.Decimal {
	r := hourlyRate.InexactFloat64()
	apy := (math.Pow(1+r, HoursPerYear) - 1) * 100
	if math.IsInf(apy, 0) || math.IsNaN(apy) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(apy)
}

// ReferencePrice resolves a single best-effort price from the candidates in
// precedence order: mark, index, last, oracle, impact, then any remaining
// finite positive candidate. Returns zero when nothing usable is present.
func ReferencePrice(mark, index, last, oracle, impact *decimal.Decimal) decimal.Decimal {
	for _, candidate := range []*decimal.Decimal{mark, index, last, oracle, impact} {
		if usablePrice(candidate) {
			return *candidate
		}
	}
	return decimal.Zero
}

func usablePrice(p *decimal.Decimal) bool {
	return p != nil && p.IsPositive()
}

// NotionalOpenInterest resolves USD open interest. A venue-reported USD value
// wins; otherwise contracts are valued at the reference price; otherwise nil.
// Missing data stays nil, never defaulted to zero.
func NotionalOpenInterest(venueUSD, contracts *decimal.Decimal, price decimal.Decimal) *decimal.Decimal {
	if venueUSD != nil {
		v := *venueUSD
		return &v
	}
	if contracts != nil && price.IsPositive() {
		v := contracts.Mul(price)
		return &v
	}
	return nil
}
