package signal

import (
	"sort"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

const arbitrageBackupLegs = 2

// FindArbitrage pairs, per symbol, the highest-APY positive-funding venue
// with the most-negative-APY venue. A symbol needs at least one venue on each
// side; otherwise no opportunity exists. Opportunities whose combined APY is
// below minCombinedAPY (percent) are discarded, and the survivors are ranked
// by combined APY descending.
func FindArbitrage(records []model.RateRecord, minCombinedAPY decimal.Decimal) []model.ArbitrageOpportunity {
	bySymbol := make(map[string][]model.RateRecord)
	order := make([]string, 0)
	for _, rec := range records {
		base := rec.BaseSymbol()
		if _, seen := bySymbol[base]; !seen {
			order = append(order, base)
		}
		bySymbol[base] = append(bySymbol[base], rec)
	}

	opportunities := make([]model.ArbitrageOpportunity, 0)
	for _, symbol := range order {
		group := bySymbol[symbol]

		var longs, shorts []model.RateRecord
		for _, rec := range group {
			switch {
			case rec.Rate.IsPositive():
				longs = append(longs, rec)
			case rec.Rate.IsNegative():
				shorts = append(shorts, rec)
			}
		}
		if len(longs) == 0 || len(shorts) == 0 {
			continue
		}

		sort.SliceStable(longs, func(i, j int) bool {
			return longs[i].APY.GreaterThan(longs[j].APY)
		})
		sort.SliceStable(shorts, func(i, j int) bool {
			return shorts[i].APY.LessThan(shorts[j].APY)
		})

		long := leg(longs[0])
		short := leg(shorts[0])
		combined := long.APY.Add(short.APY.Abs())
		if combined.LessThan(minCombinedAPY) {
			continue
		}

		opportunities = append(opportunities, model.ArbitrageOpportunity{
			Symbol:       symbol,
			Long:         long,
			Short:        short,
			CombinedAPY:  combined,
			LongBackups:  backups(longs),
			ShortBackups: backups(shorts),
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].CombinedAPY.GreaterThan(opportunities[j].CombinedAPY)
	})
	return opportunities
}

func leg(rec model.RateRecord) model.ArbitrageLeg {
	return model.ArbitrageLeg{Exchange: rec.Exchange, Rate: rec.Rate, APY: rec.APY}
}

func backups(sorted []model.RateRecord) []model.ArbitrageLeg {
	if len(sorted) <= 1 {
		return nil
	}
	end := len(sorted)
	if end > 1+arbitrageBackupLegs {
		end = 1 + arbitrageBackupLegs
	}
	legs := make([]model.ArbitrageLeg, 0, end-1)
	for _, rec := range sorted[1:end] {
		legs = append(legs, leg(rec))
	}
	return legs
}
