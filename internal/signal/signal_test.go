package signal

import (
	"testing"

	"perpscope/internal/model"
)

func agg(symbol string, weightedRate, cvd, oi float64) model.SymbolAggregate {
	return model.SymbolAggregate{
		Symbol:              symbol,
		FundingRateWeighted: dec(weightedRate),
		CVD:                 dec(cvd),
		TotalOpenInterest:   dec(oi),
	}
}

func TestEvaluateLocalTop(t *testing.T) {
	// 0.0007 hourly is 0.07%/h, above the 0.06 threshold.
	sig, ok := Evaluate(agg("BTC", 0.0007, -72, 11_000_000))
	if !ok {
		t.Fatal("expected a signal")
	}
	if sig.Type != model.SignalLocalTop {
		t.Fatalf("expected LOCAL TOP, got %s", sig.Type)
	}
	// strength = |-72| / 18 = 4
	if !sig.Strength.Equal(dec(4)) {
		t.Fatalf("expected strength 4, got %s", sig.Strength)
	}
	if !sig.Indicators.FundingRate.Equal(dec(0.07)) {
		t.Fatalf("indicators must carry funding in percent, got %s", sig.Indicators.FundingRate)
	}
}

func TestEvaluateShortSqueeze(t *testing.T) {
	sig, ok := Evaluate(agg("ETH", -0.0007, 100, 11_000_000))
	if !ok || sig.Type != model.SignalShortSqueeze {
		t.Fatalf("expected SHORT SQUEEZE, got %v ok=%v", sig.Type, ok)
	}
	if !sig.Strength.Equal(dec(5)) {
		t.Fatalf("expected strength 100/20=5, got %s", sig.Strength)
	}
}

func TestEvaluateLocalBottom(t *testing.T) {
	sig, ok := Evaluate(agg("SOL", -0.0005, 50, 9_000_000))
	if !ok || sig.Type != model.SignalLocalBottom {
		t.Fatalf("expected LOCAL BOTTOM, got %v ok=%v", sig.Type, ok)
	}
}

func TestEvaluateBuildingPressure(t *testing.T) {
	long, ok := Evaluate(agg("DOGE", -0.00035, 35, 6_000_000))
	if !ok || long.Type != model.SignalBuildingLongPressure {
		t.Fatalf("expected BUILDING LONG PRESSURE, got %v ok=%v", long.Type, ok)
	}

	short, ok := Evaluate(agg("DOGE", 0.00035, -35, 6_000_000))
	if !ok || short.Type != model.SignalBuildingShortPressure {
		t.Fatalf("expected BUILDING SHORT PRESSURE, got %v ok=%v", short.Type, ok)
	}
}

func TestEvaluatePriorityWins(t *testing.T) {
	// Matches both LOCAL BOTTOM (priority 2) and BUILDING LONG (priority 3);
	// the lower priority number must win.
	sig, ok := Evaluate(agg("SOL", -0.0005, 50, 9_000_000))
	if !ok || sig.Type != model.SignalLocalBottom {
		t.Fatalf("lower priority number must win, got %v", sig.Type)
	}
}

func TestEvaluateStrengthCap(t *testing.T) {
	sig, ok := Evaluate(agg("BTC", 0.0007, -300, 11_000_000))
	if !ok {
		t.Fatal("expected a signal")
	}
	if !sig.Strength.Equal(dec(10)) {
		t.Fatalf("strength must cap at 10, got %s", sig.Strength)
	}
}

func TestEvaluateOIFloorIsStrict(t *testing.T) {
	// Exactly at the floor does not qualify.
	if _, ok := Evaluate(agg("BTC", 0.0007, -72, 10_000_000)); ok {
		t.Fatal("open interest at the floor must not fire")
	}
}

func TestEvaluateQuietMarket(t *testing.T) {
	if _, ok := Evaluate(agg("BTC", 0.0001, 5, 50_000_000)); ok {
		t.Fatal("no rule should fire on quiet funding and flat CVD")
	}
}

func TestEvaluateAllSortsByStrength(t *testing.T) {
	aggregates := []model.SymbolAggregate{
		agg("BTC", 0.0007, -72, 11_000_000),  // strength 4
		agg("ETH", -0.0007, 100, 11_000_000), // strength 5
		agg("XRP", 0.0001, 1, 50_000_000),    // no signal
	}

	signals := EvaluateAll(aggregates)
	if len(signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(signals))
	}
	if signals[0].Symbol != "ETH" || signals[1].Symbol != "BTC" {
		t.Fatalf("signals must sort by strength descending: %s, %s",
			signals[0].Symbol, signals[1].Symbol)
	}
}
