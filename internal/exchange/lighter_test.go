package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLighterConvertsPercentToDecimal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"funding_rates": []map[string]any{
				{"exchange": "lighter", "symbol": "ETH", "rate": 0.01},
				{"exchange": "binance", "symbol": "ETH", "rate": 0.02},
			},
		})
	}))
	defer srv.Close()

	l := NewLighter(LighterOptions{Options: testOptions(srv.URL)}, noopLogger())
	l.oi = newOICache(time.Minute, func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return map[string]decimal.Decimal{"ETH": decimal.NewFromInt(12_000_000)}, nil
	})

	records, err := l.FetchRates(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("foreign exchange rows must be skipped, got %d records", len(records))
	}

	rec := records[0]
	if rec.Symbol != "ETH-PERP" {
		t.Fatalf("expected ETH-PERP, got %s", rec.Symbol)
	}
	// 0.01%/h comes out at 0.0001/h decimal.
	if !rec.Rate.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("percent rate must be divided by 100, got %s", rec.Rate)
	}
	if rec.OpenInterest == nil || !rec.OpenInterest.Equal(decimal.NewFromInt(12_000_000)) {
		t.Fatalf("cached open interest must be attached, got %v", rec.OpenInterest)
	}
}

func TestLighterOIRefreshFailureDoesNotFailFunding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"funding_rates": []map[string]any{
				{"exchange": "lighter", "symbol": "BTC", "rate": -0.005},
			},
		})
	}))
	defer srv.Close()

	l := NewLighter(LighterOptions{Options: testOptions(srv.URL)}, noopLogger())
	l.oi = newOICache(time.Minute, func(ctx context.Context) (map[string]decimal.Decimal, error) {
		return nil, errors.New("ws down")
	})

	records, err := l.FetchRates(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("funding must survive an OI failure: %v", err)
	}
	if len(records) != 1 || records[0].OpenInterest != nil {
		t.Fatalf("expected one record without open interest, got %v", records)
	}
}

func TestLighterMissingFundingRatesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"unexpected": true})
	}))
	defer srv.Close()

	l := NewLighter(LighterOptions{Options: testOptions(srv.URL)}, noopLogger())
	if _, err := l.FetchRates(context.Background(), decimal.Zero); err == nil {
		t.Fatal("missing funding_rates key must be an error")
	}
}

func TestOICacheServesFreshWithinTTL(t *testing.T) {
	calls := 0
	cache := newOICache(time.Hour, func(ctx context.Context) (map[string]decimal.Decimal, error) {
		calls++
		return map[string]decimal.Decimal{"BTC": decimal.NewFromInt(int64(calls))}, nil
	})

	first, err := cache.snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("second snapshot within TTL must not refetch, got %d calls", calls)
	}
	if !first["BTC"].Equal(second["BTC"]) {
		t.Fatal("cached value must be stable within TTL")
	}
}

func TestOICacheServesStaleOnRefreshFailure(t *testing.T) {
	calls := 0
	cache := newOICache(0, func(ctx context.Context) (map[string]decimal.Decimal, error) {
		calls++
		if calls == 1 {
			return map[string]decimal.Decimal{"BTC": decimal.NewFromInt(7)}, nil
		}
		return nil, errors.New("ws down")
	})

	if _, err := cache.snapshot(context.Background()); err != nil {
		t.Fatalf("first refresh must succeed: %v", err)
	}

	values, err := cache.snapshot(context.Background())
	if err == nil {
		t.Fatal("failed refresh must report an error")
	}
	if values == nil || !values["BTC"].Equal(decimal.NewFromInt(7)) {
		t.Fatalf("stale values must still be served, got %v", values)
	}
}
