package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func bybitPayload(list []map[string]string) map[string]any {
	return map[string]any{
		"retCode": 0,
		"retMsg":  "OK",
		"result":  map[string]any{"list": list},
	}
}

func TestBybitPrefersVenueUSDOpenInterest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bybitPayload([]map[string]string{
			{
				"symbol":            "BTCUSDT",
				"markPrice":         "100000",
				"fundingRate":       "0.0008",
				"openInterest":      "300",
				"openInterestValue": "5000000",
			},
		}))
	}))
	defer srv.Close()

	b := NewBybit(testOptions(srv.URL), noopLogger())
	records, err := b.FetchRates(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.OpenInterest == nil || !rec.OpenInterest.Equal(decimal.NewFromInt(5000000)) {
		t.Fatalf("venue USD open interest must win, got %v", rec.OpenInterest)
	}
	if !rec.Rate.Equal(decimal.RequireFromString("0.0001")) {
		t.Fatalf("8h rate must be divided by 8, got %s", rec.Rate)
	}
}

func TestBybitValuesContractsAtReferencePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bybitPayload([]map[string]string{
			{
				"symbol":       "BTCUSDT",
				"markPrice":    "100000",
				"fundingRate":  "0.0008",
				"openInterest": "300",
			},
		}))
	}))
	defer srv.Close()

	b := NewBybit(testOptions(srv.URL), noopLogger())
	records, err := b.FetchRates(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := records[0]
	if rec.OpenInterest == nil || !rec.OpenInterest.Equal(decimal.NewFromInt(30_000_000)) {
		t.Fatalf("expected 300 contracts * 100000 = 30000000, got %v", rec.OpenInterest)
	}
}

func TestBybitRetCodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"retCode": 10001, "retMsg": "params error"})
	}))
	defer srv.Close()

	b := NewBybit(testOptions(srv.URL), noopLogger())
	if _, err := b.FetchRates(context.Background(), decimal.Zero); err == nil {
		t.Fatal("non-zero retCode must surface as an error")
	}
}

func TestBybitFloorDropsKnownSmallOI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(bybitPayload([]map[string]string{
			{
				"symbol":            "BTCUSDT",
				"markPrice":         "100000",
				"fundingRate":       "0.0008",
				"openInterestValue": "50000000",
			},
			{
				"symbol":            "XYZUSDT",
				"markPrice":         "1",
				"fundingRate":       "0.0008",
				"openInterestValue": "1000",
			},
		}))
	}))
	defer srv.Close()

	b := NewBybit(testOptions(srv.URL), noopLogger())
	records, err := b.FetchRates(context.Background(), decimal.NewFromInt(1_000_000))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Symbol != "BTC-PERP" {
		t.Fatalf("floor must drop the small-OI market only, got %v", records)
	}
}
