package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

func testClient(url string) *Client {
	return NewClient(Options{
		BaseURL: url,
		APIKey:  "test-key",
		Model:   "test-model",
		Timeout: 5 * time.Second,
	}, noopLogger())
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"", ModeMarket},
		{"market", ModeMarket},
		{"  Signal ", ModeSignal},
		{"COMPARISON", ModeComparison},
	}
	for _, tc := range cases {
		mode, err := ParseMode(tc.in)
		if err != nil {
			t.Fatalf("ParseMode(%q): %v", tc.in, err)
		}
		if mode != tc.want {
			t.Fatalf("ParseMode(%q) = %s, want %s", tc.in, mode, tc.want)
		}
	}

	if _, err := ParseMode("haiku"); err == nil {
		t.Fatal("unknown mode must error")
	}
}

func TestGenerate(t *testing.T) {
	var captured struct {
		Model           string `json:"model"`
		Input           string `json:"input"`
		MaxOutputTokens int    `json:"max_output_tokens"`
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_, _ = w.Write([]byte(`{"output":[{"content":[{"type":"output_text","text":"longs are crowded"}]}]}`))
	}))
	defer upstream.Close()

	text, err := testClient(upstream.URL).Generate(context.Background(), "describe the market")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "longs are crowded" {
		t.Fatalf("unexpected output: %q", text)
	}
	if captured.Model != "test-model" || captured.Input != "describe the market" {
		t.Fatalf("unexpected request payload: %+v", captured)
	}
	if captured.MaxOutputTokens != 900 {
		t.Fatalf("expected default token bound 900, got %d", captured.MaxOutputTokens)
	}
}

func TestGenerateUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit exceeded"}}`))
	}))
	defer upstream.Close()

	_, err := testClient(upstream.URL).Generate(context.Background(), "prompt")
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Fatalf("expected the upstream message in the error, got %v", err)
	}
}

func TestGenerateEmptyOutput(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[]}`))
	}))
	defer upstream.Close()

	if _, err := testClient(upstream.URL).Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("empty output must error")
	}
}

func TestGenerateNotConfigured(t *testing.T) {
	client := NewClient(Options{}, noopLogger())
	if client.Enabled() {
		t.Fatal("no API key means disabled")
	}
	if _, err := client.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("disabled client must refuse to generate")
	}
}

func TestBuildPromptContent(t *testing.T) {
	snap := model.Snapshot{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Totals: model.SnapshotTotals{
			TotalAssets:       42,
			AvgFundingRate:    decimal.RequireFromString("0.0001"),
			AvgPrice:          decimal.RequireFromString("1234.56"),
			TotalOpenInterest: decimal.NewFromInt(2_500_000_000),
			SignalsDetected:   1,
		},
		PositiveFunding: []model.SnapshotEntry{{
			Symbol:       "BTC",
			FundingRate:  decimal.RequireFromString("0.0007"),
			Price:        decimal.NewFromInt(100_000),
			OpenInterest: decimal.NewFromInt(900_000_000),
			CVD:          decimal.RequireFromString("-72.4"),
		}},
		StrongestSignals: []model.Signal{{
			Type:     model.SignalLocalTop,
			Symbol:   "BTC",
			Strength: decimal.NewFromInt(4),
			Indicators: model.SignalIndicators{
				FundingRate:  decimal.RequireFromString("0.07"),
				OpenInterest: decimal.NewFromInt(900_000_000),
				CVD:          decimal.RequireFromString("-72.4"),
			},
		}},
	}

	prompt := BuildPrompt(ModeMarket, snap)
	for _, want := range []string{
		"42 perp assets tracked",
		"total OI $2500M",
		"0.0100%/h", // 0.0001 hourly rendered in percent
		"Highest positive funding",
		"BTC: funding 0.0700%/h",
		"LOCAL TOP",
		"2025-06-01T12:00:00Z",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestBuildPromptModeFraming(t *testing.T) {
	snap := model.Snapshot{Timestamp: time.Now()}

	market := BuildPrompt(ModeMarket, snap)
	signal := BuildPrompt(ModeSignal, snap)
	comparison := BuildPrompt(ModeComparison, snap)

	if !strings.Contains(market, "Summarize the state of perpetual futures") {
		t.Fatal("market mode preamble missing")
	}
	if !strings.Contains(signal, "Interpret the active positioning signals") {
		t.Fatal("signal mode preamble missing")
	}
	if !strings.Contains(comparison, "cross-venue funding divergence") {
		t.Fatal("comparison mode preamble missing")
	}
	if !strings.Contains(market, "No active signals this cycle.") {
		t.Fatal("empty snapshot must note the absence of signals")
	}
}
