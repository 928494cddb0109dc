package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/cvd"
	"perpscope/internal/exchange"
	"perpscope/internal/model"
)

func noopLogger() zerolog.Logger { return zerolog.Nop() }

type fakeAdapter struct {
	name    string
	records []model.RateRecord
	err     error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	return f.records, f.err
}

var _ exchange.Adapter = (*fakeAdapter)(nil)

type fakeKlines struct {
	mu      sync.Mutex
	candles []cvd.Candle
	err     error
	calls   []string
}

func (f *fakeKlines) Klines(ctx context.Context, symbol, interval string, limit int) ([]cvd.Candle, error) {
	f.mu.Lock()
	f.calls = append(f.calls, symbol)
	f.mu.Unlock()
	return f.candles, f.err
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func oi(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func record(exchange, symbol, rate string, openInterest *decimal.Decimal) model.RateRecord {
	return model.RateRecord{
		Exchange:     exchange,
		Symbol:       symbol,
		Rate:         dec(rate),
		APY:          decimal.Zero,
		OpenInterest: openInterest,
		Price:        dec("100"),
	}
}

func newTestMarket(opts Options, adapters ...exchange.Adapter) *Market {
	estimator := cvd.NewEstimator(&fakeKlines{}, cvd.Options{}, noopLogger())
	return NewMarket(adapters, estimator, opts, noopLogger())
}

func TestFetchAllUnion(t *testing.T) {
	market := newTestMarket(Options{},
		&fakeAdapter{name: "Binance", records: []model.RateRecord{record("Binance", "BTC-PERP", "0.0001", oi("10000000"))}},
		&fakeAdapter{name: "Bybit", records: []model.RateRecord{record("Bybit", "BTC-PERP", "0.0002", oi("20000000"))}},
	)

	records, err := market.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected union of 2 records, got %d", len(records))
	}
}

func TestFetchAllToleratesPartialFailure(t *testing.T) {
	market := newTestMarket(Options{},
		&fakeAdapter{name: "Binance", err: errors.New("upstream 502")},
		&fakeAdapter{name: "Bybit", records: []model.RateRecord{record("Bybit", "BTC-PERP", "0.0002", oi("20000000"))}},
	)

	records, err := market.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("one healthy venue must carry the cycle: %v", err)
	}
	if len(records) != 1 || records[0].Exchange != "Bybit" {
		t.Fatalf("expected the surviving venue's records, got %+v", records)
	}
}

func TestFetchAllAllFailed(t *testing.T) {
	market := newTestMarket(Options{},
		&fakeAdapter{name: "Binance", err: errors.New("down")},
		&fakeAdapter{name: "Bybit", err: errors.New("down")},
	)

	if _, err := market.FetchAll(context.Background()); !errors.Is(err, ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestSentimentTopSymbolCap(t *testing.T) {
	market := newTestMarket(Options{TopSymbols: 2},
		&fakeAdapter{name: "Bybit", records: []model.RateRecord{
			record("Bybit", "AAA-PERP", "0.0001", oi("30000000")),
			record("Bybit", "BBB-PERP", "0.0001", oi("20000000")),
			record("Bybit", "CCC-PERP", "0.0001", oi("10000000")),
		}},
	)

	resp, err := market.Sentiment(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Data) != 2 {
		t.Fatalf("expected the top 2 symbols, got %d", len(resp.Data))
	}
	if resp.Data[0].Symbol != "AAA" || resp.Data[1].Symbol != "BBB" {
		t.Fatalf("smallest symbol must be filtered out: %+v", resp.Data)
	}
	if resp.Meta.TotalSymbols != 2 {
		t.Fatalf("meta must report the capped count, got %d", resp.Meta.TotalSymbols)
	}
	if resp.Meta.FundingBasis == "" || resp.Meta.CVDTimeframe == "" {
		t.Fatalf("meta labels must be populated: %+v", resp.Meta)
	}
}

func TestSentimentEnrichesWithUSDTSuffix(t *testing.T) {
	source := &fakeKlines{candles: []cvd.Candle{{
		Open:   dec("100"),
		High:   dec("110"),
		Low:    dec("90"),
		Close:  dec("105"),
		Volume: dec("1000000"),
	}}}
	estimator := cvd.NewEstimator(source, cvd.Options{}, noopLogger())
	market := NewMarket([]exchange.Adapter{
		&fakeAdapter{name: "Bybit", records: []model.RateRecord{
			record("Bybit", "BTC-PERP", "0.0001", oi("10000000")),
		}},
	}, estimator, Options{}, noopLogger())

	if _, err := market.Sentiment(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(source.calls) == 0 || source.calls[0] != "BTCUSDT" {
		t.Fatalf("kline source must be queried with the USDT pair, got %v", source.calls)
	}
}

func TestArbitrageMinAPYFallback(t *testing.T) {
	adapter := &fakeAdapter{name: "Bybit", records: []model.RateRecord{
		{Exchange: "Bybit", Symbol: "BTC-PERP", Rate: dec("0.0001"), APY: dec("3")},
		{Exchange: "Hyperliquid", Symbol: "BTC-PERP", Rate: dec("-0.0001"), APY: dec("-1")},
	}}
	market := newTestMarket(Options{MinCombinedAPY: dec("5")}, adapter)

	// Zero request threshold falls back to the configured floor of 5, which
	// the combined 4 does not meet.
	got, err := market.Arbitrage(context.Background(), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("configured floor must apply, got %d opportunities", len(got))
	}

	// An explicit lower threshold overrides it.
	got, err = market.Arbitrage(context.Background(), dec("2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("explicit threshold must override the floor, got %d", len(got))
	}
}

func TestBuildSnapshotTotals(t *testing.T) {
	resp := model.SentimentResponse{
		Data: []model.SymbolAggregate{
			{Symbol: "BTC", FundingRateWeighted: dec("0.0002"), WeightedPrice: dec("100000"), TotalOpenInterest: dec("30000000"), CVD: dec("50")},
			{Symbol: "ETH", FundingRateWeighted: dec("-0.0001"), WeightedPrice: dec("4000"), TotalOpenInterest: dec("10000000"), CVD: dec("-80")},
		},
		Signals: []model.Signal{{Type: model.SignalLocalTop, Symbol: "BTC"}},
	}

	snap := BuildSnapshot(resp)
	if snap.Totals.TotalAssets != 2 || snap.Totals.SignalsDetected != 1 {
		t.Fatalf("unexpected totals: %+v", snap.Totals)
	}
	if !snap.Totals.AvgFundingRate.Equal(dec("0.00005")) {
		t.Fatalf("expected avg funding 0.00005, got %s", snap.Totals.AvgFundingRate)
	}
	if !snap.Totals.TotalOpenInterest.Equal(dec("40000000")) {
		t.Fatalf("expected total OI 40M, got %s", snap.Totals.TotalOpenInterest)
	}
	if len(snap.PositiveFunding) != 1 || snap.PositiveFunding[0].Symbol != "BTC" {
		t.Fatalf("unexpected positive side: %+v", snap.PositiveFunding)
	}
	if len(snap.NegativeFunding) != 1 || snap.NegativeFunding[0].Symbol != "ETH" {
		t.Fatalf("unexpected negative side: %+v", snap.NegativeFunding)
	}
	// ETH has the larger |CVD| and leads.
	if snap.CVDLeaders[0].Symbol != "ETH" {
		t.Fatalf("CVD leaders must rank by magnitude: %+v", snap.CVDLeaders)
	}
}

func TestBuildSnapshotCapsLists(t *testing.T) {
	resp := model.SentimentResponse{}
	for i := 0; i < 8; i++ {
		resp.Data = append(resp.Data, model.SymbolAggregate{
			Symbol:              string(rune('A' + i)),
			FundingRateWeighted: dec("0.0001"),
			CVD:                 dec("10"),
		})
		resp.Signals = append(resp.Signals, model.Signal{Symbol: string(rune('A' + i))})
	}

	snap := BuildSnapshot(resp)
	if len(snap.PositiveFunding) != 5 || len(snap.CVDLeaders) != 5 || len(snap.StrongestSignals) != 5 {
		t.Fatalf("snapshot lists must cap at 5: %d/%d/%d",
			len(snap.PositiveFunding), len(snap.CVDLeaders), len(snap.StrongestSignals))
	}
}
