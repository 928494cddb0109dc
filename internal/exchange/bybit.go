package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/calc"
	"perpscope/internal/model"
)

// Bybit unit contract: v5 tickers report fundingRate as a decimal applied
// every 8 hours. openInterestValue is already USD notional; openInterest is
// the raw contract count.
var bybitFundingPeriodHours = decimal.NewFromInt(8)

const bybitDefaultBaseURL = "https://api.bybit.com"

// Bybit fetches linear perpetual tickers.
type Bybit struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewBybit constructs the Bybit adapter.
func NewBybit(opts Options, logger zerolog.Logger) *Bybit {
	return &Bybit{
		opts:    opts,
		client:  &http.Client{Timeout: opts.timeoutOrDefault()},
		baseURL: opts.baseURL(bybitDefaultBaseURL),
		logger:  logger.With().Str("component", "exchange_bybit").Logger(),
	}
}

// Name implements Adapter.
func (b *Bybit) Name() string { return "Bybit" }

type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []bybitTicker `json:"list"`
	} `json:"result"`
}

type bybitTicker struct {
	Symbol            string `json:"symbol"`
	LastPrice         string `json:"lastPrice"`
	IndexPrice        string `json:"indexPrice"`
	MarkPrice         string `json:"markPrice"`
	FundingRate       string `json:"fundingRate"`
	OpenInterest      string `json:"openInterest"`
	OpenInterestValue string `json:"openInterestValue"`
}

// FetchRates implements Adapter.
func (b *Bybit) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	var payload bybitTickersResponse
	url := b.baseURL + "/v5/market/tickers?category=linear"
	if err := getJSON(ctx, b.client, url, b.opts.UserAgent, &payload); err != nil {
		return nil, err
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", payload.RetCode, payload.RetMsg)
	}

	now := time.Now().UTC()
	records := make([]model.RateRecord, 0, len(payload.Result.List))
	for _, item := range payload.Result.List {
		if !strings.HasSuffix(item.Symbol, "USDT") {
			continue
		}
		native := parseDec(item.FundingRate)
		if native == nil {
			continue
		}

		mark := parseDec(item.MarkPrice)
		index := parseDec(item.IndexPrice)
		last := parseDec(item.LastPrice)
		price := calc.ReferencePrice(mark, index, last, nil, nil)

		contracts := parseDec(item.OpenInterest)
		venueUSD := parseDec(item.OpenInterestValue)
		hourly := calc.HourlyRate(*native, bybitFundingPeriodHours)

		records = append(records, model.RateRecord{
			Exchange:              b.Name(),
			Symbol:                strings.TrimSuffix(item.Symbol, "USDT") + "-PERP",
			Rate:                  hourly,
			APY:                   calc.APY(hourly),
			OpenInterest:          calc.NotionalOpenInterest(venueUSD, contracts, price),
			OpenInterestContracts: contracts,
			Price:                 price,
			MarkPrice:             mark,
			IndexPrice:            index,
			LastPrice:             last,
			Timestamp:             now,
			Interval:              "8h",
		})
	}

	b.logger.Debug().Int("markets", len(records)).Msg("bybit rates fetched")
	return applyFloor(records, minOpenInterest), nil
}

var _ Adapter = (*Bybit)(nil)
