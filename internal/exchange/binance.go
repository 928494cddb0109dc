package exchange

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/calc"
	"perpscope/internal/model"
)

// Binance unit contract: fapi/v1/premiumIndex reports lastFundingRate as a
// decimal applied every 8 hours (documented default cadence for USDT perps).
var binanceFundingPeriodHours = decimal.NewFromInt(8)

const binanceDefaultBaseURL = "https://fapi.binance.com"

// Binance fetches USDT-margined perpetual funding from the premium index feed.
type Binance struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewBinance constructs the Binance adapter.
func NewBinance(opts Options, logger zerolog.Logger) *Binance {
	return &Binance{
		opts:    opts,
		client:  &http.Client{Timeout: opts.timeoutOrDefault()},
		baseURL: opts.baseURL(binanceDefaultBaseURL),
		logger:  logger.With().Str("component", "exchange_binance").Logger(),
	}
}

// Name implements Adapter.
func (b *Binance) Name() string { return "Binance" }

type binancePremiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// FetchRates implements Adapter.
//
// The premium index endpoint carries no open interest, so records leave with
// a nil OpenInterest and are exempt from the floor.
func (b *Binance) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	var payload []binancePremiumIndex
	if err := getJSON(ctx, b.client, b.baseURL+"/fapi/v1/premiumIndex", b.opts.UserAgent, &payload); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]model.RateRecord, 0, len(payload))
	for _, item := range payload {
		if !strings.HasSuffix(item.Symbol, "USDT") {
			continue
		}
		native := parseDec(item.LastFundingRate)
		if native == nil {
			continue
		}

		mark := parseDec(item.MarkPrice)
		index := parseDec(item.IndexPrice)
		hourly := calc.HourlyRate(*native, binanceFundingPeriodHours)

		records = append(records, model.RateRecord{
			Exchange:   b.Name(),
			Symbol:     strings.TrimSuffix(item.Symbol, "USDT") + "-PERP",
			Rate:       hourly,
			APY:        calc.APY(hourly),
			Price:      calc.ReferencePrice(mark, index, nil, nil, nil),
			MarkPrice:  mark,
			IndexPrice: index,
			Timestamp:  now,
			Interval:   "8h",
		})
	}

	b.logger.Debug().Int("markets", len(records)).Msg("binance rates fetched")
	return applyFloor(records, minOpenInterest), nil
}

var _ Adapter = (*Binance)(nil)
