package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/calc"
	"perpscope/internal/model"
)

// Lighter unit contract: the funding-rates endpoint reports an hourly rate in
// percent form (0.01 means 0.01%/h, clamped to ±0.5% by the venue), so the
// adapter divides by 100. The REST feed carries no open interest; that comes
// from the market-stats push subscription, cached between refresh cycles.
const (
	lighterDefaultBaseURL = "https://mainnet.zklighter.elliot.ai"
	lighterOICacheTTL     = 55 * time.Second
)

var lighterPercentDivisor = decimal.NewFromInt(100)

// oiFetchFunc produces a fresh per-symbol USD open interest map.
type oiFetchFunc func(ctx context.Context) (map[string]decimal.Decimal, error)

// oiCache holds the last push-subscription snapshot with an explicit
// staleness guard. On refresh failure it keeps serving the previous snapshot;
// freshness here is advisory, not a correctness requirement.
type oiCache struct {
	mu              sync.Mutex
	values          map[string]decimal.Decimal
	lastRefreshedAt time.Time
	ttl             time.Duration
	fetch           oiFetchFunc
}

func newOICache(ttl time.Duration, fetch oiFetchFunc) *oiCache {
	return &oiCache{ttl: ttl, fetch: fetch}
}

// snapshot returns the cached map, refreshing first when stale. The returned
// error reports a failed refresh even when stale values were served.
func (c *oiCache) snapshot(ctx context.Context) (map[string]decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.lastRefreshedAt) < c.ttl && c.values != nil {
		return c.values, nil
	}

	fresh, err := c.fetch(ctx)
	if err != nil {
		return c.values, err
	}
	c.values = fresh
	c.lastRefreshedAt = time.Now()
	return c.values, nil
}

// LighterOptions extend the shared options with the websocket endpoint used
// for open interest.
type LighterOptions struct {
	Options
	WSURL string
}

// Lighter fetches funding over REST and open interest over the websocket
// market-stats channel.
type Lighter struct {
	opts    Options
	client  *http.Client
	baseURL string
	wsURL   string
	oi      *oiCache
	logger  zerolog.Logger
}

// NewLighter constructs the Lighter adapter with the live websocket
// open-interest source. An empty WSURL derives the stream endpoint from the
// REST base URL.
func NewLighter(opts LighterOptions, logger zerolog.Logger) *Lighter {
	l := &Lighter{
		opts:    opts.Options,
		client:  &http.Client{Timeout: opts.timeoutOrDefault()},
		baseURL: opts.baseURL(lighterDefaultBaseURL),
		wsURL:   opts.WSURL,
		logger:  logger.With().Str("component", "exchange_lighter").Logger(),
	}
	if l.wsURL == "" {
		l.wsURL = strings.Replace(l.baseURL, "https://", "wss://", 1) + "/stream"
	}
	l.oi = newOICache(lighterOICacheTTL, l.fetchOpenInterest)
	return l
}

// Name implements Adapter.
func (l *Lighter) Name() string { return "Lighter" }

type lighterFundingResponse struct {
	FundingRates []struct {
		Exchange string          `json:"exchange"`
		Symbol   string          `json:"symbol"`
		Rate     decimal.Decimal `json:"rate"`
	} `json:"funding_rates"`
}

// FetchRates implements Adapter.
func (l *Lighter) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	var payload lighterFundingResponse
	if err := getJSON(ctx, l.client, l.baseURL+"/api/v1/funding-rates", l.opts.UserAgent, &payload); err != nil {
		return nil, err
	}
	if payload.FundingRates == nil {
		return nil, fmt.Errorf("unexpected response format: missing funding_rates")
	}

	openInterest, err := l.oi.snapshot(ctx)
	if err != nil {
		// OI is enrichment; stale or absent values must not fail funding.
		l.logger.Warn().Err(err).Msg("open interest refresh failed; serving cached values")
	}

	now := time.Now().UTC()
	records := make([]model.RateRecord, 0, len(payload.FundingRates))
	for _, item := range payload.FundingRates {
		if item.Exchange != "lighter" || item.Symbol == "" {
			continue
		}

		hourly := item.Rate.Div(lighterPercentDivisor)
		rec := model.RateRecord{
			Exchange:  l.Name(),
			Symbol:    item.Symbol + "-PERP",
			Rate:      hourly,
			APY:       calc.APY(hourly),
			Timestamp: now,
			Interval:  "1h",
		}
		if oi, ok := openInterest[item.Symbol]; ok {
			v := oi
			rec.OpenInterest = &v
		}
		records = append(records, rec)
	}

	l.logger.Debug().Int("markets", len(records)).Msg("lighter rates fetched")
	return applyFloor(records, minOpenInterest), nil
}

var _ Adapter = (*Lighter)(nil)
