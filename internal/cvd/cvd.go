// Package cvd estimates cumulative volume delta from OHLCV candles. Candle
// data stands in for the trade tape, which is too expensive to pull for a
// hundred symbols per refresh.
package cvd

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

// Candle is one OHLCV bar.
type Candle struct {
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// KlineSource fetches recent candles for a symbol on the reference venue.
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
}

var cvdScale = decimal.NewFromInt(1_000_000)

// Options tune the estimator window.
type Options struct {
	Interval string        // candle interval label, e.g. "15"
	Limit    int           // candles per window
	CacheTTL time.Duration // advisory freshness for the per-symbol cache
}

type cachedResult struct {
	result     model.CVDResult
	computedAt time.Time
}

// Estimator computes per-symbol CVD with momentum. Failures degrade to a
// neutral zero result; CVD is enrichment, never essential path.
type Estimator struct {
	source KlineSource
	opts   Options
	logger zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedResult
}

// NewEstimator constructs an Estimator over the given candle source.
func NewEstimator(source KlineSource, opts Options, logger zerolog.Logger) *Estimator {
	if opts.Interval == "" {
		opts.Interval = "15"
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	return &Estimator{
		source: source,
		opts:   opts,
		logger: logger.With().Str("component", "cvd_estimator").Logger(),
		cache:  make(map[string]cachedResult),
	}
}

// Timeframe describes the sampling window for presentation metadata.
func (e *Estimator) Timeframe() string {
	return e.opts.Interval + "min candles, " + decimal.NewFromInt(int64(e.opts.Limit)).String() + " periods"
}

// Compute returns the CVD result for one symbol. A fetch failure serves the
// previous cycle's cached value when one exists, and the neutral zero result
// otherwise; it never propagates an error.
func (e *Estimator) Compute(ctx context.Context, symbol string) model.CVDResult {
	current, err := e.window(ctx, symbol, e.opts.Limit)
	if err != nil {
		e.logger.Warn().Str("symbol", symbol).Err(err).Msg("cvd fetch failed; degrading")
		return e.stale(symbol)
	}

	// The double-length window approximates the trailing average without a
	// second time-aligned fetch.
	trailing, err := e.window(ctx, symbol, e.opts.Limit*2)
	if err != nil {
		e.logger.Warn().Str("symbol", symbol).Err(err).Msg("cvd trailing window failed; degrading")
		return e.stale(symbol)
	}

	momentum := current.Sub(trailing.Div(decimal.NewFromInt(2)))
	result := model.CVDResult{
		CVD:            current,
		Momentum:       momentum,
		IsAccelerating: momentum.IsPositive(),
	}

	e.mu.Lock()
	e.cache[symbol] = cachedResult{result: result, computedAt: time.Now()}
	e.mu.Unlock()
	return result
}

// window sums ((close-open)/(high-low))·volume over the most recent candles,
// skipping bars with no range, and scales the total down to millions.
func (e *Estimator) window(ctx context.Context, symbol string, limit int) (decimal.Decimal, error) {
	candles, err := e.source.Klines(ctx, symbol, e.opts.Interval, limit)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, candle := range candles {
		candleRange := candle.High.Sub(candle.Low)
		if candleRange.IsZero() {
			continue
		}
		delta := candle.Close.Sub(candle.Open).Div(candleRange).Mul(candle.Volume)
		total = total.Add(delta)
	}
	return total.Div(cvdScale), nil
}

// stale serves the last good result while it is still within the advisory
// TTL; otherwise the neutral zero result.
func (e *Estimator) stale(symbol string) model.CVDResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.cache[symbol]; ok && time.Since(entry.computedAt) < e.opts.CacheTTL {
		return entry.result
	}
	return model.CVDResult{CVD: decimal.Zero, Momentum: decimal.Zero}
}
