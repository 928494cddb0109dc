package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/calc"
	"perpscope/internal/model"
)

// Hyperliquid unit contract: the info endpoint reports funding as a decimal
// that is already hourly. Open interest arrives in contracts and is valued at
// the resolved reference price.
const hyperliquidDefaultBaseURL = "https://api.hyperliquid.xyz"

// Hyperliquid fetches the combined meta + asset context feed.
type Hyperliquid struct {
	opts    Options
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

// NewHyperliquid constructs the Hyperliquid adapter.
func NewHyperliquid(opts Options, logger zerolog.Logger) *Hyperliquid {
	return &Hyperliquid{
		opts:    opts,
		client:  &http.Client{Timeout: opts.timeoutOrDefault()},
		baseURL: opts.baseURL(hyperliquidDefaultBaseURL),
		logger:  logger.With().Str("component", "exchange_hyperliquid").Logger(),
	}
}

// Name implements Adapter.
func (h *Hyperliquid) Name() string { return "Hyperliquid" }

type hyperliquidMeta struct {
	Universe []struct {
		Name string `json:"name"`
	} `json:"universe"`
}

type hyperliquidAssetCtx struct {
	Funding      string   `json:"funding"`
	OpenInterest string   `json:"openInterest"`
	MarkPx       string   `json:"markPx"`
	OraclePx     string   `json:"oraclePx"`
	MidPx        string   `json:"midPx"`
	ImpactPxs    []string `json:"impactPxs"`
}

// FetchRates implements Adapter.
//
// The response is a two-element array: market metadata followed by one asset
// context per market, index-aligned.
func (h *Hyperliquid) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	var raw []json.RawMessage
	payload := map[string]string{"type": "metaAndAssetCtxs"}
	if err := postJSON(ctx, h.client, h.baseURL+"/info", h.opts.UserAgent, payload, &raw); err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("unexpected response shape: %d elements", len(raw))
	}

	var meta hyperliquidMeta
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var ctxs []hyperliquidAssetCtx
	if err := json.Unmarshal(raw[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}

	now := time.Now().UTC()
	records := make([]model.RateRecord, 0, len(meta.Universe))
	for i, market := range meta.Universe {
		if i >= len(ctxs) {
			break
		}
		assetCtx := ctxs[i]
		hourly := parseDec(assetCtx.Funding)
		if hourly == nil {
			continue
		}

		mark := parseDec(assetCtx.MarkPx)
		oracle := parseDec(assetCtx.OraclePx)
		last := parseDec(assetCtx.MidPx)
		var impact *decimal.Decimal
		if len(assetCtx.ImpactPxs) > 0 {
			impact = parseDec(assetCtx.ImpactPxs[0])
		}
		price := calc.ReferencePrice(mark, nil, last, oracle, impact)
		contracts := parseDec(assetCtx.OpenInterest)

		records = append(records, model.RateRecord{
			Exchange:              h.Name(),
			Symbol:                market.Name + "-PERP",
			Rate:                  *hourly,
			APY:                   calc.APY(*hourly),
			OpenInterest:          calc.NotionalOpenInterest(nil, contracts, price),
			OpenInterestContracts: contracts,
			Price:                 price,
			MarkPrice:             mark,
			OraclePrice:           oracle,
			LastPrice:             last,
			ImpactPrice:           impact,
			Timestamp:             now,
			Interval:              "1h",
		})
	}

	h.logger.Debug().Int("markets", len(records)).Msg("hyperliquid rates fetched")
	return applyFloor(records, minOpenInterest), nil
}

var _ Adapter = (*Hyperliquid)(nil)
