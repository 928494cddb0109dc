package cvd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const bybitDefaultBaseURL = "https://api.bybit.com"

// BybitKlines pulls linear-perp candles from the Bybit v5 kline endpoint,
// the reference venue for CVD estimation.
type BybitKlines struct {
	client  *http.Client
	baseURL string
}

// NewBybitKlines constructs the live candle source.
func NewBybitKlines(baseURL string, timeout time.Duration) *BybitKlines {
	if baseURL == "" {
		baseURL = bybitDefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &BybitKlines{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// Klines implements KlineSource. Bybit rows are
// [startTime, open, high, low, close, volume, turnover] as strings.
func (b *BybitKlines) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	end := time.Now().UnixMilli()
	start := end - intervalMillis(interval)*int64(limit)
	url := fmt.Sprintf(
		"%s/v5/market/kline?category=linear&symbol=%s&interval=%s&start=%d&end=%d&limit=%d",
		b.baseURL, symbol, interval, start, end, limit,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload bybitKlineResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	if payload.RetCode != 0 {
		return nil, fmt.Errorf("bybit error %d: %s", payload.RetCode, payload.RetMsg)
	}

	candles := make([]Candle, 0, len(payload.Result.List))
	for _, row := range payload.Result.List {
		if len(row) < 6 {
			continue
		}
		candle, err := parseCandle(row)
		if err != nil {
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []string) (Candle, error) {
	fields := make([]decimal.Decimal, 5)
	for i, idx := range []int{1, 2, 3, 4, 5} {
		d, err := decimal.NewFromString(row[idx])
		if err != nil {
			return Candle{}, err
		}
		fields[i] = d
	}
	return Candle{Open: fields[0], High: fields[1], Low: fields[2], Close: fields[3], Volume: fields[4]}, nil
}

func intervalMillis(interval string) int64 {
	switch interval {
	case "1":
		return 60_000
	case "3":
		return 3 * 60_000
	case "5":
		return 5 * 60_000
	case "15":
		return 15 * 60_000
	case "30":
		return 30 * 60_000
	case "60":
		return 60 * 60_000
	case "120":
		return 120 * 60_000
	case "240":
		return 240 * 60_000
	case "360":
		return 360 * 60_000
	case "720":
		return 720 * 60_000
	case "D":
		return 24 * 60 * 60_000
	default:
		return 15 * 60_000
	}
}

var _ KlineSource = (*BybitKlines)(nil)
