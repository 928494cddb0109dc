package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// The market-stats channel is the only way Lighter publishes open interest.
// The session is short-lived on purpose: dial when the cache is stale,
// subscribe to the fixed market set, collect one stats message per market,
// then close. A hard deadline bounds the whole session.
const lighterWSSessionTimeout = 10 * time.Second

type lighterMarket struct {
	ID     int
	Symbol string
}

var lighterMarkets = []lighterMarket{
	{ID: 0, Symbol: "ETH"},
	{ID: 1, Symbol: "BTC"},
	{ID: 2, Symbol: "SOL"},
	{ID: 3, Symbol: "DOGE"},
	{ID: 4, Symbol: "1000PEPE"},
}

type lighterWSMessage struct {
	Type        string              `json:"type"`
	Channel     string              `json:"channel"`
	MarketStats *lighterMarketStats `json:"market_stats"`
}

type lighterMarketStats struct {
	MarketID       int    `json:"market_id"`
	OpenInterest   string `json:"open_interest"`
	LastTradePrice string `json:"last_trade_price"`
}

// fetchOpenInterest runs one bounded websocket session and returns USD open
// interest per base symbol. Lighter reports open interest in base units, so
// each value is multiplied by the last trade price.
func (l *Lighter) fetchOpenInterest(ctx context.Context) (map[string]decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, lighterWSSessionTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", l.wsURL, err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)

	symbolByID := make(map[int]string, len(lighterMarkets))
	for _, market := range lighterMarkets {
		symbolByID[market.ID] = market.Symbol
		sub := map[string]string{
			"type":    "subscribe",
			"channel": fmt.Sprintf("market_stats/%d", market.ID),
		}
		if err := conn.WriteJSON(sub); err != nil {
			return nil, fmt.Errorf("subscribe market %d: %w", market.ID, err)
		}
	}

	values := make(map[string]decimal.Decimal, len(lighterMarkets))
	for len(values) < len(lighterMarkets) {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Deadline or close: return what was collected, if anything.
			if len(values) > 0 {
				break
			}
			return nil, fmt.Errorf("read market stats: %w", err)
		}

		var msg lighterWSMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.MarketStats == nil {
			continue
		}
		symbol, ok := symbolByID[msg.MarketStats.MarketID]
		if !ok {
			continue
		}

		contracts := parseDec(msg.MarketStats.OpenInterest)
		price := parseDec(msg.MarketStats.LastTradePrice)
		if contracts == nil || price == nil || !price.IsPositive() {
			continue
		}
		values[symbol] = contracts.Mul(*price)
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return values, nil
}
