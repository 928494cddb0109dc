// Package exchange contains one adapter per derivatives venue. Every adapter
// fetches that venue's funding and open-interest feed and maps it into
// model.RateRecord with the rate already normalized to the hourly basis.
//
// Each adapter declares the unit its venue documents for funding rates
// (decimal vs percent, native period length) and converts unconditionally.
// Units are never inferred from magnitude.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"perpscope/internal/model"
)

const defaultTimeout = 20 * time.Second

// Adapter fetches all tradable perpetual markets from one venue.
//
// minOpenInterest is an optional USD floor: records with a known open
// interest strictly below it are dropped. Records with unknown open interest
// are always kept; ambiguity favors inclusion.
type Adapter interface {
	Name() string
	FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error)
}

// Options are shared adapter knobs.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

func (o Options) timeoutOrDefault() time.Duration {
	if o.Timeout <= 0 {
		return defaultTimeout
	}
	return o.Timeout
}

func (o Options) baseURL(fallback string) string {
	if o.BaseURL == "" {
		return fallback
	}
	return strings.TrimRight(o.BaseURL, "/")
}

// getJSON issues a GET with the request context and decodes the body into out.
func getJSON(ctx context.Context, client *http.Client, url, userAgent string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// postJSON issues a POST with a JSON body and decodes the response into out.
func postJSON(ctx context.Context, client *http.Client, url, userAgent string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// applyFloor drops records whose known USD open interest is strictly below
// the floor. Unknown open interest is never grounds for exclusion.
func applyFloor(records []model.RateRecord, minOpenInterest decimal.Decimal) []model.RateRecord {
	if !minOpenInterest.IsPositive() {
		return records
	}
	kept := records[:0]
	for _, rec := range records {
		if rec.OpenInterest != nil && rec.OpenInterest.LessThan(minOpenInterest) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}

// parseDec parses a venue numeric string, returning nil for empty or
// malformed values so optional fields stay optional.
func parseDec(s string) *decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}
