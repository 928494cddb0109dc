package exchange

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/calc"
	"perpscope/internal/fanout"
	"perpscope/internal/model"
)

// edgeX unit contract: getLatestFundingRate reports fundingRate as a decimal
// applied every fundingRateIntervalMin minutes (240 in practice). The feed is
// per-contract, so the adapter fans out over a fixed contract table.
const edgexDefaultBaseURL = "https://pro.edgex.exchange"

type edgexContract struct {
	ID     string
	Symbol string
}

var edgexContracts = []edgexContract{
	{ID: "10000001", Symbol: "BTC-PERP"},
	{ID: "10000002", Symbol: "ETH-PERP"},
}

// EdgeX fetches funding per known contract id.
type EdgeX struct {
	opts      Options
	client    *http.Client
	baseURL   string
	contracts []edgexContract
	logger    zerolog.Logger
}

// NewEdgeX constructs the edgeX adapter.
func NewEdgeX(opts Options, logger zerolog.Logger) *EdgeX {
	return &EdgeX{
		opts:      opts,
		client:    &http.Client{Timeout: opts.timeoutOrDefault()},
		baseURL:   opts.baseURL(edgexDefaultBaseURL),
		contracts: edgexContracts,
		logger:    logger.With().Str("component", "exchange_edgex").Logger(),
	}
}

// Name implements Adapter.
func (e *EdgeX) Name() string { return "edgeX" }

type edgexFundingResponse struct {
	Code string `json:"code"`
	Data []struct {
		ContractID             string `json:"contractId"`
		FundingRate            string `json:"fundingRate"`
		FundingRateIntervalMin string `json:"fundingRateIntervalMin"`
		IndexPrice             string `json:"indexPrice"`
	} `json:"data"`
}

// FetchRates implements Adapter. A contract with no active data contributes
// nothing; a transport failure on every contract fails the adapter.
func (e *EdgeX) FetchRates(ctx context.Context, minOpenInterest decimal.Decimal) ([]model.RateRecord, error) {
	tasks := make([]fanout.Task[*model.RateRecord], 0, len(e.contracts))
	for _, contract := range e.contracts {
		contract := contract
		tasks = append(tasks, fanout.Task[*model.RateRecord]{
			Name: "edgex:" + contract.Symbol,
			Run: func(ctx context.Context) (*model.RateRecord, error) {
				return e.fetchContract(ctx, contract)
			},
		})
	}

	results := fanout.Gather(ctx, tasks)
	settled, failed := fanout.Partition(results, e.logger)
	if failed == len(e.contracts) {
		return nil, fmt.Errorf("all %d contract requests failed", failed)
	}

	records := make([]model.RateRecord, 0, len(settled))
	for _, rec := range settled {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return applyFloor(records, minOpenInterest), nil
}

func (e *EdgeX) fetchContract(ctx context.Context, contract edgexContract) (*model.RateRecord, error) {
	url := fmt.Sprintf("%s/api/v1/public/funding/getLatestFundingRate?contractId=%s", e.baseURL, contract.ID)

	var payload edgexFundingResponse
	if err := getJSON(ctx, e.client, url, e.opts.UserAgent, &payload); err != nil {
		return nil, err
	}
	if payload.Code != "SUCCESS" {
		return nil, fmt.Errorf("edgex error code %q", payload.Code)
	}
	if len(payload.Data) == 0 {
		// Contract not active; not an error.
		return nil, nil
	}

	item := payload.Data[0]
	native := parseDec(item.FundingRate)
	if native == nil {
		return nil, fmt.Errorf("contract %s: missing funding rate", contract.ID)
	}

	intervalMin := int64(240)
	if parsed := parseDec(item.FundingRateIntervalMin); parsed != nil && parsed.IsPositive() {
		intervalMin = parsed.IntPart()
	}

	index := parseDec(item.IndexPrice)
	hourly := calc.HourlyRateFromMinutes(*native, intervalMin)

	rec := model.RateRecord{
		Exchange:   e.Name(),
		Symbol:     contract.Symbol,
		Rate:       hourly,
		APY:        calc.APY(hourly),
		Price:      calc.ReferencePrice(nil, index, nil, nil, nil),
		IndexPrice: index,
		Timestamp:  time.Now().UTC(),
		Interval:   fmt.Sprintf("%dh", intervalMin/60),
	}
	return &rec, nil
}

var _ Adapter = (*EdgeX)(nil)
