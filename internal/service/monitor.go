package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/alerting"
	"perpscope/internal/model"
	"perpscope/internal/scheduler"
	"perpscope/internal/storage"
)

// MonitorOptions tune alert emission and archiving.
type MonitorOptions struct {
	// MinStrength suppresses alerts for weak signals.
	MinStrength decimal.Decimal
	// Cooldown suppresses repeat alerts per symbol.
	Cooldown time.Duration
	// AdvisoryLockKey guards archival when several instances share a
	// database; 0 disables locking.
	AdvisoryLockKey int64
	// Retention prunes archived signal events older than this each cycle;
	// 0 keeps everything.
	Retention time.Duration
}

// Monitor drives periodic refresh cycles, archiving each one and dispatching
// signal alerts.
type Monitor struct {
	market    *Market
	scheduler *scheduler.Scheduler
	snapshots storage.SnapshotStore
	signals   storage.SignalStore
	notifier  alerting.Notifier
	opts      MonitorOptions
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	started time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time
}

// NewMonitor constructs the monitor. Store and notifier are both optional;
// nil disables that half of the loop.
func NewMonitor(market *Market, sched *scheduler.Scheduler, snapshots storage.SnapshotStore, signals storage.SignalStore, notifier alerting.Notifier, opts MonitorOptions, logger zerolog.Logger) *Monitor {
	var locker storage.AdvisoryLocker
	if l, ok := snapshots.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Monitor{
		market:    market,
		scheduler: sched,
		snapshots: snapshots,
		signals:   signals,
		notifier:  notifier,
		opts:      opts,
		logger:    logger.With().Str("component", "monitor").Logger(),
		locker:    locker,
		started:   time.Now(),
		lastAlert: make(map[string]time.Time),
	}
}

// Run begins the periodic refresh loop.
func (m *Monitor) Run(ctx context.Context) error {
	if m.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return m.scheduler.Run(ctx, m.ProcessCycle)
}

// ProcessCycle executes one refresh cycle: sentiment pipeline, archive,
// alerts. Exposed so the signal-test command can drive a single cycle.
func (m *Monitor) ProcessCycle(ctx context.Context, bucket time.Time) error {
	resp, err := m.market.Sentiment(ctx)
	if err != nil {
		return fmt.Errorf("refresh cycle: %w", err)
	}

	m.logger.Info().Time("cycle", bucket).
		Int("symbols", len(resp.Data)).
		Int("signals", len(resp.Signals)).
		Msg("cycle computed")

	m.archive(ctx, bucket, resp)
	m.dispatchAlerts(ctx, bucket, resp.Signals)
	m.prune(ctx, bucket)
	return nil
}

func (m *Monitor) prune(ctx context.Context, bucket time.Time) {
	if m.signals == nil || m.opts.Retention <= 0 {
		return
	}
	cutoff := bucket.Add(-m.opts.Retention)
	if err := m.signals.DeleteSignalEventsBefore(ctx, cutoff); err != nil {
		m.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune signal events")
	}
}

func (m *Monitor) archive(ctx context.Context, bucket time.Time, resp model.SentimentResponse) {
	if m.snapshots == nil {
		return
	}

	unlock, proceed, err := m.acquireLock(ctx)
	if err != nil {
		m.logger.Error().Err(err).Time("cycle", bucket).Msg("failed to acquire archive lock")
		return
	}
	if !proceed {
		m.logger.Debug().Time("cycle", bucket).Msg("skip archive, lock held elsewhere")
		return
	}
	if unlock != nil {
		defer unlock()
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		m.logger.Error().Err(err).Time("cycle", bucket).Msg("failed to marshal cycle payload")
		return
	}

	snap := BuildSnapshot(resp)
	market := storage.MarketSnapshot{
		Bucket:            bucket,
		TotalSymbols:      resp.Meta.TotalSymbols,
		SignalsGenerated:  resp.Meta.SignalsGenerated,
		AvgFundingRate:    snap.Totals.AvgFundingRate,
		TotalOpenInterest: snap.Totals.TotalOpenInterest,
		PositiveCount:     resp.Meta.Aggregates.PositiveFundingCount,
		NegativeCount:     resp.Meta.Aggregates.NegativeFundingCount,
		Payload:           payload,
	}
	if err := m.snapshots.UpsertMarketSnapshot(ctx, market); err != nil {
		m.logger.Error().Err(err).Time("cycle", bucket).Msg("failed to archive cycle")
		return
	}

	rows := make([]storage.SymbolSnapshot, 0, len(resp.Data))
	for _, agg := range resp.Data {
		rows = append(rows, storage.SymbolSnapshot{
			Bucket:              bucket,
			Symbol:              agg.Symbol,
			FundingRateAvg:      agg.FundingRateAvg,
			FundingRateWeighted: agg.FundingRateWeighted,
			TotalOpenInterest:   agg.TotalOpenInterest,
			WeightedPrice:       agg.WeightedPrice,
			CVD:                 agg.CVD,
			FundingSpread:       agg.FundingSpread,
		})
	}
	if err := m.snapshots.UpsertSymbolSnapshots(ctx, rows); err != nil {
		m.logger.Error().Err(err).Time("cycle", bucket).Msg("failed to archive symbol rows")
	}
}

func (m *Monitor) dispatchAlerts(ctx context.Context, bucket time.Time, signals []model.Signal) {
	if m.notifier == nil {
		return
	}

	for _, sig := range signals {
		if sig.Strength.LessThan(m.opts.MinStrength) {
			continue
		}
		m.seedCooldown(ctx, sig.Symbol)
		if !m.cooldownElapsed(sig.Symbol) {
			m.logger.Debug().Str("symbol", sig.Symbol).Msg("alert suppressed by cooldown")
			continue
		}

		if m.signals != nil {
			event := storage.SignalEvent{
				Bucket:       bucket,
				Symbol:       sig.Symbol,
				SignalType:   string(sig.Type),
				Strength:     sig.Strength,
				FundingRate:  sig.Indicators.FundingRate,
				CVD:          sig.Indicators.CVD,
				OpenInterest: sig.Indicators.OpenInterest,
			}
			if _, err := m.signals.InsertSignalEvent(ctx, event); err != nil {
				m.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to persist signal event")
			}
		}

		note := alerting.Notification{Signal: sig, Timestamp: bucket}
		if err := m.notifier.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to dispatch alert")
			continue
		}
		m.markAlerted(sig.Symbol)
	}
}

// seedCooldown loads the last persisted event the first time a symbol is
// evaluated, so a restart does not double-alert inside the window. Events
// written by this process are ignored here: a failed delivery must stay
// eligible for retry.
func (m *Monitor) seedCooldown(ctx context.Context, symbol string) {
	if m.signals == nil || m.opts.Cooldown <= 0 {
		return
	}
	m.mu.Lock()
	_, seen := m.lastAlert[symbol]
	m.mu.Unlock()
	if seen {
		return
	}

	event, found, err := m.signals.LastSignalEventForSymbol(ctx, symbol)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to load last signal event")
		return
	}
	if !found || !event.Bucket.Before(m.started) {
		return
	}

	m.mu.Lock()
	if _, dup := m.lastAlert[symbol]; !dup {
		m.lastAlert[symbol] = event.Bucket
	}
	m.mu.Unlock()
}

func (m *Monitor) cooldownElapsed(symbol string) bool {
	if m.opts.Cooldown <= 0 {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.lastAlert[symbol]
	return !ok || time.Since(last) >= m.opts.Cooldown
}

func (m *Monitor) markAlerted(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAlert[symbol] = time.Now()
}

func (m *Monitor) acquireLock(ctx context.Context) (func(), bool, error) {
	if m.opts.AdvisoryLockKey == 0 || m.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := m.locker.TryAdvisoryLock(ctx, m.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
