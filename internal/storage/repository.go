package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrNotConfigured indicates the storage pool was not initialised.
var ErrNotConfigured = errors.New("storage: pool not configured")

const (
	upsertMarketSnapshotSQL = `INSERT INTO market_snapshots (
        bucket_ts,
        total_symbols,
        signals_generated,
        avg_funding_rate,
        total_open_interest,
        positive_count,
        negative_count,
        payload
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts) DO UPDATE
    SET
        total_symbols       = EXCLUDED.total_symbols,
        signals_generated   = EXCLUDED.signals_generated,
        avg_funding_rate    = EXCLUDED.avg_funding_rate,
        total_open_interest = EXCLUDED.total_open_interest,
        positive_count      = EXCLUDED.positive_count,
        negative_count      = EXCLUDED.negative_count,
        payload             = EXCLUDED.payload;`

	listRecentMarketSnapshotsSQL = `SELECT
        bucket_ts,
        total_symbols,
        signals_generated,
        avg_funding_rate,
        total_open_interest,
        positive_count,
        negative_count,
        payload,
        created_at
    FROM market_snapshots
    ORDER BY bucket_ts DESC
    LIMIT $1;`

	countMarketSnapshotsSQL = `SELECT COUNT(*) FROM market_snapshots;`

	upsertSymbolSnapshotSQL = `INSERT INTO symbol_snapshots (
        bucket_ts,
        symbol,
        funding_rate_avg,
        funding_rate_weighted,
        total_open_interest,
        weighted_price,
        cvd,
        funding_spread
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    ON CONFLICT (bucket_ts, symbol) DO UPDATE
    SET
        funding_rate_avg      = EXCLUDED.funding_rate_avg,
        funding_rate_weighted = EXCLUDED.funding_rate_weighted,
        total_open_interest   = EXCLUDED.total_open_interest,
        weighted_price        = EXCLUDED.weighted_price,
        cvd                   = EXCLUDED.cvd,
        funding_spread        = EXCLUDED.funding_spread;`

	listSymbolHistorySQL = `SELECT
        bucket_ts,
        symbol,
        funding_rate_avg,
        funding_rate_weighted,
        total_open_interest,
        weighted_price,
        cvd,
        funding_spread,
        created_at
    FROM symbol_snapshots
    WHERE symbol = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	insertSignalEventSQL = `INSERT INTO signal_events (
        bucket_ts,
        symbol,
        signal_type,
        strength,
        funding_rate,
        cvd,
        open_interest
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, symbol) DO UPDATE
    SET signal_type   = EXCLUDED.signal_type,
        strength      = EXCLUDED.strength,
        funding_rate  = EXCLUDED.funding_rate,
        cvd           = EXCLUDED.cvd,
        open_interest = EXCLUDED.open_interest
    RETURNING id, bucket_ts, symbol, signal_type, strength, funding_rate, cvd, open_interest, created_at;`

	listRecentSignalEventsSQL = `SELECT
        id,
        bucket_ts,
        symbol,
        signal_type,
        strength,
        funding_rate,
        cvd,
        open_interest,
        created_at
    FROM signal_events
    ORDER BY created_at DESC
    LIMIT $1;`

	lastSignalEventForSymbolSQL = `SELECT
        id,
        bucket_ts,
        symbol,
        signal_type,
        strength,
        funding_rate,
        cvd,
        open_interest,
        created_at
    FROM signal_events
    WHERE symbol = $1
    ORDER BY created_at DESC
    LIMIT 1;`

	deleteSignalEventsBeforeSQL = `DELETE FROM signal_events WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryLockSQL    = `SELECT pg_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// schemaLockKey serialises schema bootstrap across instances sharing a
// database.
const schemaLockKey int64 = 0x70657270736b6f70

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS market_snapshots (
        bucket_ts           TIMESTAMPTZ PRIMARY KEY,
        total_symbols       INTEGER     NOT NULL,
        signals_generated   INTEGER     NOT NULL,
        avg_funding_rate    NUMERIC     NOT NULL,
        total_open_interest NUMERIC     NOT NULL,
        positive_count      INTEGER     NOT NULL,
        negative_count      INTEGER     NOT NULL,
        payload             JSONB       NOT NULL,
        created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE TABLE IF NOT EXISTS symbol_snapshots (
        bucket_ts             TIMESTAMPTZ NOT NULL,
        symbol                TEXT        NOT NULL,
        funding_rate_avg      NUMERIC     NOT NULL,
        funding_rate_weighted NUMERIC     NOT NULL,
        total_open_interest   NUMERIC     NOT NULL,
        weighted_price        NUMERIC     NOT NULL,
        cvd                   NUMERIC     NOT NULL,
        funding_spread        NUMERIC     NOT NULL,
        created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
        PRIMARY KEY (bucket_ts, symbol)
    );`,
	`CREATE INDEX IF NOT EXISTS symbol_snapshots_symbol_bucket_idx
        ON symbol_snapshots (symbol, bucket_ts);`,
	`CREATE TABLE IF NOT EXISTS signal_events (
        id            BIGSERIAL   PRIMARY KEY,
        bucket_ts     TIMESTAMPTZ NOT NULL,
        symbol        TEXT        NOT NULL,
        signal_type   TEXT        NOT NULL,
        strength      NUMERIC     NOT NULL,
        funding_rate  NUMERIC     NOT NULL,
        cvd           NUMERIC     NOT NULL,
        open_interest NUMERIC     NOT NULL,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (bucket_ts, symbol)
    );`,
	`CREATE INDEX IF NOT EXISTS signal_events_symbol_created_idx
        ON signal_events (symbol, created_at DESC);`,
}

// SnapshotStore defines operations for cycle archive persistence. The archive
// is write-only for the live pipeline; only the inspection commands read it.
type SnapshotStore interface {
	UpsertMarketSnapshot(ctx context.Context, snap MarketSnapshot) error
	UpsertSymbolSnapshots(ctx context.Context, snaps []SymbolSnapshot) error
	ListRecentMarketSnapshots(ctx context.Context, limit int) ([]MarketSnapshot, error)
	ListSymbolHistory(ctx context.Context, symbol string, from, to time.Time) ([]SymbolSnapshot, error)
	CountMarketSnapshots(ctx context.Context) (int64, error)
}

// SignalStore defines operations for signal event auditing.
type SignalStore interface {
	InsertSignalEvent(ctx context.Context, event SignalEvent) (SignalEvent, error)
	ListRecentSignalEvents(ctx context.Context, limit int) ([]SignalEvent, error)
	LastSignalEventForSymbol(ctx context.Context, symbol string) (SignalEvent, bool, error)
	DeleteSignalEventsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to the cycle archive and signal events.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func. Used so only one monitor instance archives a given cycle.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// EnsureSchema creates the archive tables when they do not exist yet. The
// blocking advisory lock keeps concurrent instances from racing the DDL.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, advisoryLockSQL, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	defer func() {
		_, _ = conn.Exec(ctx, advisoryUnlockSQL, schemaLockKey)
	}()

	for _, stmt := range schemaStatements {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMarketSnapshot persists or updates one archived cycle.
func (s *Store) UpsertMarketSnapshot(ctx context.Context, snap MarketSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertMarketSnapshotSQL,
		snap.Bucket,
		snap.TotalSymbols,
		snap.SignalsGenerated,
		snap.AvgFundingRate.String(),
		snap.TotalOpenInterest.String(),
		snap.PositiveCount,
		snap.NegativeCount,
		[]byte(snap.Payload),
	)
	if execErr != nil {
		return fmt.Errorf("upsert market snapshot: %w", execErr)
	}
	return nil
}

// UpsertSymbolSnapshots persists the per-symbol rows of one cycle.
func (s *Store) UpsertSymbolSnapshots(ctx context.Context, snaps []SymbolSnapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		batch.Queue(upsertSymbolSnapshotSQL,
			snap.Bucket,
			snap.Symbol,
			snap.FundingRateAvg.String(),
			snap.FundingRateWeighted.String(),
			snap.TotalOpenInterest.String(),
			snap.WeightedPrice.String(),
			snap.CVD.String(),
			snap.FundingSpread.String(),
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()
	for range snaps {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert symbol snapshot: %w", execErr)
		}
	}
	return nil
}

// ListRecentMarketSnapshots lists cycles ordered by descending bucket.
func (s *Store) ListRecentMarketSnapshots(ctx context.Context, limit int) ([]MarketSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentMarketSnapshotsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent market snapshots: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]MarketSnapshot, 0, limit)
	for rows.Next() {
		snap, scanErr := scanMarketSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// ListSymbolHistory lists one symbol's archived rows in a time window.
func (s *Store) ListSymbolHistory(ctx context.Context, symbol string, from, to time.Time) ([]SymbolSnapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSymbolHistorySQL, symbol, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list symbol history: %w", queryErr)
	}
	defer rows.Close()

	snaps := make([]SymbolSnapshot, 0)
	for rows.Next() {
		snap, scanErr := scanSymbolSnapshot(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		snaps = append(snaps, snap)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return snaps, nil
}

// CountMarketSnapshots counts archived cycles.
func (s *Store) CountMarketSnapshots(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countMarketSnapshotsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count market snapshots: %w", scanErr)
	}
	return count, nil
}

// InsertSignalEvent persists an emitted signal.
func (s *Store) InsertSignalEvent(ctx context.Context, event SignalEvent) (SignalEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return SignalEvent{}, err
	}

	row := pool.QueryRow(ctx, insertSignalEventSQL,
		event.Bucket,
		event.Symbol,
		event.SignalType,
		event.Strength.String(),
		event.FundingRate.String(),
		event.CVD.String(),
		event.OpenInterest.String(),
	)

	rec, scanErr := scanSignalEventRow(row)
	if scanErr != nil {
		return SignalEvent{}, fmt.Errorf("insert signal event: %w", scanErr)
	}
	return rec, nil
}

// ListRecentSignalEvents lists most recent signal events.
func (s *Store) ListRecentSignalEvents(ctx context.Context, limit int) ([]SignalEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentSignalEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent signal events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]SignalEvent, 0, limit)
	for rows.Next() {
		rec, scanErr := scanSignalEventRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// LastSignalEventForSymbol returns the newest event for one symbol, used to
// seed alert cooldowns after a restart.
func (s *Store) LastSignalEventForSymbol(ctx context.Context, symbol string) (SignalEvent, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return SignalEvent{}, false, err
	}

	row := pool.QueryRow(ctx, lastSignalEventForSymbolSQL, symbol)
	rec, scanErr := scanSignalEventRow(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return SignalEvent{}, false, nil
		}
		return SignalEvent{}, false, fmt.Errorf("last signal event: %w", scanErr)
	}
	return rec, true, nil
}

// DeleteSignalEventsBefore removes historical events.
func (s *Store) DeleteSignalEventsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteSignalEventsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete signal events before: %w", execErr)
	}
	return nil
}

func scanMarketSnapshot(rows pgx.Rows) (MarketSnapshot, error) {
	var snap MarketSnapshot
	var avgFundingStr, totalOIStr string
	var payload []byte

	if err := rows.Scan(
		&snap.Bucket,
		&snap.TotalSymbols,
		&snap.SignalsGenerated,
		&avgFundingStr,
		&totalOIStr,
		&snap.PositiveCount,
		&snap.NegativeCount,
		&payload,
		&snap.CreatedAt,
	); err != nil {
		return MarketSnapshot{}, err
	}

	var err error
	if snap.AvgFundingRate, err = decimal.NewFromString(avgFundingStr); err != nil {
		return MarketSnapshot{}, fmt.Errorf("parse avg funding rate: %w", err)
	}
	if snap.TotalOpenInterest, err = decimal.NewFromString(totalOIStr); err != nil {
		return MarketSnapshot{}, fmt.Errorf("parse total open interest: %w", err)
	}
	snap.Payload = payload
	return snap, nil
}

func scanSymbolSnapshot(rows pgx.Rows) (SymbolSnapshot, error) {
	var snap SymbolSnapshot
	var avg, weighted, oi, price, cvd, spread string

	if err := rows.Scan(
		&snap.Bucket,
		&snap.Symbol,
		&avg,
		&weighted,
		&oi,
		&price,
		&cvd,
		&spread,
		&snap.CreatedAt,
	); err != nil {
		return SymbolSnapshot{}, err
	}

	fields := []struct {
		dst  *decimal.Decimal
		src  string
		name string
	}{
		{&snap.FundingRateAvg, avg, "funding rate avg"},
		{&snap.FundingRateWeighted, weighted, "funding rate weighted"},
		{&snap.TotalOpenInterest, oi, "total open interest"},
		{&snap.WeightedPrice, price, "weighted price"},
		{&snap.CVD, cvd, "cvd"},
		{&snap.FundingSpread, spread, "funding spread"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.src)
		if err != nil {
			return SymbolSnapshot{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return snap, nil
}

func scanSignalEventRow(row pgx.Row) (SignalEvent, error) {
	var rec SignalEvent
	var strength, funding, cvd, oi string

	if err := row.Scan(
		&rec.ID,
		&rec.Bucket,
		&rec.Symbol,
		&rec.SignalType,
		&strength,
		&funding,
		&cvd,
		&oi,
		&rec.CreatedAt,
	); err != nil {
		return SignalEvent{}, err
	}

	fields := []struct {
		dst  *decimal.Decimal
		src  string
		name string
	}{
		{&rec.Strength, strength, "strength"},
		{&rec.FundingRate, funding, "funding rate"},
		{&rec.CVD, cvd, "cvd"},
		{&rec.OpenInterest, oi, "open interest"},
	}
	for _, f := range fields {
		value, err := decimal.NewFromString(f.src)
		if err != nil {
			return SignalEvent{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = value
	}
	return rec, nil
}
