// Package app wires configuration into the concrete pipeline and backs each
// CLI command.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"perpscope/internal/ai"
	"perpscope/internal/alerting"
	"perpscope/internal/config"
	"perpscope/internal/cvd"
	"perpscope/internal/exchange"
	"perpscope/internal/scheduler"
	"perpscope/internal/server"
	"perpscope/internal/service"
	"perpscope/internal/storage"
)

func init() {
	// Rates and notionals serialize as JSON numbers, matching what upstream
	// dashboards already parse.
	decimal.MarshalJSONWithoutQuotes = true
}

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newAdapters() []exchange.Adapter {
	ex := a.Config.Exchanges
	opts := func(e config.ExchangeConfig) exchange.Options {
		return exchange.Options{
			BaseURL:   e.BaseURL,
			Timeout:   e.RequestTimeout,
			UserAgent: ex.UserAgent,
		}
	}

	adapters := make([]exchange.Adapter, 0, 5)
	if ex.Binance.Enabled {
		adapters = append(adapters, exchange.NewBinance(opts(ex.Binance), a.Logger))
	}
	if ex.Bybit.Enabled {
		adapters = append(adapters, exchange.NewBybit(opts(ex.Bybit), a.Logger))
	}
	if ex.Hyperliquid.Enabled {
		adapters = append(adapters, exchange.NewHyperliquid(opts(ex.Hyperliquid), a.Logger))
	}
	if ex.EdgeX.Enabled {
		adapters = append(adapters, exchange.NewEdgeX(opts(ex.EdgeX), a.Logger))
	}
	if ex.Lighter.Enabled {
		adapters = append(adapters, exchange.NewLighter(exchange.LighterOptions{
			Options: exchange.Options{
				BaseURL:   ex.Lighter.BaseURL,
				Timeout:   ex.Lighter.RequestTimeout,
				UserAgent: ex.UserAgent,
			},
			WSURL: ex.Lighter.WSURL,
		}, a.Logger))
	}
	return adapters
}

func (a *App) newMarket() *service.Market {
	estimator := cvd.NewEstimator(
		cvd.NewBybitKlines(a.Config.Exchanges.Bybit.BaseURL, a.Config.Exchanges.Bybit.RequestTimeout),
		cvd.Options{
			Interval: a.Config.CVD.Interval,
			Limit:    a.Config.CVD.Limit,
			CacheTTL: a.Config.CVD.CacheTTL,
		},
		a.Logger,
	)

	return service.NewMarket(a.newAdapters(), estimator, service.Options{
		MinOpenInterest: decimal.NewFromFloat(a.Config.Filter.MinOpenInterestUSD),
		TopSymbols:      a.Config.Filter.TopSymbols,
		MinCombinedAPY:  decimal.NewFromFloat(a.Config.Arbitrage.MinCombinedAPY),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newRelay() *ai.Client {
	if !a.Config.AI.Enabled {
		return nil
	}
	return ai.NewClient(ai.Options{
		BaseURL:         a.Config.AI.BaseURL,
		APIKey:          a.Config.AI.APIKey,
		Model:           a.Config.AI.Model,
		Timeout:         a.Config.AI.RequestTimeout,
		MaxOutputTokens: a.Config.AI.MaxOutputTokens,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ensure database schema: %w", err)
	}

	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Serve runs the HTTP API until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv := server.New(server.Options{
		Listen:          a.Config.Server.Listen,
		ReadTimeout:     a.Config.Server.ReadTimeout,
		WriteTimeout:    a.Config.Server.WriteTimeout,
		ShutdownTimeout: a.Config.Server.ShutdownTimeout,
	}, a.newMarket(), a.newRelay(), a.newNotifier(), a.Logger)

	a.Logger.Info().Msg("starting http api")
	err := srv.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("http api terminated with error")
		return err
	}
	a.Logger.Info().Msg("http api stopped")
	return nil
}

// Monitor runs the periodic refresh loop until interrupted.
func (a *App) Monitor(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; cycle archive disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: a.Config.Scheduler.RunImmediately,
	}, a.Logger)

	var notifier alerting.Notifier
	if a.Config.Alerting.Enabled {
		notifier = a.newNotifier()
		if notifier == nil {
			a.Logger.Warn().Msg("alerting enabled but no channel configured")
		}
	}

	var snapshots storage.SnapshotStore
	var signals storage.SignalStore
	if store != nil {
		snapshots = store
		signals = store
	}

	mon := service.NewMonitor(a.newMarket(), sched, snapshots, signals, notifier, service.MonitorOptions{
		MinStrength:     decimal.NewFromFloat(a.Config.Alerting.MinStrength),
		Cooldown:        a.Config.Alerting.Cooldown,
		AdvisoryLockKey: a.Config.Scheduler.AdvisoryLockKey,
		Retention:       a.Config.Database.Retention,
	}, a.Logger)

	a.Logger.Info().Msg("starting monitor loop")
	err = mon.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("monitor terminated with error")
		return err
	}
	a.Logger.Info().Msg("monitor stopped")
	return nil
}

// RatesOptions configure the rates command.
type RatesOptions struct {
	Symbol string
	Limit  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
	// Signals switches the listing from archived cycles to recent signal
	// events.
	Signals bool
}

// ExportOptions hold parameters for exporting archived symbol history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SignalTestOptions configure the one-shot pipeline run.
type SignalTestOptions struct {
	Notify bool
}
