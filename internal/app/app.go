package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/bot"
	"github.com/kayi2215/bot/internal/collector"
	"github.com/kayi2215/bot/internal/config"
	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/metrics"
	"github.com/kayi2215/bot/internal/monitor"
	"github.com/kayi2215/bot/internal/storage"
	"github.com/kayi2215/bot/internal/strategy"
	"github.com/kayi2215/bot/internal/updater"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *exchange.Client {
	cfg := a.Config.Binance
	return exchange.New(exchange.Options{
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		Timeout:   cfg.RequestTimeout,
		UserAgent: cfg.UserAgent,
		Testnet:   cfg.Testnet,
	}, a.Logger)
}

func (a *App) newRecorder() *metrics.Recorder {
	mon := a.Config.Monitoring
	return metrics.NewRecorder(metrics.Options{
		Exchange:         "binance",
		Testnet:          a.Config.Binance.Testnet,
		Capacity:         mon.HistorySize,
		SnapshotPath:     mon.SnapshotPath,
		SnapshotInterval: mon.SnapshotInterval,
	}, a.Logger)
}

func (a *App) newMonitor(client *exchange.Client, rec *metrics.Recorder, sink monitor.MetricSink) (*monitor.Service, error) {
	mon := a.Config.Monitoring
	return monitor.New(client, rec, sink, monitor.Options{
		Endpoints:         mon.Endpoints,
		DefaultInterval:   mon.CheckInterval,
		SummaryInterval:   mon.SummaryInterval,
		RateLimitInterval: mon.RateLimitInterval,
		Tick:              mon.Tick,
		StopTimeout:       mon.StopTimeout,
		Thresholds:        mon.Thresholds.Thresholds(),
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
	closer := func() {
		store.Close()
	}

	if dir := a.Config.Database.MigrationsPath; dir != "" {
		if _, statErr := os.Stat(dir); statErr == nil {
			if err := store.ApplyMigrations(ctx, dir, a.Logger); err != nil {
				closer()
				return nil, nil, err
			}
		} else {
			a.Logger.Warn().Str("path", dir).Msg("migrations directory not found; skipping schema check")
		}
	}
	return store, closer, nil
}

func (a *App) openCache(ctx context.Context) (*storage.Cache, func(), error) {
	if !a.Config.Redis.Enabled {
		return nil, nil, nil
	}

	cache, err := storage.NewCache(ctx, a.Config.Redis, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		_ = cache.Close()
	}
	return cache, closer, nil
}

// Run executes the full bot: monitoring, market updates and the trading loop.
// It requires the database; the cache is optional.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errDatabaseRequired
	}
	defer closeStore()

	cache, closeCache, err := a.openCache(ctx)
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	client := a.newClient()
	rec := a.newRecorder()
	defer rec.Close()

	mon, err := a.newMonitor(client, rec, store)
	if err != nil {
		return err
	}

	coll := collector.New(client, a.Logger)
	var cacheWriter updater.CacheWriter
	var cacheReader bot.CacheReader
	if cache != nil {
		cacheWriter = cache
		cacheReader = cache
	}
	upd := updater.New(coll, store, cacheWriter, updater.Options{
		Symbols:     a.Config.Updater.Symbols,
		Interval:    a.Config.Updater.Interval,
		MaxRetries:  a.Config.Updater.MaxRetries,
		StopTimeout: a.Config.Updater.StopTimeout,
	}, a.Logger)

	trading := a.Config.Trading
	b := bot.New(mon, upd, store, cacheReader, strategy.NewSignalStrategy(), bot.Options{
		Symbols:              a.Config.Updater.Symbols,
		TradeInterval:        trading.Interval,
		UnhealthyPause:       trading.UnhealthyPause,
		ErrorBackoff:         trading.ErrorBackoff,
		MaxConsecutiveErrors: trading.MaxConsecutiveErrors,
		StopTimeout:          trading.StopTimeout,
		ErrorRateMax:         a.Config.Monitoring.Thresholds.ErrorRateMax,
	}, a.Logger)

	a.Logger.Info().Str("run_id", b.RunID()).Msg("starting trading bot")
	b.Start(ctx)

	select {
	case <-ctx.Done():
		a.Logger.Info().Msg("shutdown signal received")
	case <-b.Fatal():
		a.Logger.Error().Msg("bot terminated itself")
	}

	b.Stop()
	a.Logger.Info().Msg("trading bot stopped")
	return nil
}

// Monitor executes the monitoring service alone, without the updater or the
// trading loop. Persistence is optional here.
func (a *App) Monitor(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newClient()
	rec := a.newRecorder()
	defer rec.Close()

	var sink monitor.MetricSink
	if store != nil {
		sink = store
	}
	mon, err := a.newMonitor(client, rec, sink)
	if err != nil {
		return err
	}

	a.Logger.Info().Msg("starting monitoring service")
	done := make(chan struct{})
	go func() {
		defer close(done)
		mon.Run(ctx)
	}()

	<-ctx.Done()
	mon.Stop()
	<-done

	summary := mon.Summary()
	a.Logger.Info().
		Int("total_requests", summary.TotalRequests).
		Float64("error_rate", summary.ErrorRate).
		Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting latency history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Trades bool
	Symbol string
}
