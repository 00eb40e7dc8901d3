// Package updater runs the market-data refresh loop: it cycles over the
// configured symbols, persists fresh snapshots and indicators, and tracks
// per-symbol consecutive errors.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/collector"
	"github.com/kayi2215/bot/internal/indicators"
	"github.com/kayi2215/bot/internal/storage"
)

// CacheWriter mirrors the newest snapshot into the cache; nil disables it.
type CacheWriter interface {
	SetLatestSnapshot(ctx context.Context, snap storage.MarketSnapshot) error
}

// Options tune the refresh loop.
type Options struct {
	Symbols     []string
	Interval    time.Duration
	MaxRetries  int
	StopTimeout time.Duration
}

// Updater owns the refresh loop and its per-symbol error counters. The
// counters are mutated by no other goroutine.
type Updater struct {
	opts   Options
	source collector.Source
	store  storage.MarketStore
	cache  CacheWriter
	logger zerolog.Logger

	errorCounts map[string]int

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New constructs the updater.
func New(source collector.Source, store storage.MarketStore, cache CacheWriter, opts Options, logger zerolog.Logger) *Updater {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	counts := make(map[string]int, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		counts[sym] = 0
	}

	return &Updater{
		opts:        opts,
		source:      source,
		store:       store,
		cache:       cache,
		logger:      logger.With().Str("component", "market_updater").Logger(),
		errorCounts: counts,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Run blocks, refreshing symbols until ctx is cancelled or Stop is called.
func (u *Updater) Run(ctx context.Context) {
	defer close(u.done)
	u.logger.Info().Strs("symbols", u.opts.Symbols).Msg("market updater started")

	for {
		attempted := 0
		skipped := make(map[string]bool)
		for _, symbol := range u.opts.Symbols {
			if u.stopped(ctx) {
				u.logger.Info().Msg("market updater stopping")
				return
			}

			if u.errorCounts[symbol] >= u.opts.MaxRetries {
				// benched for this cycle, retried fresh on the next one
				skipped[symbol] = true
				u.logger.Warn().Str("symbol", symbol).
					Int("errors", u.errorCounts[symbol]).
					Msg("too many consecutive errors, skipping symbol for this cycle")
				continue
			}

			attempted++
			if err := u.refreshSymbol(ctx, symbol); err != nil {
				u.errorCounts[symbol]++
				u.logger.Error().Err(err).Str("symbol", symbol).
					Int("attempt", u.errorCounts[symbol]).
					Msg("market data refresh failed")
			} else {
				u.errorCounts[symbol] = 0
			}

			if !u.sleep(ctx, u.opts.Interval) {
				u.logger.Info().Msg("market updater stopping")
				return
			}
		}

		for symbol := range skipped {
			u.errorCounts[symbol] = 0
		}

		if attempted == 0 {
			if !u.sleep(ctx, u.opts.Interval) {
				u.logger.Info().Msg("market updater stopping")
				return
			}
		}
	}
}

// Stop signals the loop and waits up to the stop timeout for it to exit.
func (u *Updater) Stop() {
	u.stopOnce.Do(func() { close(u.stop) })
	select {
	case <-u.done:
		u.logger.Info().Msg("market updater stopped")
	case <-time.After(u.opts.StopTimeout):
		u.logger.Warn().Dur("timeout", u.opts.StopTimeout).Msg("market updater did not stop within timeout")
	}
}

func (u *Updater) refreshSymbol(ctx context.Context, symbol string) error {
	snap, err := u.source.Collect(ctx, symbol)
	if err != nil {
		return err
	}

	record, err := marshalSnapshot(snap)
	if err != nil {
		return err
	}
	if err := u.store.InsertMarketSnapshot(ctx, record); err != nil {
		return err
	}

	if u.cache != nil {
		if err := u.cache.SetLatestSnapshot(ctx, record); err != nil {
			u.logger.Warn().Err(err).Str("symbol", symbol).Msg("failed to cache snapshot")
		}
	}

	analysis, err := u.source.Analyze(snap)
	if errors.Is(err, indicators.ErrNotEnoughData) {
		u.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping indicators")
		return nil
	}
	if err != nil {
		return err
	}

	payload, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal analysis for %s: %w", symbol, err)
	}
	return u.store.InsertIndicators(ctx, storage.IndicatorRecord{
		Symbol:    symbol,
		Timestamp: snap.Timestamp,
		Payload:   payload,
	})
}

func marshalSnapshot(snap *collector.Snapshot) (storage.MarketSnapshot, error) {
	record := storage.MarketSnapshot{Symbol: snap.Symbol, Timestamp: snap.Timestamp}

	parts := []struct {
		dst *json.RawMessage
		src any
		tag string
	}{
		{&record.Ticker, snap.Ticker, "ticker"},
		{&record.Klines, snap.Klines, "klines"},
		{&record.OrderBook, snap.OrderBook, "order book"},
		{&record.Trades, snap.Trades, "trades"},
	}
	for _, p := range parts {
		payload, err := json.Marshal(p.src)
		if err != nil {
			return storage.MarketSnapshot{}, fmt.Errorf("marshal %s for %s: %w", p.tag, snap.Symbol, err)
		}
		*p.dst = payload
	}
	return record, nil
}

func (u *Updater) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-u.stop:
		return true
	default:
		return false
	}
}

func (u *Updater) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-u.stop:
		return false
	case <-timer.C:
		return true
	}
}
