package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/indicators"
	"github.com/kayi2215/bot/internal/storage"
	"github.com/kayi2215/bot/internal/strategy"
)

var errStaleData = errors.New("market data too old")

// tradingLoop evaluates the strategy on every cycle. A cycle is skipped while
// the API looks unhealthy; repeated failing cycles escalate to termination.
func (b *Bot) tradingLoop(ctx context.Context) {
	defer close(b.tradingDone)
	b.logger.Info().Msg("trading loop started")

	consecutiveErrors := 0
	for {
		if ctx.Err() != nil {
			b.logger.Info().Msg("trading loop stopping")
			return
		}

		if pause, ok := b.healthGate(); !ok {
			b.logger.Warn().Dur("pause", pause).Msg("api unhealthy, pausing trading")
			if !sleepCtx(ctx, pause) {
				return
			}
			continue
		}

		if err := b.tradeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveErrors++
			b.logger.Error().Err(err).Int("consecutive_errors", consecutiveErrors).Msg("trading cycle failed")
			if consecutiveErrors >= b.opts.MaxConsecutiveErrors {
				b.terminate()
				return
			}
			if !sleepCtx(ctx, b.opts.ErrorBackoff) {
				return
			}
			continue
		}
		consecutiveErrors = 0

		if !sleepCtx(ctx, b.opts.TradeInterval) {
			b.logger.Info().Msg("trading loop stopping")
			return
		}
	}
}

// healthGate checks the monitor's aggregate error rate. It returns the pause
// duration and false when trading should not run this cycle.
func (b *Bot) healthGate() (time.Duration, bool) {
	summary := b.monitor.Summary()
	if summary.TotalRequests > 0 && summary.ErrorRate > b.opts.ErrorRateMax {
		return b.opts.UnhealthyPause, false
	}
	return 0, true
}

// tradeCycle evaluates every symbol once. The first hard error aborts the
// cycle; stale or missing data for one symbol only skips that symbol.
func (b *Bot) tradeCycle(ctx context.Context) error {
	for _, symbol := range b.opts.Symbols {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := b.evaluateSymbol(ctx, symbol); err != nil {
			if errors.Is(err, errStaleData) {
				b.logger.Warn().Err(err).Str("symbol", symbol).Msg("skipping symbol")
				continue
			}
			return fmt.Errorf("evaluate %s: %w", symbol, err)
		}
	}
	return nil
}

func (b *Bot) evaluateSymbol(ctx context.Context, symbol string) error {
	snap, err := b.latestSnapshot(ctx, symbol)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("%w: no snapshot for %s", errStaleData, symbol)
	}
	if age := time.Since(snap.Timestamp); age > b.opts.MaxDataAge {
		return fmt.Errorf("%w: snapshot for %s is %s old", errStaleData, symbol, age.Round(time.Second))
	}

	var ticker exchange.Ticker
	if err := json.Unmarshal(snap.Ticker, &ticker); err != nil {
		return fmt.Errorf("decode ticker: %w", err)
	}

	analysis, err := b.latestAnalysis(ctx, symbol)
	if err != nil {
		return err
	}

	obs := strategy.Observation{
		Symbol:     symbol,
		Price:      ticker.LastPrice,
		Timestamp:  snap.Timestamp,
		Indicators: analysis.Set,
		Signals:    analysis.Signals,
	}
	decision, err := b.strategy.Decide(ctx, obs)
	if err != nil {
		return fmt.Errorf("strategy: %w", err)
	}

	b.logger.Info().Str("symbol", symbol).
		Str("action", decision.Action).
		Str("reason", decision.Reason).
		Str("price", ticker.LastPrice.String()).
		Msg("strategy decision")

	if decision.Action == strategy.ActionHold {
		return nil
	}

	intent := storage.TradeIntent{
		RunID:     b.runID,
		Symbol:    symbol,
		Action:    decision.Action,
		Reason:    decision.Reason,
		Price:     ticker.LastPrice,
		Timestamp: time.Now().UTC(),
	}
	if _, err := b.store.InsertTrade(ctx, intent); err != nil {
		return fmt.Errorf("record trade intent: %w", err)
	}
	return nil
}

// latestSnapshot prefers the cache and falls back to Postgres on a miss or a
// cache error.
func (b *Bot) latestSnapshot(ctx context.Context, symbol string) (*storage.MarketSnapshot, error) {
	if b.cache != nil {
		snap, err := b.cache.LatestSnapshot(ctx, symbol)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("cache read failed, falling back to store")
		} else if snap != nil {
			return snap, nil
		}
	}

	snaps, err := b.store.LatestMarketSnapshots(ctx, symbol, 1)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return &snaps[0], nil
}

func (b *Bot) latestAnalysis(ctx context.Context, symbol string) (indicators.Analysis, error) {
	recs, err := b.store.LatestIndicators(ctx, symbol, 1)
	if err != nil {
		return indicators.Analysis{}, fmt.Errorf("load indicators: %w", err)
	}
	if len(recs) == 0 {
		return indicators.Analysis{}, fmt.Errorf("%w: no indicators for %s", errStaleData, symbol)
	}

	var analysis indicators.Analysis
	if err := json.Unmarshal(recs[0].Payload, &analysis); err != nil {
		return indicators.Analysis{}, fmt.Errorf("decode indicators: %w", err)
	}
	return analysis, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
