// Package collector gathers per-symbol market observations from the exchange
// and derives their technical analysis.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/indicators"
)

const (
	klineInterval = "1m"
	klineLimit    = 100
	depthLimit    = 100
	tradesLimit   = 50
)

// Snapshot is one complete market observation for a symbol.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time
	Ticker    exchange.Ticker
	Klines    []exchange.Kline
	OrderBook exchange.OrderBook
	Trades    []exchange.Trade
}

// Source is the boundary the updater consumes.
type Source interface {
	Collect(ctx context.Context, symbol string) (*Snapshot, error)
	Analyze(snap *Snapshot) (indicators.Analysis, error)
}

// Collector retrieves market data through the exchange API.
type Collector struct {
	api    exchange.API
	logger zerolog.Logger
}

// New constructs a Collector.
func New(api exchange.API, logger zerolog.Logger) *Collector {
	return &Collector{
		api:    api,
		logger: logger.With().Str("component", "market_collector").Logger(),
	}
}

// Collect fetches ticker, candles, depth and recent trades for one symbol.
func (c *Collector) Collect(ctx context.Context, symbol string) (*Snapshot, error) {
	ticker, err := c.api.Ticker(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("fetch ticker for %s: %w", symbol, err)
	}

	klines, err := c.api.Klines(ctx, symbol, klineInterval, klineLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch klines for %s: %w", symbol, err)
	}

	book, err := c.api.OrderBook(ctx, symbol, depthLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch order book for %s: %w", symbol, err)
	}

	trades, err := c.api.RecentTrades(ctx, symbol, tradesLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch recent trades for %s: %w", symbol, err)
	}

	c.logger.Debug().Str("symbol", symbol).
		Str("last_price", ticker.LastPrice.String()).
		Int("klines", len(klines)).
		Int("trades", len(trades)).
		Msg("market snapshot collected")

	return &Snapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Ticker:    ticker,
		Klines:    klines,
		OrderBook: book,
		Trades:    trades,
	}, nil
}

// Analyze computes the technical analysis of a collected snapshot.
func (c *Collector) Analyze(snap *Snapshot) (indicators.Analysis, error) {
	closes := make([]float64, len(snap.Klines))
	for i, k := range snap.Klines {
		closes[i] = k.Close.InexactFloat64()
	}
	analysis, err := indicators.Analyze(closes)
	if err != nil {
		return indicators.Analysis{}, fmt.Errorf("analyze %s: %w", snap.Symbol, err)
	}
	return analysis, nil
}

var _ Source = (*Collector)(nil)
