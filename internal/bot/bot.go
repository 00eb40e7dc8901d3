// Package bot orchestrates the three service loops: API monitoring, market
// updating, and the trading loop itself.
package bot

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/monitor"
	"github.com/kayi2215/bot/internal/storage"
	"github.com/kayi2215/bot/internal/strategy"
	"github.com/kayi2215/bot/internal/updater"
)

// State is the bot lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStoppingRequested
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStoppingRequested:
		return "stopping_requested"
	default:
		return "unknown"
	}
}

// CacheReader is the optional fast path for the newest snapshot; nil falls
// back to Postgres.
type CacheReader interface {
	LatestSnapshot(ctx context.Context, symbol string) (*storage.MarketSnapshot, error)
}

// Options tune the trading loop.
type Options struct {
	Symbols              []string
	TradeInterval        time.Duration
	UnhealthyPause       time.Duration
	ErrorBackoff         time.Duration
	MaxConsecutiveErrors int
	StopTimeout          time.Duration
	ErrorRateMax         float64
	MaxDataAge           time.Duration
}

// Bot ties the loops together under one run id and one shared shutdown path.
type Bot struct {
	opts     Options
	monitor  *monitor.Service
	updater  *updater.Updater
	store    storage.MarketStore
	cache    CacheReader
	strategy strategy.Strategy
	logger   zerolog.Logger

	runID string
	state atomic.Int32

	cancel    context.CancelFunc
	startOnce sync.Once

	// fatal closes when the trading loop escalates past the error ceiling
	fatal     chan struct{}
	fatalOnce sync.Once

	tradingDone chan struct{}
	stopOnce    sync.Once
}

// New wires the orchestrator. The monitor and updater are owned by the bot
// from here on: Start launches them and Stop joins them.
func New(mon *monitor.Service, upd *updater.Updater, store storage.MarketStore, cache CacheReader, strat strategy.Strategy, opts Options, logger zerolog.Logger) *Bot {
	if opts.TradeInterval <= 0 {
		opts.TradeInterval = 10 * time.Second
	}
	if opts.UnhealthyPause <= 0 {
		opts.UnhealthyPause = time.Minute
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = 30 * time.Second
	}
	if opts.MaxConsecutiveErrors <= 0 {
		opts.MaxConsecutiveErrors = 3
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.ErrorRateMax <= 0 {
		opts.ErrorRateMax = 0.1
	}
	if opts.MaxDataAge <= 0 {
		opts.MaxDataAge = 2 * time.Minute
	}

	runID := uuid.NewString()
	return &Bot{
		opts:        opts,
		monitor:     mon,
		updater:     upd,
		store:       store,
		cache:       cache,
		strategy:    strat,
		logger:      logger.With().Str("component", "trading_bot").Str("run_id", runID).Logger(),
		runID:       runID,
		fatal:       make(chan struct{}),
		tradingDone: make(chan struct{}),
	}
}

// RunID identifies this bot run in logs and trade records.
func (b *Bot) RunID() string { return b.runID }

// State reports the current lifecycle state.
func (b *Bot) State() State { return State(b.state.Load()) }

// Fatal closes when the trading loop terminates itself after repeated cycle
// failures. Callers waiting on it should then call Stop.
func (b *Bot) Fatal() <-chan struct{} { return b.fatal }

// Start launches the three loops. It returns immediately; the loops run until
// ctx is cancelled or Stop is called.
func (b *Bot) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		b.state.Store(int32(StateStarting))
		runCtx, cancel := context.WithCancel(ctx)
		b.cancel = cancel

		b.logger.Info().Strs("symbols", b.opts.Symbols).
			Str("strategy", b.strategy.Name()).
			Msg("starting bot")

		go b.monitor.Run(runCtx)
		go b.updater.Run(runCtx)
		go b.tradingLoop(runCtx)

		b.state.Store(int32(StateRunning))
	})
}

// Stop requests shutdown and joins every loop, each within its own timeout.
func (b *Bot) Stop() {
	b.stopOnce.Do(func() {
		b.state.Store(int32(StateStoppingRequested))
		b.logger.Info().Msg("stopping bot")
		if b.cancel != nil {
			b.cancel()
		}

		b.monitor.Stop()
		b.updater.Stop()

		select {
		case <-b.tradingDone:
		case <-time.After(b.opts.StopTimeout):
			b.logger.Warn().Dur("timeout", b.opts.StopTimeout).Msg("trading loop did not stop within timeout")
		}

		b.state.Store(int32(StateStopped))
		b.logger.Info().Msg("bot stopped")
	})
}

// terminate is the trading loop's self-shutdown path. It only flags and
// cancels; the loops are joined by whoever calls Stop, never by the loop
// itself.
func (b *Bot) terminate() {
	b.fatalOnce.Do(func() {
		b.logger.Error().Msg("trading loop terminating after repeated failures")
		b.state.Store(int32(StateStoppingRequested))
		if b.cancel != nil {
			b.cancel()
		}
		close(b.fatal)
	})
}
