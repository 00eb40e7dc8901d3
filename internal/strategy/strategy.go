// Package strategy turns technical analysis into trade decisions.
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kayi2215/bot/internal/indicators"
)

// Trade actions.
const (
	ActionHold = "hold"
	ActionBuy  = "buy"
	ActionSell = "sell"
)

// Observation is the market state a strategy decides on.
type Observation struct {
	Symbol     string
	Price      decimal.Decimal
	Timestamp  time.Time
	Indicators indicators.Set
	Signals    indicators.Signals
}

// Decision is the outcome of one strategy evaluation.
type Decision struct {
	Action string
	Reason string
}

// Strategy decides what to do with a market observation.
type Strategy interface {
	Name() string
	Decide(ctx context.Context, obs Observation) (Decision, error)
}

// SignalStrategy follows the aggregated indicator signal: it buys on a global
// buy, sells on a global sell, and holds otherwise.
type SignalStrategy struct{}

// NewSignalStrategy constructs the default strategy.
func NewSignalStrategy() *SignalStrategy {
	return &SignalStrategy{}
}

// Name identifies the strategy in logs and trade records.
func (s *SignalStrategy) Name() string { return "signal_follower" }

// Decide maps the global signal to an action.
func (s *SignalStrategy) Decide(_ context.Context, obs Observation) (Decision, error) {
	switch obs.Signals.Global {
	case indicators.SignalBuy:
		return Decision{
			Action: ActionBuy,
			Reason: fmt.Sprintf("global buy signal (rsi=%s macd=%s bollinger=%s)",
				obs.Signals.RSI, obs.Signals.MACD, obs.Signals.Bollinger),
		}, nil
	case indicators.SignalSell:
		return Decision{
			Action: ActionSell,
			Reason: fmt.Sprintf("global sell signal (rsi=%s macd=%s bollinger=%s)",
				obs.Signals.RSI, obs.Signals.MACD, obs.Signals.Bollinger),
		}, nil
	default:
		return Decision{Action: ActionHold, Reason: "no actionable signal"}, nil
	}
}

var _ Strategy = (*SignalStrategy)(nil)
