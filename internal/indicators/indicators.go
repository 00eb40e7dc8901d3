// Package indicators implements the technical transforms the trading loop and
// the market updater consume. All functions are pure and operate on close
// prices ordered oldest first. Warm-up positions are NaN.
package indicators

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrNotEnoughData indicates the close series is shorter than the slowest
// indicator window.
var ErrNotEnoughData = errors.New("indicators: not enough close prices")

// minCloses covers the slow MACD EMA; shorter series yield meaningless tails.
const minCloses = 26

// SMA returns the simple moving average; positions before period-1 are NaN.
func SMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMA returns the exponential moving average seeded from the first value,
// with alpha = 2/(period+1).
func EMA(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index over simple rolling means of gains
// and losses. A window with no losses reads 100; a flat window reads the
// neutral 50 so downstream JSON encoding never sees NaN.
func RSI(values []float64, period int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}

	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	for i := 1; i < len(values); i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	for i := period; i < len(values); i++ {
		var gainSum, lossSum float64
		for j := i - period + 1; j <= i; j++ {
			gainSum += gains[j]
			lossSum += losses[j]
		}
		avgGain := gainSum / float64(period)
		avgLoss := lossSum / float64(period)
		switch {
		case avgLoss == 0 && avgGain == 0:
			out[i] = 50
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}

// MACD returns the 12/26 EMA difference and its 9-period signal line.
func MACD(values []float64) (macd, signal []float64) {
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	macd = make([]float64, len(values))
	for i := range values {
		macd[i] = fast[i] - slow[i]
	}
	signal = EMA(macd, 9)
	return macd, signal
}

// Bollinger returns the upper/middle/lower bands: SMA(period) plus/minus two
// rolling sample standard deviations.
func Bollinger(values []float64, period int) (upper, middle, lower []float64) {
	middle = SMA(values, period)
	upper = nanSlice(len(values))
	lower = nanSlice(len(values))
	if period <= 1 || len(values) < period {
		return upper, middle, lower
	}
	for i := period - 1; i < len(values); i++ {
		mean := middle[i]
		var sq float64
		for j := i - period + 1; j <= i; j++ {
			d := values[j] - mean
			sq += d * d
		}
		std := math.Sqrt(sq / float64(period-1))
		upper[i] = mean + 2*std
		lower[i] = mean - 2*std
	}
	return upper, middle, lower
}

// Set holds the latest value of every computed indicator.
type Set struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	MACDHist   float64 `json:"macd_hist"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	SMA20      float64 `json:"sma_20"`
	EMA20      float64 `json:"ema_20"`
}

// Analysis bundles the indicator set with its derived signals; this is the
// shape persisted per symbol and handed to strategies.
type Analysis struct {
	Set       Set     `json:"indicators"`
	Signals   Signals `json:"signals"`
	LastClose float64 `json:"last_close"`
}

// Compute derives the full indicator set from a close series.
func Compute(closes []float64) (Set, error) {
	if len(closes) < minCloses {
		return Set{}, fmt.Errorf("%w: have %d, want at least %d", ErrNotEnoughData, len(closes), minCloses)
	}
	last := len(closes) - 1

	rsi := RSI(closes, 14)
	macd, signal := MACD(closes)
	upper, middle, lower := Bollinger(closes, 20)
	sma := SMA(closes, 20)
	ema := EMA(closes, 20)

	return Set{
		RSI:        rsi[last],
		MACD:       macd[last],
		MACDSignal: signal[last],
		MACDHist:   macd[last] - signal[last],
		BBUpper:    upper[last],
		BBMiddle:   middle[last],
		BBLower:    lower[last],
		SMA20:      sma[last],
		EMA20:      ema[last],
	}, nil
}

// Analyze computes the set, signals and summary context in one pass.
func Analyze(closes []float64) (Analysis, error) {
	set, err := Compute(closes)
	if err != nil {
		return Analysis{}, err
	}
	lastClose := closes[len(closes)-1]
	return Analysis{
		Set:       set,
		Signals:   set.DeriveSignals(lastClose),
		LastClose: lastClose,
	}, nil
}

// Summary renders the analysis as a human-readable block.
func (a Analysis) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RSI (%.2f): %s\n", a.Set.RSI, a.Signals.RSI)
	fmt.Fprintf(&b, "MACD: %s (macd %.2f, signal %.2f)\n", a.Signals.MACD, a.Set.MACD, a.Set.MACDSignal)
	fmt.Fprintf(&b, "Bollinger: %s (price %.2f, upper %.2f, lower %.2f)\n", a.Signals.Bollinger, a.LastClose, a.Set.BBUpper, a.Set.BBLower)
	fmt.Fprintf(&b, "Global: %s", a.Signals.Global)
	return b.String()
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
