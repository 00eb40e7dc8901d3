package indicators

// Signal is one discrete reading derived from an indicator.
type Signal string

const (
	SignalOversold   Signal = "oversold"
	SignalOverbought Signal = "overbought"
	SignalNeutral    Signal = "neutral"
	SignalBuy        Signal = "buy"
	SignalSell       Signal = "sell"
)

// Signals carries the per-indicator readings plus the combined one.
type Signals struct {
	RSI       Signal `json:"rsi"`
	MACD      Signal `json:"macd"`
	Bollinger Signal `json:"bollinger"`
	Global    Signal `json:"global"`
}

// DeriveSignals maps the indicator set to discrete signals. The global signal
// is buy only when MACD says buy while RSI reads oversold.
func (s Set) DeriveSignals(lastClose float64) Signals {
	var out Signals

	switch {
	case s.RSI < 30:
		out.RSI = SignalOversold
	case s.RSI > 70:
		out.RSI = SignalOverbought
	default:
		out.RSI = SignalNeutral
	}

	if s.MACD > s.MACDSignal {
		out.MACD = SignalBuy
	} else {
		out.MACD = SignalSell
	}

	switch {
	case lastClose > s.BBUpper:
		out.Bollinger = SignalOverbought
	case lastClose < s.BBLower:
		out.Bollinger = SignalOversold
	default:
		out.Bollinger = SignalNeutral
	}

	if out.MACD == SignalBuy && out.RSI == SignalOversold {
		out.Global = SignalBuy
	} else {
		out.Global = SignalSell
	}
	return out
}
