package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is one persisted per-symbol market observation: ticker,
// candles, depth and recent trades captured together.
type MarketSnapshot struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Ticker    json.RawMessage `json:"ticker"`
	Klines    json.RawMessage `json:"klines"`
	OrderBook json.RawMessage `json:"order_book"`
	Trades    json.RawMessage `json:"trades"`
	CreatedAt time.Time       `json:"created_at"`
}

// IndicatorRecord is one persisted technical-analysis result.
type IndicatorRecord struct {
	ID        int64           `json:"id"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// TradeIntent is a strategy decision recorded for auditing. No order is ever
// placed from it.
type TradeIntent struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	Symbol    string          `json:"symbol"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
	CreatedAt time.Time       `json:"created_at"`
}
