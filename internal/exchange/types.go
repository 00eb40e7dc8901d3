package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// API is the exchange boundary consumed by the collector and the monitor.
type API interface {
	Ping(ctx context.Context) error
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error)
	ExchangeInfo(ctx context.Context) (ExchangeInfo, error)
}

// Ticker is a 24h rolling statistics snapshot for one symbol.
type Ticker struct {
	Symbol         string          `json:"symbol"`
	LastPrice      decimal.Decimal `json:"last_price"`
	PriceChangePct decimal.Decimal `json:"price_change_pct"`
	HighPrice      decimal.Decimal `json:"high_price"`
	LowPrice       decimal.Decimal `json:"low_price"`
	Volume         decimal.Decimal `json:"volume"`
	QuoteVolume    decimal.Decimal `json:"quote_volume"`
	Timestamp      time.Time       `json:"timestamp"`
}

// PriceLevel is one side entry of the order book.
type PriceLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

// OrderBook is a depth snapshot.
type OrderBook struct {
	LastUpdateID int64        `json:"last_update_id"`
	Bids         []PriceLevel `json:"bids"`
	Asks         []PriceLevel `json:"asks"`
}

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time       `json:"open_time"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	CloseTime time.Time       `json:"close_time"`
	Trades    int64           `json:"trades"`
}

// Trade is one public trade.
type Trade struct {
	ID           int64           `json:"id"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Time         time.Time       `json:"time"`
	IsBuyerMaker bool            `json:"is_buyer_maker"`
}

// RateLimitRequestWeight identifies the weight-based quota buckets.
const RateLimitRequestWeight = "REQUEST_WEIGHT"

// RateLimit is one quota bucket as reported by the exchange. Current is the
// consumed amount, taken from the used-weight response headers for
// REQUEST_WEIGHT buckets; zero when the exchange did not report usage.
type RateLimit struct {
	Type        string `json:"type"`
	Interval    string `json:"interval"`
	IntervalNum int    `json:"interval_num"`
	Limit       int64  `json:"limit"`
	Current     int64  `json:"current"`
}

// ExchangeInfo carries the subset of /exchangeInfo this system consumes.
type ExchangeInfo struct {
	Timezone   string      `json:"timezone"`
	ServerTime time.Time   `json:"server_time"`
	RateLimits []RateLimit `json:"rate_limits"`
}
