package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	mainnetBaseURL = "https://api.binance.com"
	testnetBaseURL = "https://testnet.binance.vision"
)

// Options parameterise the Binance REST client.
type Options struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
	UserAgent string
	Testnet   bool
}

// Client talks to the Binance spot REST API.
type Client struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// New constructs a Binance client.
func New(opts Options, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = mainnetBaseURL
		if opts.Testnet {
			baseURL = testnetBaseURL
		}
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "binance_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// APIError is a logical failure reported by the exchange, either as a non-2xx
// response or as an embedded {code,msg} body on a 2xx response.
type APIError struct {
	Status int
	Code   int64
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance api error (status %d, code %d): %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance api error (status %d)", e.Status)
}

// Ping issues the lightweight connectivity check.
func (c *Client) Ping(ctx context.Context) error {
	_, _, err := c.get(ctx, "/api/v3/ping", nil)
	return err
}

// Ticker retrieves the 24h rolling statistics for a symbol.
func (c *Client) Ticker(ctx context.Context, symbol string) (Ticker, error) {
	query := url.Values{"symbol": {symbol}}
	body, _, err := c.get(ctx, "/api/v3/ticker/24hr", query)
	if err != nil {
		return Ticker{}, err
	}

	var raw struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		CloseTime          int64  `json:"closeTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}

	ticker := Ticker{Symbol: raw.Symbol, Timestamp: time.UnixMilli(raw.CloseTime).UTC()}
	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&ticker.LastPrice, raw.LastPrice},
		{&ticker.PriceChangePct, raw.PriceChangePercent},
		{&ticker.HighPrice, raw.HighPrice},
		{&ticker.LowPrice, raw.LowPrice},
		{&ticker.Volume, raw.Volume},
		{&ticker.QuoteVolume, raw.QuoteVolume},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return Ticker{}, fmt.Errorf("parse ticker field %q: %w", f.src, err)
		}
		*f.dst = d
	}
	return ticker, nil
}

// OrderBook retrieves a depth snapshot.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (OrderBook, error) {
	query := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	body, _, err := c.get(ctx, "/api/v3/depth", query)
	if err != nil {
		return OrderBook{}, err
	}

	var raw struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return OrderBook{}, fmt.Errorf("decode order book: %w", err)
	}

	book := OrderBook{LastUpdateID: raw.LastUpdateID}
	if book.Bids, err = parseLevels(raw.Bids); err != nil {
		return OrderBook{}, fmt.Errorf("parse bids: %w", err)
	}
	if book.Asks, err = parseLevels(raw.Asks); err != nil {
		return OrderBook{}, fmt.Errorf("parse asks: %w", err)
	}
	return book, nil
}

func parseLevels(raw [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 2 {
			return nil, fmt.Errorf("level has %d fields, want 2", len(entry))
		}
		price, err := decimal.NewFromString(entry[0])
		if err != nil {
			return nil, err
		}
		qty, err := decimal.NewFromString(entry[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	return levels, nil
}

// Klines retrieves OHLCV candles. The exchange encodes each candle as a
// positional array.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	query := url.Values{"symbol": {symbol}, "interval": {interval}, "limit": {strconv.Itoa(limit)}}
	body, _, err := c.get(ctx, "/api/v3/klines", query)
	if err != nil {
		return nil, err
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, entry := range raw {
		if len(entry) < 9 {
			return nil, fmt.Errorf("kline has %d fields, want at least 9", len(entry))
		}
		var k Kline
		openTime, err := rawInt64(entry[0])
		if err != nil {
			return nil, fmt.Errorf("parse kline open time: %w", err)
		}
		closeTime, err := rawInt64(entry[6])
		if err != nil {
			return nil, fmt.Errorf("parse kline close time: %w", err)
		}
		if k.Trades, err = rawInt64(entry[8]); err != nil {
			return nil, fmt.Errorf("parse kline trade count: %w", err)
		}
		k.OpenTime = time.UnixMilli(openTime).UTC()
		k.CloseTime = time.UnixMilli(closeTime).UTC()

		prices := []struct {
			dst *decimal.Decimal
			src json.RawMessage
		}{
			{&k.Open, entry[1]},
			{&k.High, entry[2]},
			{&k.Low, entry[3]},
			{&k.Close, entry[4]},
			{&k.Volume, entry[5]},
		}
		for _, p := range prices {
			if *p.dst, err = rawDecimal(p.src); err != nil {
				return nil, fmt.Errorf("parse kline price: %w", err)
			}
		}
		klines = append(klines, k)
	}
	return klines, nil
}

// RecentTrades retrieves the latest public trades.
func (c *Client) RecentTrades(ctx context.Context, symbol string, limit int) ([]Trade, error) {
	query := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	body, _, err := c.get(ctx, "/api/v3/trades", query)
	if err != nil {
		return nil, err
	}

	var raw []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode trades: %w", err)
	}

	trades := make([]Trade, 0, len(raw))
	for _, entry := range raw {
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("parse trade price: %w", err)
		}
		qty, err := decimal.NewFromString(entry.Qty)
		if err != nil {
			return nil, fmt.Errorf("parse trade quantity: %w", err)
		}
		trades = append(trades, Trade{
			ID:           entry.ID,
			Price:        price,
			Quantity:     qty,
			Time:         time.UnixMilli(entry.Time).UTC(),
			IsBuyerMaker: entry.IsBuyerMaker,
		})
	}
	return trades, nil
}

// ExchangeInfo retrieves the rate-limit buckets. Consumed weight is reported
// by Binance in X-Mbx-Used-Weight-* response headers, not in the body, so the
// Current field of each REQUEST_WEIGHT bucket is filled from there.
func (c *Client) ExchangeInfo(ctx context.Context) (ExchangeInfo, error) {
	body, header, err := c.get(ctx, "/api/v3/exchangeInfo", nil)
	if err != nil {
		return ExchangeInfo{}, err
	}

	var raw struct {
		Timezone   string `json:"timezone"`
		ServerTime int64  `json:"serverTime"`
		RateLimits []struct {
			RateLimitType string `json:"rateLimitType"`
			Interval      string `json:"interval"`
			IntervalNum   int    `json:"intervalNum"`
			Limit         int64  `json:"limit"`
		} `json:"rateLimits"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return ExchangeInfo{}, fmt.Errorf("decode exchange info: %w", err)
	}

	info := ExchangeInfo{
		Timezone:   raw.Timezone,
		ServerTime: time.UnixMilli(raw.ServerTime).UTC(),
	}
	for _, rl := range raw.RateLimits {
		limit := RateLimit{
			Type:        rl.RateLimitType,
			Interval:    rl.Interval,
			IntervalNum: rl.IntervalNum,
			Limit:       rl.Limit,
		}
		if limit.Type == RateLimitRequestWeight {
			limit.Current = usedWeight(header, rl.Interval, rl.IntervalNum)
		}
		info.RateLimits = append(info.RateLimits, limit)
	}
	return info, nil
}

func rawInt64(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromFloat(f), nil
}

var intervalLetters = map[string]string{
	"SECOND": "s",
	"MINUTE": "m",
	"HOUR":   "h",
	"DAY":    "d",
}

func usedWeight(header http.Header, interval string, intervalNum int) int64 {
	letter := intervalLetters[interval]
	candidates := []string{
		fmt.Sprintf("X-Mbx-Used-Weight-%d%s", intervalNum, letter),
		"X-Mbx-Used-Weight",
	}
	for _, name := range candidates {
		if v := header.Get(name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, http.Header, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.opts.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	if err := sniffError(resp.StatusCode, body); err != nil {
		return nil, nil, err
	}
	return body, resp.Header, nil
}

// sniffError checks both the HTTP status and the embedded error body: Binance
// can return a 2xx response whose payload still carries {code,msg}.
func sniffError(status int, body []byte) error {
	trimmed := bytes.TrimSpace(body)
	var apiErr struct {
		Code int64  `json:"code"`
		Msg  string `json:"msg"`
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &apiErr); err == nil && apiErr.Code != 0 && apiErr.Msg != "" {
			return &APIError{Status: status, Code: apiErr.Code, Msg: apiErr.Msg}
		}
	}
	if status < 200 || status >= 300 {
		msg := strings.TrimSpace(string(trimmed))
		return &APIError{Status: status, Msg: msg}
	}
	return nil
}

var _ API = (*Client)(nil)
