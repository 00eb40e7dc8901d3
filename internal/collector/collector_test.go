package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/indicators"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeAPI struct {
	tickerErr error
	klines    []exchange.Kline
}

func (f *fakeAPI) Ping(ctx context.Context) error { return nil }

func (f *fakeAPI) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	if f.tickerErr != nil {
		return exchange.Ticker{}, f.tickerErr
	}
	return exchange.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(100)}, nil
}

func (f *fakeAPI) OrderBook(ctx context.Context, symbol string, limit int) (exchange.OrderBook, error) {
	return exchange.OrderBook{LastUpdateID: 1}, nil
}

func (f *fakeAPI) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return f.klines, nil
}

func (f *fakeAPI) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	return []exchange.Trade{{ID: 1, Price: decimal.NewFromInt(100)}}, nil
}

func (f *fakeAPI) ExchangeInfo(ctx context.Context) (exchange.ExchangeInfo, error) {
	return exchange.ExchangeInfo{}, nil
}

func risingKlines(n int) []exchange.Kline {
	klines := make([]exchange.Kline, n)
	for i := range klines {
		klines[i] = exchange.Kline{
			OpenTime: time.Now().UTC(),
			Close:    decimal.NewFromInt(int64(100 + i)),
		}
	}
	return klines
}

func TestCollectAssemblesSnapshot(t *testing.T) {
	api := &fakeAPI{klines: risingKlines(3)}
	c := New(api, noopLogger())

	snap, err := c.Collect(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("采集不应报错: %v", err)
	}
	if snap.Symbol != "BTCUSDT" || snap.Timestamp.IsZero() {
		t.Fatalf("快照元数据不正确: %+v", snap)
	}
	if len(snap.Klines) != 3 || len(snap.Trades) != 1 {
		t.Fatalf("快照内容不完整: klines=%d trades=%d", len(snap.Klines), len(snap.Trades))
	}
}

func TestCollectPropagatesError(t *testing.T) {
	api := &fakeAPI{tickerErr: errors.New("boom")}
	c := New(api, noopLogger())
	if _, err := c.Collect(context.Background(), "BTCUSDT"); err == nil {
		t.Fatal("任一请求失败应中断采集")
	}
}

func TestAnalyzeFromKlineCloses(t *testing.T) {
	api := &fakeAPI{klines: risingKlines(30)}
	c := New(api, noopLogger())

	snap, err := c.Collect(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("采集不应报错: %v", err)
	}
	analysis, err := c.Analyze(snap)
	if err != nil {
		t.Fatalf("分析不应报错: %v", err)
	}
	if analysis.LastClose != 129 {
		t.Fatalf("LastClose 应为最后一根收盘价: %f", analysis.LastClose)
	}
	if analysis.Set.RSI != 100 {
		t.Fatalf("单边上涨 RSI 应为 100: %f", analysis.Set.RSI)
	}
}

func TestAnalyzeNotEnoughKlines(t *testing.T) {
	api := &fakeAPI{klines: risingKlines(5)}
	c := New(api, noopLogger())

	snap, _ := c.Collect(context.Background(), "BTCUSDT")
	_, err := c.Analyze(snap)
	if !errors.Is(err, indicators.ErrNotEnoughData) {
		t.Fatalf("K 线不足应返回 ErrNotEnoughData: %v", err)
	}
}
