package bot

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kayi2215/bot/internal/collector"
	"github.com/kayi2215/bot/internal/config"
	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/indicators"
	"github.com/kayi2215/bot/internal/metrics"
	"github.com/kayi2215/bot/internal/monitor"
	"github.com/kayi2215/bot/internal/storage"
	"github.com/kayi2215/bot/internal/strategy"
	"github.com/kayi2215/bot/internal/updater"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type stubAPI struct{}

func (stubAPI) Ping(ctx context.Context) error { return nil }
func (stubAPI) Ticker(ctx context.Context, symbol string) (exchange.Ticker, error) {
	return exchange.Ticker{Symbol: symbol}, nil
}
func (stubAPI) OrderBook(ctx context.Context, symbol string, limit int) (exchange.OrderBook, error) {
	return exchange.OrderBook{}, nil
}
func (stubAPI) Klines(ctx context.Context, symbol, interval string, limit int) ([]exchange.Kline, error) {
	return nil, nil
}
func (stubAPI) RecentTrades(ctx context.Context, symbol string, limit int) ([]exchange.Trade, error) {
	return nil, nil
}
func (stubAPI) ExchangeInfo(ctx context.Context) (exchange.ExchangeInfo, error) {
	return exchange.ExchangeInfo{}, nil
}

type stubSource struct{}

func (stubSource) Collect(ctx context.Context, symbol string) (*collector.Snapshot, error) {
	return &collector.Snapshot{Symbol: symbol, Timestamp: time.Now().UTC()}, nil
}
func (stubSource) Analyze(snap *collector.Snapshot) (indicators.Analysis, error) {
	return indicators.Analysis{}, indicators.ErrNotEnoughData
}

type memStore struct {
	mu         sync.Mutex
	snapshots  map[string]storage.MarketSnapshot
	analysis   map[string]storage.IndicatorRecord
	trades     []storage.TradeIntent
	snapErr    error
	indicErr   error
	tradeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		snapshots: make(map[string]storage.MarketSnapshot),
		analysis:  make(map[string]storage.IndicatorRecord),
	}
}

func (m *memStore) InsertMarketSnapshot(ctx context.Context, snap storage.MarketSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snap.Symbol] = snap
	return nil
}

func (m *memStore) LatestMarketSnapshots(ctx context.Context, symbol string, limit int) ([]storage.MarketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapErr != nil {
		return nil, m.snapErr
	}
	snap, ok := m.snapshots[symbol]
	if !ok {
		return nil, nil
	}
	return []storage.MarketSnapshot{snap}, nil
}

func (m *memStore) InsertIndicators(ctx context.Context, rec storage.IndicatorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analysis[rec.Symbol] = rec
	return nil
}

func (m *memStore) LatestIndicators(ctx context.Context, symbol string, limit int) ([]storage.IndicatorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indicErr != nil {
		return nil, m.indicErr
	}
	rec, ok := m.analysis[symbol]
	if !ok {
		return nil, nil
	}
	return []storage.IndicatorRecord{rec}, nil
}

func (m *memStore) InsertTrade(ctx context.Context, intent storage.TradeIntent) (storage.TradeIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradeCalls++
	m.trades = append(m.trades, intent)
	return intent, nil
}

var _ storage.MarketStore = (*memStore)(nil)

func (m *memStore) seed(t *testing.T, symbol string, global indicators.Signal, age time.Duration) {
	t.Helper()
	ticker, err := json.Marshal(exchange.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(50000)})
	if err != nil {
		t.Fatalf("序列化 ticker 失败: %v", err)
	}
	m.snapshots[symbol] = storage.MarketSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UTC().Add(-age),
		Ticker:    ticker,
		Klines:    json.RawMessage("[]"),
		OrderBook: json.RawMessage("{}"),
		Trades:    json.RawMessage("[]"),
	}
	payload, err := json.Marshal(indicators.Analysis{Signals: indicators.Signals{Global: global}})
	if err != nil {
		t.Fatalf("序列化指标失败: %v", err)
	}
	m.analysis[symbol] = storage.IndicatorRecord{
		Symbol:    symbol,
		Timestamp: time.Now().UTC().Add(-age),
		Payload:   payload,
	}
}

func newTestMonitor(t *testing.T, rec *metrics.Recorder) *monitor.Service {
	t.Helper()
	svc, err := monitor.New(stubAPI{}, rec, nil, monitor.Options{
		Endpoints:       []config.EndpointConfig{{ID: "/api/v3/ping", Method: "ping"}},
		DefaultInterval: time.Hour,
		StopTimeout:     time.Second,
		Thresholds: metrics.Thresholds{
			LatencyMsMax:           1000,
			ErrorRateMax:           0.1,
			ConsecutiveFailuresMax: 3,
			RateLimitUsageMax:      0.8,
		},
	}, noopLogger())
	if err != nil {
		t.Fatalf("构造监控服务失败: %v", err)
	}
	return svc
}

func newTestUpdater() *updater.Updater {
	return updater.New(stubSource{}, newMemStore(), nil, updater.Options{
		Symbols:     []string{"BTCUSDT"},
		Interval:    time.Hour,
		StopTimeout: time.Second,
	}, noopLogger())
}

func newTestBot(t *testing.T, rec *metrics.Recorder, store *memStore, opts Options) *Bot {
	t.Helper()
	if opts.Symbols == nil {
		opts.Symbols = []string{"BTCUSDT"}
	}
	return New(newTestMonitor(t, rec), newTestUpdater(), store, nil, strategy.NewSignalStrategy(), opts, noopLogger())
}

func TestHealthGatePausesOnHighErrorRate(t *testing.T) {
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	for i := 0; i < 5; i++ {
		rec.RecordFailure("/api/v3/ping")
	}
	b := newTestBot(t, rec, newMemStore(), Options{})

	if pause, ok := b.healthGate(); ok || pause != b.opts.UnhealthyPause {
		t.Fatalf("错误率 100%% 时应暂停交易: ok=%v pause=%v", ok, pause)
	}

	rec2 := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b2 := newTestBot(t, rec2, newMemStore(), Options{})
	if _, ok := b2.healthGate(); !ok {
		t.Fatal("没有任何请求时不应暂停交易")
	}
}

func TestEvaluateSymbolBuyRecordsIntent(t *testing.T) {
	store := newMemStore()
	store.seed(t, "BTCUSDT", indicators.SignalBuy, time.Second)
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{})

	if err := b.evaluateSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if len(store.trades) != 1 {
		t.Fatalf("买入信号应记录一条交易意向: %d", len(store.trades))
	}
	trade := store.trades[0]
	if trade.Action != strategy.ActionBuy || trade.RunID != b.RunID() {
		t.Fatalf("交易意向字段不正确: %+v", trade)
	}
	if !trade.Price.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("价格应取快照中的最新价: %s", trade.Price)
	}
}

func TestEvaluateSymbolHoldSkipsInsert(t *testing.T) {
	store := newMemStore()
	store.seed(t, "BTCUSDT", indicators.SignalNeutral, time.Second)
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{})

	if err := b.evaluateSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("评估不应报错: %v", err)
	}
	if store.tradeCalls != 0 {
		t.Fatal("持有决策不应写入交易")
	}
}

func TestEvaluateSymbolStaleData(t *testing.T) {
	store := newMemStore()
	store.seed(t, "BTCUSDT", indicators.SignalBuy, time.Hour)
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{MaxDataAge: time.Minute})

	err := b.evaluateSymbol(context.Background(), "BTCUSDT")
	if !errors.Is(err, errStaleData) {
		t.Fatalf("过期数据应返回 errStaleData: %v", err)
	}
	if store.tradeCalls != 0 {
		t.Fatal("过期数据不应触发交易")
	}
}

func TestTradeCycleSkipsStaleSymbolOnly(t *testing.T) {
	store := newMemStore()
	store.seed(t, "BTCUSDT", indicators.SignalBuy, time.Hour)
	store.seed(t, "ETHUSDT", indicators.SignalBuy, time.Second)
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{Symbols: []string{"BTCUSDT", "ETHUSDT"}})

	if err := b.tradeCycle(context.Background()); err != nil {
		t.Fatalf("单个符号过期不应使整个周期失败: %v", err)
	}
	if len(store.trades) != 1 || store.trades[0].Symbol != "ETHUSDT" {
		t.Fatalf("只应评估数据新鲜的符号: %#v", store.trades)
	}
}

func TestTradingLoopEscalatesAfterRepeatedFailures(t *testing.T) {
	store := newMemStore()
	store.snapErr = errors.New("db down")
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{
		TradeInterval:        time.Millisecond,
		ErrorBackoff:         time.Millisecond,
		MaxConsecutiveErrors: 2,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.tradingLoop(ctx)

	select {
	case <-b.Fatal():
	case <-time.After(2 * time.Second):
		t.Fatal("连续失败达到上限应自我终止")
	}
	if b.State() != StateStoppingRequested {
		t.Fatalf("自我终止后状态应为 stopping_requested: %s", b.State())
	}
}

func TestStartStopLifecycle(t *testing.T) {
	store := newMemStore()
	store.seed(t, "BTCUSDT", indicators.SignalNeutral, time.Second)
	rec := metrics.NewRecorder(metrics.Options{}, noopLogger())
	b := newTestBot(t, rec, store, Options{
		TradeInterval: 5 * time.Millisecond,
		StopTimeout:   time.Second,
	})

	b.Start(context.Background())
	if b.State() != StateRunning {
		t.Fatalf("启动后状态应为 running: %s", b.State())
	}
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop 应在各自超时内返回")
	}
	if b.State() != StateStopped {
		t.Fatalf("停止后状态应为 stopped: %s", b.State())
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateStopped:           "stopped",
		StateStarting:          "starting",
		StateRunning:           "running",
		StateStoppingRequested: "stopping_requested",
		State(99):              "unknown",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Fatalf("State(%d).String() 期望 %s 实际 %s", state, want, state.String())
		}
	}
}
