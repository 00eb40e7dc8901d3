package updater

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kayi2215/bot/internal/collector"
	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/indicators"
	"github.com/kayi2215/bot/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeSource struct {
	mu         sync.Mutex
	collectErr map[string]error
	analyzeErr error
	collects   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		collectErr: make(map[string]error),
		collects:   make(map[string]int),
	}
}

func (f *fakeSource) Collect(ctx context.Context, symbol string) (*collector.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collects[symbol]++
	if err := f.collectErr[symbol]; err != nil {
		return nil, err
	}
	return &collector.Snapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		Ticker:    exchange.Ticker{Symbol: symbol, LastPrice: decimal.NewFromInt(100)},
	}, nil
}

func (f *fakeSource) Analyze(snap *collector.Snapshot) (indicators.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.analyzeErr != nil {
		return indicators.Analysis{}, f.analyzeErr
	}
	return indicators.Analysis{LastClose: 100}, nil
}

func (f *fakeSource) collectCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.collects[symbol]
}

type fakeStore struct {
	mu         sync.Mutex
	snapshots  []storage.MarketSnapshot
	indicators []storage.IndicatorRecord
	insertErr  error
}

func (f *fakeStore) InsertMarketSnapshot(ctx context.Context, snap storage.MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeStore) LatestMarketSnapshots(ctx context.Context, symbol string, limit int) ([]storage.MarketSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.MarketSnapshot
	for i := len(f.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if f.snapshots[i].Symbol == symbol {
			out = append(out, f.snapshots[i])
		}
	}
	return out, nil
}

func (f *fakeStore) InsertIndicators(ctx context.Context, rec storage.IndicatorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators = append(f.indicators, rec)
	return nil
}

func (f *fakeStore) LatestIndicators(ctx context.Context, symbol string, limit int) ([]storage.IndicatorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.IndicatorRecord
	for i := len(f.indicators) - 1; i >= 0 && len(out) < limit; i-- {
		if f.indicators[i].Symbol == symbol {
			out = append(out, f.indicators[i])
		}
	}
	return out, nil
}

func (f *fakeStore) InsertTrade(ctx context.Context, intent storage.TradeIntent) (storage.TradeIntent, error) {
	return intent, nil
}

var _ storage.MarketStore = (*fakeStore)(nil)
var _ collector.Source = (*fakeSource)(nil)

func TestRefreshSymbolStoresSnapshotAndIndicators(t *testing.T) {
	source := newFakeSource()
	store := &fakeStore{}
	u := New(source, store, nil, Options{Symbols: []string{"BTCUSDT"}}, noopLogger())

	if err := u.refreshSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("刷新不应报错: %v", err)
	}
	if len(store.snapshots) != 1 || store.snapshots[0].Symbol != "BTCUSDT" {
		t.Fatalf("应写入一条快照: %#v", store.snapshots)
	}
	if len(store.snapshots[0].Ticker) == 0 {
		t.Fatal("快照 ticker 字段应为序列化后的内容")
	}
	if len(store.indicators) != 1 {
		t.Fatalf("应写入一条指标记录: %d", len(store.indicators))
	}
}

func TestRefreshSkipsIndicatorsOnShortSeries(t *testing.T) {
	source := newFakeSource()
	source.analyzeErr = indicators.ErrNotEnoughData
	store := &fakeStore{}
	u := New(source, store, nil, Options{Symbols: []string{"BTCUSDT"}}, noopLogger())

	if err := u.refreshSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("数据不足只应跳过指标: %v", err)
	}
	if len(store.snapshots) != 1 {
		t.Fatal("快照仍应写入")
	}
	if len(store.indicators) != 0 {
		t.Fatal("数据不足不应写入指标")
	}
}

func TestRunBenchesFailingSymbolForOneCycle(t *testing.T) {
	source := newFakeSource()
	source.collectErr["BADUSDT"] = errors.New("boom")
	store := &fakeStore{}
	u := New(source, store, nil, Options{
		Symbols:     []string{"BADUSDT"},
		Interval:    time.Millisecond,
		MaxRetries:  2,
		StopTimeout: time.Second,
	}, noopLogger())

	go u.Run(context.Background())
	time.Sleep(50 * time.Millisecond)
	u.Stop()

	// failures accumulate to the ceiling, then the symbol sits out one cycle
	// before being retried, so attempts lag well behind elapsed intervals
	if n := source.collectCount("BADUSDT"); n < 2 {
		t.Fatalf("失败符号应被重试过: %d", n)
	}
	if len(store.snapshots) != 0 {
		t.Fatal("失败符号不应写入快照")
	}
}

func TestStopReturnsWithinTimeout(t *testing.T) {
	source := newFakeSource()
	store := &fakeStore{}
	u := New(source, store, nil, Options{
		Symbols:     []string{"BTCUSDT"},
		Interval:    10 * time.Millisecond,
		StopTimeout: time.Second,
	}, noopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go u.Run(ctx)
	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		u.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop 应在超时内返回")
	}
}

func TestCacheWriteFailureIsNonFatal(t *testing.T) {
	source := newFakeSource()
	store := &fakeStore{}
	u := New(source, store, failingCache{}, Options{Symbols: []string{"BTCUSDT"}}, noopLogger())

	if err := u.refreshSymbol(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("缓存写失败不应中断刷新: %v", err)
	}
	if len(store.snapshots) != 1 || len(store.indicators) != 1 {
		t.Fatal("缓存失败时仍应完成持久化")
	}
}

type failingCache struct{}

func (failingCache) SetLatestSnapshot(ctx context.Context, snap storage.MarketSnapshot) error {
	return errors.New("redis down")
}
