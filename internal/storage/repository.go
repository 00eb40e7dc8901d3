package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kayi2215/bot/internal/metrics"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrInvalidRecord indicates a bulk insert was aborted by a structurally
	// invalid entry.
	ErrInvalidRecord = errors.New("storage: invalid record")
)

const (
	insertMarketSnapshotSQL = `INSERT INTO market_data (
        symbol, ts, ticker, klines, order_book, trades
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	latestMarketSnapshotsSQL = `SELECT
        id, symbol, ts, ticker, klines, order_book, trades, created_at
    FROM market_data
    WHERE symbol = $1
    ORDER BY ts DESC
    LIMIT $2;`

	insertIndicatorsSQL = `INSERT INTO indicators (
        symbol, ts, payload
    ) VALUES ($1,$2,$3);`

	latestIndicatorsSQL = `SELECT
        id, symbol, ts, payload, created_at
    FROM indicators
    WHERE symbol = $1
    ORDER BY ts DESC
    LIMIT $2;`

	insertTradeSQL = `INSERT INTO trades (
        run_id, symbol, action, reason, price, ts
    ) VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at;`

	tradeHistorySQL = `SELECT
        id, run_id, symbol, action, reason, price, ts, created_at
    FROM trades
    WHERE ($1 = '' OR symbol = $1)
    ORDER BY ts DESC
    LIMIT $2;`

	insertAPIMetricSQL = `INSERT INTO api_metrics (
        ts, kind, value, endpoint, exchange, testnet
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	recentAPIMetricsSQL = `SELECT
        ts, kind, value, endpoint, exchange, testnet
    FROM api_metrics
    ORDER BY ts DESC
    LIMIT $1;`

	apiMetricsBetweenSQL = `SELECT
        ts, kind, value, endpoint, exchange, testnet
    FROM api_metrics
    WHERE ts >= $1
      AND ts < $2
    ORDER BY ts;`

	cleanupMarketDataSQL = `DELETE FROM market_data WHERE ts < $1;`
	cleanupIndicatorsSQL = `DELETE FROM indicators WHERE ts < $1;`
	cleanupAPIMetricsSQL = `DELETE FROM api_metrics WHERE ts < $1;`
)

// MarketStore is the persistence surface the updater and the trading loop
// consume.
type MarketStore interface {
	InsertMarketSnapshot(ctx context.Context, snap MarketSnapshot) error
	LatestMarketSnapshots(ctx context.Context, symbol string, limit int) ([]MarketSnapshot, error)
	InsertIndicators(ctx context.Context, rec IndicatorRecord) error
	LatestIndicators(ctx context.Context, symbol string, limit int) ([]IndicatorRecord, error)
	InsertTrade(ctx context.Context, intent TradeIntent) (TradeIntent, error)
}

// Store is the PostgreSQL-backed repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialised pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertMarketSnapshot persists one market observation.
func (s *Store) InsertMarketSnapshot(ctx context.Context, snap MarketSnapshot) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, insertMarketSnapshotSQL,
		snap.Symbol, snap.Timestamp, snap.Ticker, snap.Klines, snap.OrderBook, snap.Trades)
	if err != nil {
		return fmt.Errorf("insert market snapshot: %w", err)
	}
	return nil
}

// LatestMarketSnapshots returns the newest snapshots for a symbol, newest
// first.
func (s *Store) LatestMarketSnapshots(ctx context.Context, symbol string, limit int) ([]MarketSnapshot, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, latestMarketSnapshotsSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query market snapshots: %w", err)
	}
	defer rows.Close()

	var out []MarketSnapshot
	for rows.Next() {
		var snap MarketSnapshot
		if err := rows.Scan(&snap.ID, &snap.Symbol, &snap.Timestamp, &snap.Ticker,
			&snap.Klines, &snap.OrderBook, &snap.Trades, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan market snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// InsertIndicators persists one technical-analysis result.
func (s *Store) InsertIndicators(ctx context.Context, rec IndicatorRecord) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, insertIndicatorsSQL, rec.Symbol, rec.Timestamp, rec.Payload)
	if err != nil {
		return fmt.Errorf("insert indicators: %w", err)
	}
	return nil
}

// LatestIndicators returns the newest indicator records for a symbol, newest
// first.
func (s *Store) LatestIndicators(ctx context.Context, symbol string, limit int) ([]IndicatorRecord, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, latestIndicatorsSQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query indicators: %w", err)
	}
	defer rows.Close()

	var out []IndicatorRecord
	for rows.Next() {
		var rec IndicatorRecord
		if err := rows.Scan(&rec.ID, &rec.Symbol, &rec.Timestamp, &rec.Payload, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan indicators: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertTrade persists a strategy decision.
func (s *Store) InsertTrade(ctx context.Context, intent TradeIntent) (TradeIntent, error) {
	if s.pool == nil {
		return TradeIntent{}, ErrNotConfigured
	}
	row := s.pool.QueryRow(ctx, insertTradeSQL,
		intent.RunID, intent.Symbol, intent.Action, intent.Reason, intent.Price, intent.Timestamp)
	if err := row.Scan(&intent.ID, &intent.CreatedAt); err != nil {
		return TradeIntent{}, fmt.Errorf("insert trade: %w", err)
	}
	return intent, nil
}

// TradeHistory returns recorded decisions, newest first. Empty symbol matches
// all symbols.
func (s *Store) TradeHistory(ctx context.Context, symbol string, limit int) ([]TradeIntent, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, tradeHistorySQL, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeIntent
	for rows.Next() {
		var intent TradeIntent
		if err := rows.Scan(&intent.ID, &intent.RunID, &intent.Symbol, &intent.Action,
			&intent.Reason, &intent.Price, &intent.Timestamp, &intent.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// InsertAPIMetrics bulk-inserts observations in one batch. Structural
// validation happens up front; the first invalid record aborts the whole
// batch before anything is written.
func (s *Store) InsertAPIMetrics(ctx context.Context, recs []metrics.Record) error {
	for i, rec := range recs {
		if rec.Kind == "" || rec.Endpoint == "" || rec.Timestamp.IsZero() {
			return fmt.Errorf("%w: entry %d missing kind, endpoint or timestamp", ErrInvalidRecord, i)
		}
	}
	if s.pool == nil {
		return ErrNotConfigured
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		batch.Queue(insertAPIMetricSQL, rec.Timestamp, string(rec.Kind), rec.Value, rec.Endpoint, rec.Exchange, rec.Testnet)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert api metrics: %w", err)
		}
	}
	return nil
}

// RecentAPIMetrics returns recorded observations, newest first.
func (s *Store) RecentAPIMetrics(ctx context.Context, limit int) ([]metrics.Record, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, recentAPIMetricsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query api metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

// APIMetricsBetween returns observations in [from, to), oldest first.
func (s *Store) APIMetricsBetween(ctx context.Context, from, to time.Time) ([]metrics.Record, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, apiMetricsBetweenSQL, from, to)
	if err != nil {
		return nil, fmt.Errorf("query api metrics: %w", err)
	}
	defer rows.Close()
	return scanMetrics(rows)
}

func scanMetrics(rows pgx.Rows) ([]metrics.Record, error) {
	var out []metrics.Record
	for rows.Next() {
		var rec metrics.Record
		var kind string
		if err := rows.Scan(&rec.Timestamp, &kind, &rec.Value, &rec.Endpoint, &rec.Exchange, &rec.Testnet); err != nil {
			return nil, fmt.Errorf("scan api metric: %w", err)
		}
		rec.Kind = metrics.Kind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CleanupBefore removes market data, indicators and API metrics older than
// the cutoff, returning the number of rows deleted.
func (s *Store) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.pool == nil {
		return 0, ErrNotConfigured
	}
	var total int64
	for _, sql := range []string{cleanupMarketDataSQL, cleanupIndicatorsSQL, cleanupAPIMetricsSQL} {
		tag, err := s.pool.Exec(ctx, sql, cutoff)
		if err != nil {
			return total, fmt.Errorf("cleanup old data: %w", err)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

var _ MarketStore = (*Store)(nil)
