package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kayi2215/bot/internal/metrics"
	"github.com/kayi2215/bot/internal/storage"
)

var errDatabaseRequired = errors.New("database.dsn not configured")

type metricsReader interface {
	RecentAPIMetrics(ctx context.Context, limit int) ([]metrics.Record, error)
}

type tradeReader interface {
	TradeHistory(ctx context.Context, symbol string, limit int) ([]storage.TradeIntent, error)
}

// Show prints recent API metrics, or recorded trade decisions with --trades.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errDatabaseRequired
	}
	defer closeStore()

	if opts.Trades {
		return a.showTrades(ctx, store, opts)
	}
	return a.showMetrics(ctx, store, opts)
}

func (a *App) showMetrics(ctx context.Context, store metricsReader, opts ShowOptions) error {
	recs, err := store.RecentAPIMetrics(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stdout, "no metrics found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tKind\tValue\tEndpoint\tExchange\tTestnet")
	for _, rec := range recs {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%.2f\t%s\t%s\t%t\n",
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.Kind,
			rec.Value,
			sanitizeInline(rec.Endpoint),
			rec.Exchange,
			rec.Testnet,
		)
	}
	return writer.Flush()
}

func (a *App) showTrades(ctx context.Context, store tradeReader, opts ShowOptions) error {
	trades, err := store.TradeHistory(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Fprintln(os.Stdout, "no trades found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tAction\tPrice\tReason\tRun")
	for _, trade := range trades {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			trade.Timestamp.UTC().Format(time.RFC3339),
			trade.Symbol,
			trade.Action,
			trade.Price.StringFixed(2),
			sanitizeInline(trade.Reason),
			trade.RunID,
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
