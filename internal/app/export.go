package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/kayi2215/bot/internal/metrics"
)

const defaultExportWindow = 24 * time.Hour

// Export renders the recorded API metrics as CSV and/or a latency PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = 2000
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errDatabaseRequired
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-defaultExportWindow)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	recs, err := store.APIMetricsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		a.Logger.Info().Msg("no metrics found for export window")
		return nil
	}

	downsampled := downsampleRecords(recs, opts.MaxPoints)
	a.Logger.Info().Int("total", len(recs)).Int("exported", len(downsampled)).Msg("exporting metrics")

	if opts.CSVPath != "" {
		if err := writeMetricsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeLatencyPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleRecords(recs []metrics.Record, max int) []metrics.Record {
	if max <= 0 || len(recs) <= max {
		return recs
	}
	if max == 1 {
		return recs[len(recs)-1:]
	}

	result := make([]metrics.Record, 0, max)
	step := float64(len(recs)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(recs) {
			idx = len(recs) - 1
		}
		result = append(result, recs[idx])
	}
	return result
}

func writeMetricsCSV(path string, recs []metrics.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"ts", "kind", "value", "endpoint", "exchange", "testnet"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range recs {
		record := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			string(rec.Kind),
			strconv.FormatFloat(rec.Value, 'f', -1, 64),
			rec.Endpoint,
			rec.Exchange,
			strconv.FormatBool(rec.Testnet),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeLatencyPNG(path string, recs []metrics.Record) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	var x []time.Time
	var latency []float64
	for _, rec := range recs {
		if rec.Kind != metrics.KindLatency {
			continue
		}
		x = append(x, rec.Timestamp)
		latency = append(latency, rec.Value)
	}
	if len(x) < 2 {
		return errors.New("not enough latency samples to plot")
	}

	latencyFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.1f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Latency (ms)",
			ValueFormatter: latencyFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Latency",
				XValues: x,
				YValues: latency,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
