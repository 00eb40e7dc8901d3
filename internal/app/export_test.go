package app

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kayi2215/bot/internal/metrics"
)

func latencyRecords(n int) []metrics.Record {
	out := make([]metrics.Record, n)
	base := time.Now().UTC()
	for i := range out {
		out[i] = metrics.Record{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Kind:      metrics.KindLatency,
			Value:     float64(i),
			Endpoint:  "/api/v3/ping",
			Exchange:  "binance",
		}
	}
	return out
}

func TestDownsampleRecords(t *testing.T) {
	recs := latencyRecords(100)

	out := downsampleRecords(recs, 10)
	if len(out) != 10 {
		t.Fatalf("降采样后应为 10 个点, 实际 %d", len(out))
	}
	if out[0].Value != 0 || out[len(out)-1].Value != 99 {
		t.Fatalf("首尾点应保留: first=%f last=%f", out[0].Value, out[len(out)-1].Value)
	}

	out = downsampleRecords(recs, 200)
	if len(out) != 100 {
		t.Fatal("点数不超上限时不应降采样")
	}

	out = downsampleRecords(recs, 1)
	if len(out) != 1 || out[0].Value != 99 {
		t.Fatalf("上限为 1 时应只保留最新点: %+v", out)
	}
}

func TestWriteMetricsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "metrics.csv")
	if err := writeMetricsCSV(path, latencyRecords(3)); err != nil {
		t.Fatalf("写 CSV 失败: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("CSV 文件应存在: %v", err)
	}
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("解析 CSV 失败: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("应为表头加三行数据, 实际 %d 行", len(rows))
	}
	if rows[0][0] != "ts" || rows[0][1] != "kind" {
		t.Fatalf("表头不正确: %#v", rows[0])
	}
}

func TestWriteLatencyPNGNeedsSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	err := writeLatencyPNG(path, []metrics.Record{
		{Kind: metrics.KindError, Value: 1},
	})
	if err == nil {
		t.Fatal("没有足够延迟样本应报错")
	}
}

func TestSanitizeInline(t *testing.T) {
	if got := sanitizeInline("a\nb\rc"); got != "a b c" {
		t.Fatalf("应替换换行符: %q", got)
	}
}
