package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/metrics"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestRecorder() *metrics.Recorder {
	return metrics.NewRecorder(metrics.Options{}, noopLogger())
}

func TestMeasureLatencySuccess(t *testing.T) {
	rec := newTestRecorder()
	probe := NewProbe(rec, noopLogger())

	ms, ok := probe.MeasureLatency(context.Background(), "/api/v3/ping", func(ctx context.Context) error {
		return nil
	})
	if !ok {
		t.Fatal("成功调用应返回 ok")
	}
	if ms < 0 {
		t.Fatalf("延迟不应为负: %f", ms)
	}

	stats := rec.Stats()
	if stats.TotalRequests != 1 || stats.FailedRequests != 0 {
		t.Fatalf("请求计数不正确: %+v", stats)
	}
	if stats.AvgLatency == nil {
		t.Fatal("成功测量应记录延迟样本")
	}
}

func TestMeasureLatencyFailure(t *testing.T) {
	rec := newTestRecorder()
	probe := NewProbe(rec, noopLogger())

	_, ok := probe.MeasureLatency(context.Background(), "/api/v3/ping", func(ctx context.Context) error {
		return errors.New("boom")
	})
	if ok {
		t.Fatal("失败调用不应返回 ok")
	}

	stats := rec.Stats()
	if stats.TotalRequests != 1 || stats.FailedRequests != 1 {
		t.Fatalf("失败应计入请求数和失败数: %+v", stats)
	}
	if stats.AvgLatency != nil {
		t.Fatal("失败调用不应产生延迟样本")
	}
	if stats.ConsecutiveFailures != 1 {
		t.Fatalf("失败应推进连续失败数: %d", stats.ConsecutiveFailures)
	}
}

func TestCheckAvailability(t *testing.T) {
	rec := newTestRecorder()
	probe := NewProbe(rec, noopLogger())

	if !probe.CheckAvailability(context.Background(), "/api/v3/ping", func(ctx context.Context) error {
		return nil
	}) {
		t.Fatal("可达端点应返回 true")
	}
	if probe.CheckAvailability(context.Background(), "/api/v3/ping", func(ctx context.Context) error {
		return errors.New("down")
	}) {
		t.Fatal("不可达端点应返回 false")
	}

	var values []float64
	for _, r := range rec.Records() {
		if r.Kind == metrics.KindAvailability {
			values = append(values, r.Value)
		}
	}
	if len(values) != 2 || values[0] != 1 || values[1] != 0 {
		t.Fatalf("两次检查都应产生可用性指标: %#v", values)
	}
}
