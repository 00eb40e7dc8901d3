package metrics

import (
	"testing"
)

func TestEvaluateOrderDeterministic(t *testing.T) {
	avg := 5000.0
	stats := Stats{
		TotalRequests:       10,
		FailedRequests:      5,
		ErrorRate:           0.5,
		ConsecutiveFailures: 4,
		AvgLatency:          &avg,
	}

	alerts := Evaluate(stats, testThresholds())
	if len(alerts) != 3 {
		t.Fatalf("应产生三条告警, 实际 %d", len(alerts))
	}
	want := []string{AlertHighLatency, AlertHighErrorRate, AlertConsecutiveFailures}
	for i, kind := range want {
		if alerts[i].Kind != kind {
			t.Fatalf("告警顺序应固定, 位置 %d 期望 %s 实际 %s", i, kind, alerts[i].Kind)
		}
	}
}

func TestEvaluateNoTraffic(t *testing.T) {
	stats := Stats{ErrorRate: 1.0}
	alerts := Evaluate(stats, testThresholds())
	if len(alerts) != 0 {
		t.Fatalf("没有请求时不应有错误率告警: %#v", alerts)
	}
}

func TestEvaluateAtThreshold(t *testing.T) {
	avg := 1000.0
	stats := Stats{
		TotalRequests: 100,
		ErrorRate:     0.1,
		AvgLatency:    &avg,
	}
	alerts := Evaluate(stats, testThresholds())
	if len(alerts) != 0 {
		t.Fatalf("恰好等于阈值不应告警: %#v", alerts)
	}

	stats.ConsecutiveFailures = 3
	alerts = Evaluate(stats, testThresholds())
	if len(alerts) != 1 || alerts[0].Kind != AlertConsecutiveFailures {
		t.Fatalf("连续失败等于阈值应告警: %#v", alerts)
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := testThresholds().Validate(); err != nil {
		t.Fatalf("合法阈值不应报错: %v", err)
	}

	bad := []Thresholds{
		{LatencyMsMax: 0, ErrorRateMax: 0.1, ConsecutiveFailuresMax: 3, RateLimitUsageMax: 0.8},
		{LatencyMsMax: 1000, ErrorRateMax: 1.5, ConsecutiveFailuresMax: 3, RateLimitUsageMax: 0.8},
		{LatencyMsMax: 1000, ErrorRateMax: 0.1, ConsecutiveFailuresMax: 0, RateLimitUsageMax: 0.8},
		{LatencyMsMax: 1000, ErrorRateMax: 0.1, ConsecutiveFailuresMax: 3, RateLimitUsageMax: 0},
	}
	for i, th := range bad {
		if err := th.Validate(); err == nil {
			t.Fatalf("非法阈值 %d 应报错", i)
		}
	}
}
