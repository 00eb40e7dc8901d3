package metrics

import (
	"fmt"
	"time"
)

// Alert kinds, in the order Evaluate reports them.
const (
	AlertHighLatency         = "high_latency"
	AlertHighErrorRate       = "high_error_rate"
	AlertConsecutiveFailures = "consecutive_failures"
)

// Alert is a derived threshold breach. Alerts are recomputed on every
// evaluation and never persisted on their own.
type Alert struct {
	Kind          string    `json:"kind"`
	Message       string    `json:"message"`
	ObservedValue float64   `json:"observed_value"`
	Threshold     float64   `json:"threshold"`
	Timestamp     time.Time `json:"timestamp"`
}

// Thresholds configure alert evaluation. Fixed at startup.
type Thresholds struct {
	LatencyMsMax           float64
	ErrorRateMax           float64
	ConsecutiveFailuresMax int
	RateLimitUsageMax      float64
}

// Validate enforces the construction-time invariants.
func (t Thresholds) Validate() error {
	if t.LatencyMsMax <= 0 {
		return fmt.Errorf("latency_ms_max must be greater than zero")
	}
	if t.ErrorRateMax <= 0 || t.ErrorRateMax > 1 {
		return fmt.Errorf("error_rate_max must be in (0,1]")
	}
	if t.ConsecutiveFailuresMax <= 0 {
		return fmt.Errorf("consecutive_failures_max must be greater than zero")
	}
	if t.RateLimitUsageMax <= 0 || t.RateLimitUsageMax > 1 {
		return fmt.Errorf("rate_limit_usage_max must be in (0,1]")
	}
	return nil
}

// Evaluate derives the active alert set from a stats snapshot. It is
// stateless: the same stats and thresholds always yield the same alerts, in
// the order latency, error rate, consecutive failures. Callers wanting
// deduplication across evaluations must apply it themselves.
func Evaluate(stats Stats, t Thresholds) []Alert {
	now := time.Now().UTC()
	var alerts []Alert

	if stats.AvgLatency != nil && *stats.AvgLatency > t.LatencyMsMax {
		alerts = append(alerts, Alert{
			Kind:          AlertHighLatency,
			Message:       fmt.Sprintf("average latency %.1fms exceeds %.1fms", *stats.AvgLatency, t.LatencyMsMax),
			ObservedValue: *stats.AvgLatency,
			Threshold:     t.LatencyMsMax,
			Timestamp:     now,
		})
	}

	if stats.TotalRequests > 0 && stats.ErrorRate > t.ErrorRateMax {
		alerts = append(alerts, Alert{
			Kind:          AlertHighErrorRate,
			Message:       fmt.Sprintf("error rate %.3f exceeds %.3f over %d requests", stats.ErrorRate, t.ErrorRateMax, stats.TotalRequests),
			ObservedValue: stats.ErrorRate,
			Threshold:     t.ErrorRateMax,
			Timestamp:     now,
		})
	}

	if stats.ConsecutiveFailures >= t.ConsecutiveFailuresMax {
		alerts = append(alerts, Alert{
			Kind:          AlertConsecutiveFailures,
			Message:       fmt.Sprintf("%d consecutive failures (limit %d)", stats.ConsecutiveFailures, t.ConsecutiveFailuresMax),
			ObservedValue: float64(stats.ConsecutiveFailures),
			Threshold:     float64(t.ConsecutiveFailuresMax),
			Timestamp:     now,
		})
	}

	return alerts
}
