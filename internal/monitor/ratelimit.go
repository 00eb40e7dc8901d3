package monitor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/metrics"
)

// Status classifies the current rate-limit pressure.
type Status string

const (
	StatusOK       Status = "OK"
	StatusCritical Status = "CRITICAL"
)

// Usage reports the most loaded REQUEST_WEIGHT bucket.
type Usage struct {
	WeightUsed   int64   `json:"weight_used"`
	WeightLimit  int64   `json:"weight_limit"`
	UsagePercent float64 `json:"usage_percent"`
	Status       Status  `json:"status"`
}

// RateLimitTracker queries exchange-reported quota usage and feeds a
// rate_limit observation into the recorder.
type RateLimitTracker struct {
	api      exchange.API
	rec      *metrics.Recorder
	maxUsage float64
	logger   zerolog.Logger
}

// NewRateLimitTracker constructs a tracker. maxUsage is a fraction in (0,1].
func NewRateLimitTracker(api exchange.API, rec *metrics.Recorder, maxUsage float64, logger zerolog.Logger) *RateLimitTracker {
	return &RateLimitTracker{
		api:      api,
		rec:      rec,
		maxUsage: maxUsage,
		logger:   logger.With().Str("component", "rate_limit_tracker").Logger(),
	}
}

// Check returns the current usage. A failed query returns a zero Usage and an
// error; callers must treat that as unknown, not as OK. An exchange reporting
// no weight buckets yields a zero-valued OK result. Status flips to CRITICAL
// strictly above the threshold, never at equality.
func (t *RateLimitTracker) Check(ctx context.Context) (Usage, error) {
	info, err := t.api.ExchangeInfo(ctx)
	if err != nil {
		return Usage{}, fmt.Errorf("query exchange info: %w", err)
	}

	usage := Usage{Status: StatusOK}
	for _, rl := range info.RateLimits {
		if rl.Type != exchange.RateLimitRequestWeight || rl.Limit <= 0 {
			continue
		}
		pct := float64(rl.Current) / float64(rl.Limit) * 100
		if usage.WeightLimit == 0 || pct > usage.UsagePercent {
			usage.WeightUsed = rl.Current
			usage.WeightLimit = rl.Limit
			usage.UsagePercent = pct
		}
	}

	if usage.UsagePercent > t.maxUsage*100 {
		usage.Status = StatusCritical
	}

	t.rec.Record(metrics.KindRateLimit, usage.UsagePercent, "exchange_info")
	return usage, nil
}
