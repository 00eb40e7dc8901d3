package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/metrics"
)

// Call wraps one exchange operation for probing.
type Call func(ctx context.Context) error

// Probe measures a single endpoint per invocation. It is the sole mutator of
// the recorder's request counters and failure streak.
type Probe struct {
	rec    *metrics.Recorder
	logger zerolog.Logger
}

// NewProbe constructs a Probe feeding the given recorder.
func NewProbe(rec *metrics.Recorder, logger zerolog.Logger) *Probe {
	return &Probe{
		rec:    rec,
		logger: logger.With().Str("component", "health_probe").Logger(),
	}
}

// MeasureLatency wraps the call with wall-clock timing. A fault or a logical
// failure counts against the streak and yields no sample; success resets the
// streak and records a latency metric in milliseconds.
func (p *Probe) MeasureLatency(ctx context.Context, endpoint string, call Call) (float64, bool) {
	start := time.Now()
	err := call(ctx)
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		p.rec.RecordFailure(endpoint)
		p.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("latency measurement failed")
		return 0, false
	}

	p.rec.RecordSuccess(endpoint)
	p.rec.Record(metrics.KindLatency, elapsed, endpoint)
	return elapsed, true
}

// CheckAvailability issues a lightweight call and always emits an
// availability metric, 1 for reachable and 0 for not.
func (p *Probe) CheckAvailability(ctx context.Context, endpoint string, call Call) bool {
	if err := call(ctx); err != nil {
		p.rec.RecordFailure(endpoint)
		p.rec.Record(metrics.KindAvailability, 0, endpoint)
		p.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("endpoint unavailable")
		return false
	}

	p.rec.RecordSuccess(endpoint)
	p.rec.Record(metrics.KindAvailability, 1, endpoint)
	return true
}
