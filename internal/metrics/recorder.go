package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a recorded observation.
type Kind string

const (
	KindLatency      Kind = "latency"
	KindAvailability Kind = "availability"
	KindError        Kind = "error"
	KindRateLimit    Kind = "rate_limit"
)

// Record is a single timestamped observation. Immutable once appended.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"kind"`
	Value     float64   `json:"value"`
	Endpoint  string    `json:"endpoint"`
	Exchange  string    `json:"exchange"`
	Testnet   bool      `json:"testnet"`
}

// Stats summarises the recorded observations. The latency fields are nil
// when no latency samples exist; nil means "no data", not zero.
type Stats struct {
	TotalRequests       int      `json:"total_requests"`
	FailedRequests      int      `json:"failed_requests"`
	ErrorRate           float64  `json:"error_rate"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	AvgLatency          *float64 `json:"avg_latency,omitempty"`
	MinLatency          *float64 `json:"min_latency,omitempty"`
	MaxLatency          *float64 `json:"max_latency,omitempty"`
}

// Summary bundles the current stats with the alerts they trigger.
type Summary struct {
	Stats
	Alerts []Alert `json:"alerts"`
}

// Options parameterise a Recorder.
type Options struct {
	Exchange         string
	Testnet          bool
	Capacity         int
	SnapshotPath     string
	SnapshotInterval time.Duration
}

const (
	defaultCapacity         = 4096
	defaultSnapshotInterval = 30 * time.Second
)

// Recorder keeps a bounded in-memory ring of observations plus the request
// counters derived from probe outcomes. Every probe attempt counts as one
// request; every failed attempt counts as one failed request. Appends and
// snapshot writes are serialised by a mutex so the recorder may be shared
// between the monitoring loop and summary readers.
type Recorder struct {
	mu     sync.Mutex
	opts   Options
	logger zerolog.Logger

	records []Record
	head    int
	count   int

	totalRequests  int
	failedRequests int
	streak         int

	lastSnapshot time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(opts Options, logger zerolog.Logger) *Recorder {
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = defaultSnapshotInterval
	}
	return &Recorder{
		opts:    opts,
		logger:  logger.With().Str("component", "metric_recorder").Logger(),
		records: make([]Record, opts.Capacity),
	}
}

// Record appends an observation stamped with the current time and the
// process-wide exchange/testnet tags.
func (r *Recorder) Record(kind Kind, value float64, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.append(kind, value, endpoint)
	r.maybeSnapshot(false)
}

// RecordSuccess counts one successful probe attempt and resets the failure
// streak.
func (r *Recorder) RecordSuccess(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRequests++
	r.streak = 0
	r.maybeSnapshot(false)
}

// RecordFailure counts one failed probe attempt, extends the failure streak,
// and appends an error observation. It needs no measured value, so failures
// that happen before anything could be measured are still counted.
func (r *Recorder) RecordFailure(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalRequests++
	r.failedRequests++
	r.streak++
	r.append(KindError, 1, endpoint)
	r.maybeSnapshot(false)
}

// Streak returns the current consecutive-failure count.
func (r *Recorder) Streak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streak
}

// Records returns a copy of the retained observations in insertion order.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotRecords()
}

// RecordsSince returns retained observations strictly newer than t.
func (r *Recorder) RecordsSince(t time.Time) []Record {
	all := r.Records()
	out := make([]Record, 0, len(all))
	for _, rec := range all {
		if rec.Timestamp.After(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Stats computes the rolling summary over the retained observations.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statsLocked()
}

// Summary returns the stats together with the alerts they trigger.
func (r *Recorder) Summary(thresholds Thresholds) Summary {
	stats := r.Stats()
	return Summary{Stats: stats, Alerts: Evaluate(stats, thresholds)}
}

// Close flushes a final snapshot.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.maybeSnapshot(true)
}

func (r *Recorder) append(kind Kind, value float64, endpoint string) {
	rec := Record{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Value:     value,
		Endpoint:  endpoint,
		Exchange:  r.opts.Exchange,
		Testnet:   r.opts.Testnet,
	}
	idx := (r.head + r.count) % len(r.records)
	r.records[idx] = rec
	if r.count < len(r.records) {
		r.count++
	} else {
		r.head = (r.head + 1) % len(r.records)
	}
}

func (r *Recorder) snapshotRecords() []Record {
	out := make([]Record, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.records[(r.head+i)%len(r.records)])
	}
	return out
}

func (r *Recorder) statsLocked() Stats {
	stats := Stats{
		TotalRequests:       r.totalRequests,
		FailedRequests:      r.failedRequests,
		ConsecutiveFailures: r.streak,
	}
	if r.totalRequests > 0 {
		stats.ErrorRate = float64(r.failedRequests) / float64(r.totalRequests)
	}

	var sum, min, max float64
	n := 0
	for i := 0; i < r.count; i++ {
		rec := r.records[(r.head+i)%len(r.records)]
		if rec.Kind != KindLatency {
			continue
		}
		if n == 0 {
			min, max = rec.Value, rec.Value
		} else {
			if rec.Value < min {
				min = rec.Value
			}
			if rec.Value > max {
				max = rec.Value
			}
		}
		sum += rec.Value
		n++
	}
	if n > 0 {
		avg := sum / float64(n)
		stats.AvgLatency = &avg
		stats.MinLatency = &min
		stats.MaxLatency = &max
	}
	return stats
}

type snapshotFile struct {
	WrittenAt time.Time `json:"written_at"`
	Exchange  string    `json:"exchange"`
	Testnet   bool      `json:"testnet"`
	Stats     Stats     `json:"stats"`
	Records   []Record  `json:"records"`
}

// maybeSnapshot overwrites the snapshot file, rate-limited to one write per
// snapshot interval unless forced. Failures are logged, never returned.
func (r *Recorder) maybeSnapshot(force bool) {
	if r.opts.SnapshotPath == "" {
		return
	}
	now := time.Now()
	if !force && now.Sub(r.lastSnapshot) < r.opts.SnapshotInterval {
		return
	}
	r.lastSnapshot = now

	payload := snapshotFile{
		WrittenAt: now.UTC(),
		Exchange:  r.opts.Exchange,
		Testnet:   r.opts.Testnet,
		Stats:     r.statsLocked(),
		Records:   r.snapshotRecords(),
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to marshal metrics snapshot")
		return
	}
	if dir := filepath.Dir(r.opts.SnapshotPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			r.logger.Error().Err(err).Str("path", r.opts.SnapshotPath).Msg("failed to create snapshot directory")
			return
		}
	}
	if err := os.WriteFile(r.opts.SnapshotPath, data, 0o644); err != nil {
		r.logger.Error().Err(err).Str("path", r.opts.SnapshotPath).Msg("failed to write metrics snapshot")
	}
}
