package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kayi2215/bot/internal/config"
	"github.com/kayi2215/bot/internal/exchange"
	"github.com/kayi2215/bot/internal/metrics"
)

// MetricSink receives best-effort batches of recorded observations; satisfied
// by the Postgres store.
type MetricSink interface {
	InsertAPIMetrics(ctx context.Context, recs []metrics.Record) error
}

// Options tune the monitoring service.
type Options struct {
	Endpoints         []config.EndpointConfig
	DefaultInterval   time.Duration
	SummaryInterval   time.Duration
	RateLimitInterval time.Duration
	Tick              time.Duration
	StopTimeout       time.Duration
	Thresholds        metrics.Thresholds
}

type endpointState struct {
	cfg         config.EndpointConfig
	interval    time.Duration
	call        Call
	lastChecked time.Time
}

// Service schedules per-endpoint health checks, evaluates alerts, and emits a
// periodic aggregate summary. One Service exclusively owns one Recorder.
type Service struct {
	opts    Options
	rec     *metrics.Recorder
	probe   *Probe
	tracker *RateLimitTracker
	sink    MetricSink
	logger  zerolog.Logger
	// active alerts re-fire every tick; sample them so the log stays readable
	alertLogger zerolog.Logger

	endpoints     []*endpointState
	lastSummary   time.Time
	lastRateCheck time.Time
	lastFlushed   time.Time

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New wires the service. Unknown endpoint method bindings refuse construction.
func New(api exchange.API, rec *metrics.Recorder, sink MetricSink, opts Options, logger zerolog.Logger) (*Service, error) {
	if opts.Tick <= 0 {
		opts.Tick = time.Second
	}
	if opts.SummaryInterval <= 0 {
		opts.SummaryInterval = 5 * time.Minute
	}
	if opts.RateLimitInterval <= 0 {
		opts.RateLimitInterval = time.Minute
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}

	componentLogger := logger.With().Str("component", "monitoring_service").Logger()
	s := &Service{
		opts:        opts,
		rec:         rec,
		probe:       NewProbe(rec, logger),
		tracker:     NewRateLimitTracker(api, rec, opts.Thresholds.RateLimitUsageMax, logger),
		sink:        sink,
		logger:      componentLogger,
		alertLogger: componentLogger.Sample(&zerolog.BurstSampler{Burst: 3, Period: time.Minute}),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	now := time.Now()
	for _, ep := range opts.Endpoints {
		call, err := bind(api, ep)
		if err != nil {
			return nil, err
		}
		interval := ep.CheckInterval
		if interval <= 0 {
			interval = opts.DefaultInterval
		}
		if interval <= 0 {
			return nil, fmt.Errorf("endpoint %s: no check interval configured", ep.ID)
		}
		s.endpoints = append(s.endpoints, &endpointState{
			cfg:      ep,
			interval: interval,
			call:     call,
			// stagger the first round one interval back so it runs immediately
			lastChecked: now.Add(-interval),
		})
	}

	s.lastSummary = now
	s.lastFlushed = now
	return s, nil
}

func bind(api exchange.API, ep config.EndpointConfig) (Call, error) {
	limit := ep.Limit
	if limit <= 0 {
		limit = 100
	}
	klineInterval := ep.KlineInterval
	if klineInterval == "" {
		klineInterval = "1m"
	}

	switch ep.Method {
	case "get_ticker":
		return func(ctx context.Context) error {
			_, err := api.Ticker(ctx, ep.Symbol)
			return err
		}, nil
	case "get_order_book":
		return func(ctx context.Context) error {
			_, err := api.OrderBook(ctx, ep.Symbol, limit)
			return err
		}, nil
	case "get_klines":
		return func(ctx context.Context) error {
			_, err := api.Klines(ctx, ep.Symbol, klineInterval, limit)
			return err
		}, nil
	case "get_recent_trades":
		return func(ctx context.Context) error {
			_, err := api.RecentTrades(ctx, ep.Symbol, limit)
			return err
		}, nil
	case "ping":
		return api.Ping, nil
	default:
		return nil, fmt.Errorf("endpoint %s: unknown method binding %q", ep.ID, ep.Method)
	}
}

// Summary returns the current metrics summary with active alerts.
func (s *Service) Summary() metrics.Summary {
	return s.rec.Summary(s.opts.Thresholds)
}

// Run blocks, ticking until ctx is cancelled or Stop is called.
func (s *Service) Run(ctx context.Context) {
	defer close(s.done)
	s.started.Store(true)
	s.logger.Info().Int("endpoints", len(s.endpoints)).Msg("monitoring service started")

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("monitoring service stopping")
			return
		case <-s.stop:
			s.logger.Info().Msg("monitoring service stopping")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals the loop and waits up to the stop timeout for it to exit. On a
// service whose Run was never started there is nothing to join; Stop returns
// immediately.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	if !s.started.Load() {
		return
	}
	select {
	case <-s.done:
		s.logger.Info().Msg("monitoring service stopped")
	case <-time.After(s.opts.StopTimeout):
		s.logger.Warn().Dur("timeout", s.opts.StopTimeout).Msg("monitoring service did not stop within timeout")
	}
}

func (s *Service) tick(ctx context.Context) {
	now := time.Now()

	for _, ep := range s.endpoints {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		default:
		}
		if now.Sub(ep.lastChecked) < ep.interval {
			continue
		}
		// advanced regardless of outcome so a failing endpoint is not
		// re-probed every tick
		ep.lastChecked = now
		s.checkEndpoint(ctx, ep)
	}

	if now.Sub(s.lastRateCheck) >= s.opts.RateLimitInterval {
		s.lastRateCheck = now
		s.checkRateLimits(ctx)
	}

	s.logAlerts()

	if now.Sub(s.lastSummary) >= s.opts.SummaryInterval {
		s.lastSummary = now
		s.logSummary()
		s.flushMetrics(ctx)
	}
}

func (s *Service) checkEndpoint(ctx context.Context, ep *endpointState) {
	// availability gates latency: an unreachable endpoint yields no sample
	if !s.probe.CheckAvailability(ctx, ep.cfg.ID, ep.call) {
		return
	}
	if ms, ok := s.probe.MeasureLatency(ctx, ep.cfg.ID, ep.call); ok {
		s.logger.Debug().Str("endpoint", ep.cfg.ID).Float64("latency_ms", ms).Msg("endpoint checked")
	}
}

func (s *Service) checkRateLimits(ctx context.Context) {
	usage, err := s.tracker.Check(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate limit usage unknown")
		return
	}
	if usage.Status == StatusCritical {
		s.logger.Warn().
			Int64("weight_used", usage.WeightUsed).
			Int64("weight_limit", usage.WeightLimit).
			Float64("usage_percent", usage.UsagePercent).
			Msg("rate limit usage critical")
	}
}

func (s *Service) logAlerts() {
	summary := s.Summary()
	for _, alert := range summary.Alerts {
		s.alertLogger.Warn().
			Str("alert", alert.Kind).
			Float64("observed", alert.ObservedValue).
			Float64("threshold", alert.Threshold).
			Msg(alert.Message)
	}
}

func (s *Service) logSummary() {
	summary := s.Summary()
	event := s.logger.Info().
		Int("total_requests", summary.TotalRequests).
		Int("failed_requests", summary.FailedRequests).
		Float64("error_rate", summary.ErrorRate).
		Int("consecutive_failures", summary.ConsecutiveFailures).
		Int("active_alerts", len(summary.Alerts))
	if summary.AvgLatency != nil {
		event = event.
			Float64("avg_latency_ms", *summary.AvgLatency).
			Float64("min_latency_ms", *summary.MinLatency).
			Float64("max_latency_ms", *summary.MaxLatency)
	}
	event.Msg("metrics summary")
}

// flushMetrics persists observations recorded since the last flush. Best
// effort: a failed write is logged and retried implicitly on the next flush.
func (s *Service) flushMetrics(ctx context.Context) {
	if s.sink == nil {
		return
	}
	recs := s.rec.RecordsSince(s.lastFlushed)
	if len(recs) == 0 {
		return
	}
	if err := s.sink.InsertAPIMetrics(ctx, recs); err != nil {
		s.logger.Error().Err(err).Int("records", len(recs)).Msg("failed to persist api metrics")
		return
	}
	s.lastFlushed = recs[len(recs)-1].Timestamp
}
