package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/helpdesk-relay/internal/alerting"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
)

// Thresholds are the breach limits checked by the aggregator. Every
// comparison is strict: a value equal to its threshold does not breach.
type Thresholds struct {
	SlowResponse      time.Duration
	ErrorRate         float64
	RateLimitBreaches int64
	MemoryRatio       float64
	CPURatio          float64
}

// DefaultThresholds returns the standard alerting limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		SlowResponse:      time.Second,
		ErrorRate:         0.10,
		RateLimitBreaches: 5,
		MemoryRatio:       0.90,
		CPURatio:          0.80,
	}
}

// Notifier receives breaches. alerting.Evaluator implements it.
type Notifier interface {
	Notify(ctx context.Context, breach alerting.Breach) bool
}

// RequestInfo identifies the request a lifecycle hook refers to
type RequestInfo struct {
	Method     string
	Path       string
	StatusCode int
	ClientIP   string
	RequestID  string
}

// Aggregator owns the process-wide request counters and response window.
// Hooks are safe for concurrent use; notifications are sent after the lock
// is released.
type Aggregator struct {
	thresholds Thresholds
	notifier   Notifier
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time

	mu                sync.Mutex
	requestCount      int64
	errorCount        int64
	rateLimitBreaches int64
	window            *Window
	lastSample        *alerting.ResourceUsage
	lastSampleAt      time.Time
}

// AggregatorOption configures an Aggregator
type AggregatorOption func(*Aggregator)

// WithThresholds overrides DefaultThresholds
func WithThresholds(t Thresholds) AggregatorOption {
	return func(a *Aggregator) {
		a.thresholds = t
	}
}

// WithWindowSize overrides DefaultWindowSize
func WithWindowSize(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.window = NewWindow(n)
	}
}

// WithMetrics mirrors the aggregator state into Prometheus
func WithMetrics(m *metrics.Metrics) AggregatorOption {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an aggregator reporting breaches to notifier. A nil
// notifier only records.
func NewAggregator(notifier Notifier, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		thresholds: DefaultThresholds(),
		notifier:   notifier,
		logger:     logging.GetLogger(),
		now:        time.Now,
		window:     NewWindow(DefaultWindowSize),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// OnRequestStart counts an incoming request
func (a *Aggregator) OnRequestStart(ctx context.Context, info RequestInfo) {
	a.mu.Lock()
	a.requestCount++
	a.mu.Unlock()
}

// OnResponseFinish records the response time and reports a performance
// breach when it exceeds the slow response threshold.
func (a *Aggregator) OnResponseFinish(ctx context.Context, info RequestInfo, duration time.Duration) {
	a.mu.Lock()
	a.window.Push(float64(duration) / float64(time.Millisecond))
	stats := a.statsLocked()
	a.mu.Unlock()

	a.metrics.UpdateResponsePercentiles(stats.P50Ms, stats.P95Ms, stats.P99Ms)

	if duration > a.thresholds.SlowResponse {
		req := requestContext(info)
		req.Duration = duration
		a.notify(ctx, alerting.Breach{
			Category: alerting.CategoryPerformance,
			Request:  req,
			Stats:    stats,
		})
	}
}

// OnError counts a failed request and reports an error breach when the
// error rate exceeds its threshold.
func (a *Aggregator) OnError(ctx context.Context, info RequestInfo, err error) {
	a.mu.Lock()
	a.errorCount++
	stats := a.statsLocked()
	a.mu.Unlock()

	if stats.ErrorRate > a.thresholds.ErrorRate {
		req := requestContext(info)
		if err != nil {
			req.Error = err.Error()
		}
		a.notify(ctx, alerting.Breach{
			Category: alerting.CategoryError,
			Request:  req,
			Stats:    stats,
		})
	}
}

// OnRateLimited counts a 429 response. The count is a lifetime total and is
// never reset.
func (a *Aggregator) OnRateLimited(ctx context.Context, info RequestInfo) {
	a.mu.Lock()
	a.rateLimitBreaches++
	stats := a.statsLocked()
	a.mu.Unlock()

	if stats.RateLimitBreaches > a.thresholds.RateLimitBreaches {
		a.notify(ctx, alerting.Breach{
			Category: alerting.CategoryRateLimit,
			Request:  requestContext(info),
			Stats:    stats,
		})
	}
}

// RecordResourceSample stores a host sample and reports a resource breach
// when either memory or CPU is over its threshold.
func (a *Aggregator) RecordResourceSample(ctx context.Context, usage alerting.ResourceUsage) {
	a.mu.Lock()
	sample := usage
	a.lastSample = &sample
	a.lastSampleAt = a.now()
	stats := a.statsLocked()
	a.mu.Unlock()

	a.metrics.UpdateResourceUsage(usage.MemoryRatio, usage.CPURatio)

	if usage.MemoryRatio > a.thresholds.MemoryRatio || usage.CPURatio > a.thresholds.CPURatio {
		a.notify(ctx, alerting.Breach{
			Category:  alerting.CategoryResource,
			Stats:     stats,
			Resources: &usage,
		})
	}
}

// SampleResources takes one sample from sampler and records it
func (a *Aggregator) SampleResources(ctx context.Context, sampler ResourceSampler) error {
	usage, err := sampler.Sample(ctx)
	if err != nil {
		return err
	}
	a.RecordResourceSample(ctx, usage)
	return nil
}

// Snapshot returns the current counters and window statistics
func (a *Aggregator) Snapshot() alerting.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

// ResponseTimes returns the windowed response times in milliseconds,
// oldest first.
func (a *Aggregator) ResponseTimes() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.window.Values()
}

// LastResourceSample returns the most recent host sample, if any
func (a *Aggregator) LastResourceSample() (alerting.ResourceUsage, time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.lastSample == nil {
		return alerting.ResourceUsage{}, time.Time{}, false
	}
	return *a.lastSample, a.lastSampleAt, true
}

func (a *Aggregator) statsLocked() alerting.Stats {
	summary := a.window.Summarize()

	var errorRate float64
	if a.requestCount > 0 {
		errorRate = float64(a.errorCount) / float64(a.requestCount)
	}

	return alerting.Stats{
		RequestCount:      a.requestCount,
		ErrorCount:        a.errorCount,
		RateLimitBreaches: a.rateLimitBreaches,
		ErrorRate:         errorRate,
		Samples:           summary.Count,
		AverageMs:         summary.Average,
		P50Ms:             summary.P50,
		P95Ms:             summary.P95,
		P99Ms:             summary.P99,
		MaxMs:             summary.Max,
	}
}

func (a *Aggregator) notify(ctx context.Context, breach alerting.Breach) {
	if a.notifier == nil {
		return
	}
	breach.DetectedAt = a.now()
	a.notifier.Notify(ctx, breach)
}

func requestContext(info RequestInfo) *alerting.RequestContext {
	return &alerting.RequestContext{
		Method:     info.Method,
		Path:       info.Path,
		StatusCode: info.StatusCode,
		ClientIP:   info.ClientIP,
		RequestID:  info.RequestID,
	}
}
