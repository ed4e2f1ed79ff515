package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
)

// DefaultCooldown is the minimum gap between two alerts of one category
const DefaultCooldown = 15 * time.Minute

type dispatchKey struct{}

// WithDispatch marks ctx as belonging to an alert delivery
func WithDispatch(ctx context.Context) context.Context {
	return context.WithValue(ctx, dispatchKey{}, true)
}

// InDispatch reports whether ctx belongs to an alert delivery. Breaches
// raised from such a context are dropped so a failing delivery cannot
// alert about itself.
func InDispatch(ctx context.Context) bool {
	v, _ := ctx.Value(dispatchKey{}).(bool)
	return v
}

// Dispatcher delivers an alert for a breach that passed its cooldown
type Dispatcher interface {
	Dispatch(ctx context.Context, breach Breach) error
}

// Evaluator gates breaches per category. A category that fired is cooling
// until the cooldown has elapsed; breaches while cooling are ignored.
type Evaluator struct {
	dispatcher Dispatcher
	cooldown   time.Duration
	now        func() time.Time
	logger     *logging.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	lastAlert map[Category]time.Time

	inflight sync.WaitGroup
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithCooldown overrides DefaultCooldown
func WithCooldown(d time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		e.cooldown = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		e.now = now
	}
}

// WithEvaluatorLogger sets the logger
func WithEvaluatorLogger(logger *logging.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// WithEvaluatorMetrics records fired, suppressed and failed alerts
func WithEvaluatorMetrics(m *metrics.Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

// NewEvaluator creates an evaluator that hands fired alerts to dispatcher
func NewEvaluator(dispatcher Dispatcher, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		dispatcher: dispatcher,
		cooldown:   DefaultCooldown,
		now:        time.Now,
		logger:     logging.GetLogger(),
		lastAlert:  make(map[Category]time.Time),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Notify reports a breach. It returns true when the breach fired an alert.
// Delivery runs in the background and never blocks or fails the caller.
func (e *Evaluator) Notify(ctx context.Context, breach Breach) bool {
	if InDispatch(ctx) {
		e.logger.WithContext(ctx).WithField("category", string(breach.Category)).
			Debug("Ignoring breach raised during alert delivery")
		return false
	}

	now := e.now()

	e.mu.Lock()
	last, seen := e.lastAlert[breach.Category]
	if seen && now.Sub(last) <= e.cooldown {
		e.mu.Unlock()
		e.metrics.RecordAlert(string(breach.Category), "suppressed")
		return false
	}
	e.lastAlert[breach.Category] = now
	e.mu.Unlock()

	if breach.DetectedAt.IsZero() {
		breach.DetectedAt = now
	}

	e.logger.LogAlertEvent(ctx, "alert_fired", string(breach.Category), logrus.Fields{
		"request_count": breach.Stats.RequestCount,
		"error_count":   breach.Stats.ErrorCount,
	})
	e.metrics.RecordAlert(string(breach.Category), "fired")

	dispatchCtx := WithDispatch(context.WithoutCancel(ctx))
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.LogPanic(dispatchCtx, r, "alert dispatch panicked")
				e.metrics.RecordAlert(string(breach.Category), "failed")
			}
		}()

		if err := e.dispatcher.Dispatch(dispatchCtx, breach); err != nil {
			e.logger.LogAlertEvent(dispatchCtx, "alert_dispatch_failed", string(breach.Category), logrus.Fields{
				"error": err.Error(),
			})
			e.metrics.RecordAlert(string(breach.Category), "failed")
		}
	}()

	return true
}

// LastAlert returns when category last fired
func (e *Evaluator) LastAlert(category Category) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.lastAlert[category]
	return t, ok
}

// Cooling reports whether category is inside its cooldown at now
func (e *Evaluator) Cooling(category Category) bool {
	last, ok := e.LastAlert(category)
	return ok && e.now().Sub(last) <= e.cooldown
}

// Wait blocks until every in-flight delivery has finished or ctx is done
func (e *Evaluator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
