package tracing

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Enabled        bool    `json:"enabled"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "helpdesk-relay",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		JaegerEndpoint: "http://localhost:14268/api/traces",
		SamplingRate:   1.0,
		Enabled:        false,
	}
}

// TracingService manages distributed tracing
type TracingService struct {
	tracer     oteltrace.Tracer
	config     *Config
	provider   *trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracingService creates a tracing service exporting to Jaeger. A
// disabled config yields a service whose spans are no-ops.
func NewTracingService(config *Config) (*TracingService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &TracingService{
			tracer: otel.Tracer("noop"),
			config: config,
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(config.SamplingRate))),
	)

	ts := NewWithProvider(config, tp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(ts.propagator)

	return ts, nil
}

// NewWithProvider builds an enabled service on an existing provider
func NewWithProvider(config *Config, tp *trace.TracerProvider) *TracingService {
	cfg := *config
	cfg.Enabled = true

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	return &TracingService{
		tracer:     tp.Tracer(cfg.ServiceName),
		config:     &cfg,
		provider:   tp,
		propagator: propagator,
	}
}

// Shutdown flushes and stops the exporter
func (ts *TracingService) Shutdown(ctx context.Context) error {
	if ts.provider != nil {
		return ts.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// StartHTTPSpan starts a span for an inbound request
func (ts *TracingService) StartHTTPSpan(ctx context.Context, method, route string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("%s %s", method, route),
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.route", route),
		),
	)
}

// StartSubmissionSpan starts a span around one form submission
func (ts *TracingService) StartSubmissionSpan(ctx context.Context, kind string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("submission.%s", kind),
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(attribute.String("submission.kind", kind)),
	)
}

// RecordError records an error in the span and marks it failed
func (ts *TracingService) RecordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TracingMiddleware creates a middleware for distributed tracing
func (ts *TracingService) TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ts.config.Enabled {
			c.Next()
			return
		}

		ctx := ts.propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		ctx, span := ts.StartHTTPSpan(ctx, c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)

		c.Request = c.Request.WithContext(ctx)
		ts.propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)

		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		for _, err := range c.Errors {
			ts.RecordError(span, err.Err)
		}
	}
}

// InstrumentHTTPClient wraps the client's transport with client spans and
// trace context propagation.
func (ts *TracingService) InstrumentHTTPClient(client *http.Client) *http.Client {
	if !ts.config.Enabled {
		return client
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	instrumented := *client
	instrumented.Transport = &tracingTransport{
		base:    base,
		service: ts,
	}
	return &instrumented
}

type tracingTransport struct {
	base    http.RoundTripper
	service *TracingService
}

// RoundTrip implements http.RoundTripper
func (tt *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := tt.service.tracer.Start(req.Context(), fmt.Sprintf("HTTP %s", req.Method),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.host", req.URL.Host),
			attribute.String("http.target", req.URL.Path),
		),
	)
	defer span.End()

	req = req.Clone(ctx)
	tt.service.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := tt.base.RoundTrip(req)
	if err != nil {
		tt.service.RecordError(span, err)
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return resp, nil
}

// TraceableFunction wraps a function with tracing
func (ts *TracingService) TraceableFunction(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := ts.StartSpan(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		ts.RecordError(span, err)
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// TraceWithResult wraps a function returning a value with tracing
func TraceWithResult[T any](ctx context.Context, ts *TracingService, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, span := ts.StartSpan(ctx, name)
	defer span.End()

	result, err := fn(ctx)
	if err != nil {
		ts.RecordError(span, err)
		return result, err
	}

	span.SetStatus(codes.Ok, "")
	return result, nil
}

// GetTraceID returns the trace ID from the context
func GetTraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context
func GetSpanID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}
