// Package telemetry adapts OpenTelemetry tracing to the core.Telemetry
// interface so instrumented components stay vendor-neutral.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardline/wardline/core"
)

// Provider implements core.Telemetry on an otel tracer. Metrics are
// handled by Prometheus collectors elsewhere; RecordMetric attaches the
// value as a span event on the current span instead.
type Provider struct {
	tracer trace.Tracer
}

// New creates a provider from the global otel tracer provider
func New(serviceName string) *Provider {
	return &Provider{tracer: otel.Tracer(serviceName)}
}

// StartSpan begins a span and returns the derived context
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric is a no-op here: metrics flow through the Prometheus
// collectors in the metrics package, not through the tracer.
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}
