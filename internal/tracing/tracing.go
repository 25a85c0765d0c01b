// Package tracing sets up OpenTelemetry spans for mirror jobs.
// Finished spans are written to the application log at debug level.
package tracing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Setup creates a tracer provider and installs it globally.
// The returned function flushes and stops the provider.
func Setup(serviceName, version string, logger *logrus.Logger) (*sdktrace.TracerProvider, func(context.Context) error) {
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(NewLogProcessor(logger)),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(provider)
	return provider, provider.Shutdown
}

// LogProcessor logs every finished span
type LogProcessor struct {
	logger *logrus.Logger
}

// NewLogProcessor creates a span processor writing to logger
func NewLogProcessor(logger *logrus.Logger) *LogProcessor {
	return &LogProcessor{logger: logger}
}

// OnStart does nothing
func (p *LogProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {}

// OnEnd logs the span with its attributes
func (p *LogProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if !p.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	fields := logrus.Fields{
		"span":     s.Name(),
		"trace_id": s.SpanContext().TraceID().String(),
		"span_id":  s.SpanContext().SpanID().String(),
		"duration": s.EndTime().Sub(s.StartTime()).Round(time.Millisecond).String(),
	}
	for _, kv := range s.Attributes() {
		fields[string(kv.Key)] = kv.Value.Emit()
	}

	entry := p.logger.WithFields(fields)
	if s.Status().Code == codes.Error {
		entry.WithField("status", s.Status().Description).Debug("Span failed")
		return
	}
	entry.Debug("Span finished")
}

// Shutdown does nothing
func (p *LogProcessor) Shutdown(ctx context.Context) error {
	return nil
}

// ForceFlush does nothing
func (p *LogProcessor) ForceFlush(ctx context.Context) error {
	return nil
}
