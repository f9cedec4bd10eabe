package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage span names for one scan.
const (
	SpanScan          = "scan"
	SpanFetchDeclared = "scan.fetch_declared"
	SpanFetchObserved = "scan.fetch_observed"
	SpanNormalize     = "scan.normalize"
	SpanCompare       = "scan.compare"
	SpanClassify      = "scan.classify"
	SpanReconcile     = "scan.reconcile"
)

// ScanSpan represents one ScanRun
type ScanSpan struct {
	span trace.Span
}

// StartScan starts the root span of a ScanRun
func StartScan(ctx context.Context, tracer trace.Tracer, runID string, trigger string) (context.Context, *ScanSpan) {
	ctx, span := tracer.Start(ctx, SpanScan,
		trace.WithAttributes(
			attribute.String("scan.id", runID),
			attribute.String("scan.trigger", trigger),
		),
	)
	return ctx, &ScanSpan{span: span}
}

// Span exposes the underlying span for events.
func (s *ScanSpan) Span() trace.Span {
	return s.span
}

// SetCounts records the resource and drift totals
func (s *ScanSpan) SetCounts(declared, observed, drift int) {
	s.span.SetAttributes(
		attribute.Int("resources.declared", declared),
		attribute.Int("resources.observed", observed),
		attribute.Int("drift.count", drift),
	)
}

// End ends the span, marking it failed when err is set
func (s *ScanSpan) End(err error) {
	if err != nil {
		RecordError(s.span, err)
	}
	s.span.End()
}

// StartStage starts a child span for one pipeline stage
func StartStage(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndStage ends a stage span, recording err if any
func EndStage(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	}
	span.End()
}

// RecordError marks the span failed
func RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
