package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracer() (*tracetest.InMemoryExporter, *sdktrace.TracerProvider) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
	)
	return exporter, provider
}

func TestOTELHook_StampsTraceIDs(t *testing.T) {
	_, provider := newTestTracer()
	ctx, span := provider.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(OTELHook{})
	logger.Info().Ctx(ctx).Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestOTELHook_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Hook(OTELHook{})
	logger.Info().Ctx(context.Background()).Msg("hello")
	logger.Info().Msg("no ctx")

	assert.NotContains(t, buf.String(), "trace_id")
}

func TestNewLogger_WritesServiceField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)

	logger := NewLogger("scheduler")
	logger.Info().Msg("started")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["service"])
	assert.Equal(t, "started", entry["message"])
}

func TestScanSpan_StagesAndEvents(t *testing.T) {
	exporter, provider := newTestTracer()
	tracer := provider.Tracer("test")

	ctx, scan := StartScan(context.Background(), tracer, "run-1", "manual")
	_, stage := StartStage(ctx, tracer, SpanCompare)
	EndStage(stage, nil)

	RecordDriftDetectedEvent(scan.Span(), "MODIFIED", "i-1", "aws_instance", "us-east-1", "HIGH", "fp")
	RecordAlertTransitionEvent(scan.Span(), "opened", "a-1", "i-1", "HIGH", "NEW")
	RecordScanCompletedEvent(scan.Span(), "run-1", "SUCCEEDED", 1, 1, 0, 0.5)
	scan.SetCounts(3, 2, 1)
	scan.End(nil)

	require.NoError(t, provider.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, SpanCompare, spans[0].Name)
	root := spans[1]
	assert.Equal(t, SpanScan, root.Name)
	assert.Equal(t, root.SpanContext.SpanID(), spans[0].Parent.SpanID())

	names := make([]string, 0, len(root.Events))
	for _, e := range root.Events {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"drift.detected", "alert.opened", "scan.completed"}, names)
}

func TestScanSpan_EndWithError(t *testing.T) {
	exporter, provider := newTestTracer()

	ctx, scan := StartScan(context.Background(), provider.Tracer("test"), "run-2", "periodic")
	scan.End(errors.New("state unavailable"))

	require.NoError(t, provider.ForceFlush(ctx))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "state unavailable", spans[0].Status.Description)
}

func TestRecordEvents_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordDriftDetectedEvent(nil, "EXTRA", "i-1", "aws_instance", "us-east-1", "HIGH", "fp")
		RecordAlertTransitionEvent(nil, "resolved", "a-1", "i-1", "HIGH", "RESOLVED")
		RecordScanCompletedEvent(nil, "run-1", "FAILED", 0, 0, 0, 0)
	})
}
