package daemon

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchedulerMetrics holds scheduler metrics using OTEL semantic conventions
type SchedulerMetrics struct {
	scans        metric.Int64Counter
	scanDuration metric.Float64Histogram
	rejections   metric.Int64Counter
	inFlight     metric.Int64UpDownCounter
}

// NewSchedulerMetrics creates scheduler metrics on the global meter provider
func NewSchedulerMetrics() (*SchedulerMetrics, error) {
	return newSchedulerMetrics(otel.Meter("driftwatch.scheduler"))
}

func newSchedulerMetrics(meter metric.Meter) (*SchedulerMetrics, error) {
	scans, err := meter.Int64Counter(
		"driftwatch.scans",
		metric.WithDescription("Number of finished scan runs"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram(
		"driftwatch.scan.duration",
		metric.WithDescription("Duration of scan runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	rejections, err := meter.Int64Counter(
		"driftwatch.scan.rejections",
		metric.WithDescription("Triggers rejected because a scan was already running"),
		metric.WithUnit("{trigger}"),
	)
	if err != nil {
		return nil, err
	}

	inFlight, err := meter.Int64UpDownCounter(
		"driftwatch.scans.in_flight",
		metric.WithDescription("Scan runs currently executing"),
		metric.WithUnit("{scan}"),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerMetrics{
		scans:        scans,
		scanDuration: scanDuration,
		rejections:   rejections,
		inFlight:     inFlight,
	}, nil
}

// RecordScan records a sealed scan run
func (m *SchedulerMetrics) RecordScan(ctx context.Context, status, trigger string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("trigger", trigger),
	)
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, durationSeconds, attrs)
}

// RecordRejection records a busy rejection
func (m *SchedulerMetrics) RecordRejection(ctx context.Context, trigger string) {
	if m == nil {
		return
	}
	m.rejections.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

func (m *SchedulerMetrics) started(ctx context.Context) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, 1)
}

func (m *SchedulerMetrics) finished(ctx context.Context) {
	if m == nil {
		return
	}
	m.inFlight.Add(ctx, -1)
}
