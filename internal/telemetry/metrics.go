package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ScanMetrics holds the instruments recorded by the run coordinator.
// A nil *ScanMetrics records nothing.
type ScanMetrics struct {
	drift          metric.Int64Counter
	alerts         metric.Int64Counter
	skipped        metric.Int64Counter
	regionFailures metric.Int64Counter
	resources      metric.Int64Gauge
	fetchDuration  metric.Float64Histogram
}

// NewScanMetrics creates the pipeline instruments on meter.
func NewScanMetrics(meter metric.Meter) (*ScanMetrics, error) {
	var (
		m   ScanMetrics
		err error
	)

	m.drift, err = meter.Int64Counter(
		"driftwatch.drift.records",
		metric.WithDescription("Drift records found by scans"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create drift counter: %w", err)
	}

	m.alerts, err = meter.Int64Counter(
		"driftwatch.alerts.transitions",
		metric.WithDescription("Alert changes committed by scans"),
		metric.WithUnit("{alert}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create alerts counter: %w", err)
	}

	m.skipped, err = meter.Int64Counter(
		"driftwatch.resources.skipped",
		metric.WithDescription("Resources skipped because they could not be normalized"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create skipped counter: %w", err)
	}

	m.regionFailures, err = meter.Int64Counter(
		"driftwatch.region.failures",
		metric.WithDescription("Observed-state fetches that failed for a region"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create region failures counter: %w", err)
	}

	m.resources, err = meter.Int64Gauge(
		"driftwatch.resources",
		metric.WithDescription("Resources in the last scan by source"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resources gauge: %w", err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"driftwatch.fetch.duration",
		metric.WithDescription("Duration of declared and observed state fetches"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create fetch duration: %w", err)
	}

	return &m, nil
}

// RecordDrift counts one classified drift record.
func (m *ScanMetrics) RecordDrift(ctx context.Context, changeKind, severity, resourceType string) {
	if m == nil {
		return
	}
	m.drift.Add(ctx, 1, metric.WithAttributes(
		attribute.String("change.kind", changeKind),
		attribute.String("severity", severity),
		attribute.String("resource.type", resourceType),
	))
}

// RecordAlerts counts committed alert changes by transition.
func (m *ScanMetrics) RecordAlerts(ctx context.Context, transition string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.alerts.Add(ctx, int64(count), metric.WithAttributes(attribute.String("transition", transition)))
}

// RecordSkipped counts resources dropped during normalization.
func (m *ScanMetrics) RecordSkipped(ctx context.Context, source string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.skipped.Add(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

// RecordRegionFailure counts a failed observed-state fetch.
func (m *ScanMetrics) RecordRegionFailure(ctx context.Context, region string) {
	if m == nil {
		return
	}
	m.regionFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("cloud.region", region)))
}

// RecordResources records the resource count for one side of a scan.
func (m *ScanMetrics) RecordResources(ctx context.Context, source string, count int) {
	if m == nil {
		return
	}
	m.resources.Record(ctx, int64(count), metric.WithAttributes(attribute.String("source", source)))
}

// RecordFetch records how long a fetch took.
func (m *ScanMetrics) RecordFetch(ctx context.Context, source, region string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("cloud.region", region),
	))
}
