package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordDriftDetectedEvent emits a span event for one classified drift
func RecordDriftDetectedEvent(
	span trace.Span,
	changeKind string,
	resourceID string,
	resourceType string,
	region string,
	severity string,
	fingerprint string,
) {
	if span == nil {
		return
	}

	span.AddEvent("drift.detected", trace.WithAttributes(
		attribute.String("event.type", "drift.detected"),
		attribute.String("change.kind", changeKind),
		attribute.String("resource.id", resourceID),
		attribute.String("resource.type", resourceType),
		attribute.String("cloud.region", region),
		attribute.String("severity", severity),
		attribute.String("fingerprint", fingerprint),
	))
}

// RecordAlertTransitionEvent emits a span event when an alert opens, escalates or closes
func RecordAlertTransitionEvent(
	span trace.Span,
	transition string,
	alertID string,
	resourceID string,
	severity string,
	status string,
) {
	if span == nil {
		return
	}

	span.AddEvent("alert."+transition, trace.WithAttributes(
		attribute.String("event.type", "alert."+transition),
		attribute.String("alert.id", alertID),
		attribute.String("resource.id", resourceID),
		attribute.String("severity", severity),
		attribute.String("alert.status", status),
	))
}

// RecordScanCompletedEvent emits a span event summarizing a sealed run
func RecordScanCompletedEvent(
	span trace.Span,
	runID string,
	status string,
	driftCount int64,
	alertsOpened int64,
	alertsResolved int64,
	durationSeconds float64,
) {
	if span == nil {
		return
	}

	span.AddEvent("scan.completed", trace.WithAttributes(
		attribute.String("event.type", "scan.completed"),
		attribute.String("scan.id", runID),
		attribute.String("scan.status", status),
		attribute.Int64("drift.count", driftCount),
		attribute.Int64("alerts.opened", alertsOpened),
		attribute.Int64("alerts.resolved", alertsResolved),
		attribute.Float64("duration.seconds", durationSeconds),
	))
}
