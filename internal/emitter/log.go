package emitter

import (
	"context"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// LogEmitter writes notifications to the structured log.
type LogEmitter struct {
	logger *telemetry.Logger
}

// NewLogEmitter creates a log sink.
func NewLogEmitter() *LogEmitter {
	return &LogEmitter{logger: telemetry.NewLogger("notifier")}
}

// Name returns "log".
func (e *LogEmitter) Name() string {
	return "log"
}

// Notify logs the alert at WARN, or ERROR for CRITICAL alerts.
func (e *LogEmitter) Notify(ctx context.Context, a types.Alert, event alert.Event) error {
	logger := e.logger.WithContext(ctx)
	entry := logger.Warn()
	if a.Severity == types.SeverityCritical {
		entry = logger.Error()
	}
	entry.
		Str("event", string(event)).
		Str("alert_id", a.ID).
		Str("severity", string(a.Severity)).
		Str("resource_id", a.ResourceID).
		Str("resource_type", a.ResourceType).
		Str("region", a.Region).
		Str("change_kind", string(a.ChangeKind)).
		Int("occurrences", a.OccurrenceCount).
		Msg("drift alert")
	return nil
}

// Close is a no-op.
func (e *LogEmitter) Close() error {
	return nil
}
