// Package alert owns the alert lifecycle: deduplication by fingerprint,
// auto-resolution and human-driven transitions.
package alert

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// Store is the persistence the manager needs.
type Store interface {
	storage.AlertReader
	storage.AlertWriter
	storage.Committer
}

// ClassifiedRecord is a drift record with its assigned severity.
type ClassifiedRecord struct {
	resource.DriftRecord
	Severity types.Severity
}

// Scope narrows reconciliation for a partially failed scan.
type Scope struct {
	// FailedRegions are regions whose observed state could not be fetched.
	// Open alerts there are left untouched.
	FailedRegions []string
	// UnscannedTypes are resource types that went unobserved this run,
	// such as global services scanned from a failed region.
	UnscannedTypes []string
}

func (s Scope) excludes(a types.Alert) bool {
	return slices.Contains(s.FailedRegions, a.Region) || slices.Contains(s.UnscannedTypes, a.ResourceType)
}

// Delta is the set of alert changes committed for one ScanRun.
type Delta struct {
	Opened    []types.Alert
	Updated   []types.Alert
	Escalated []types.Alert
	Resolved  []types.Alert
}

// Alerts returns every alert written by the delta.
func (d Delta) Alerts() []types.Alert {
	out := make([]types.Alert, 0, len(d.Opened)+len(d.Updated)+len(d.Resolved))
	out = append(out, d.Opened...)
	out = append(out, d.Updated...)
	out = append(out, d.Resolved...)
	return out
}

// Config holds manager configuration
type Config struct {
	Notifier Notifier
	// NotifyMinSeverity filters notifications. Empty sends everything.
	NotifyMinSeverity types.Severity
	Now               func() time.Time
	NewID             func() string
}

// Manager is the only writer of alert state.
type Manager struct {
	mu       sync.Mutex
	store    Store
	notifier Notifier
	minSev   types.Severity
	now      func() time.Time
	newID    func() string
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// NewManager creates a manager over store.
func NewManager(store Store, config Config) *Manager {
	m := &Manager{
		store:    store,
		notifier: config.Notifier,
		minSev:   config.NotifyMinSeverity,
		now:      config.Now,
		newID:    config.NewID,
		logger:   telemetry.NewLogger("alert-manager"),
		tracer:   otel.Tracer("alert-manager"),
	}
	if m.notifier == nil {
		m.notifier = NopNotifier{}
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.newID == nil {
		m.newID = func() string { return uuid.NewString() }
	}
	return m
}

// Reconcile folds one ScanRun's classified records into the alert set and
// commits the sealed run together with the whole delta. On error nothing is
// committed and run is left unsealed for the caller to fail.
func (m *Manager) Reconcile(ctx context.Context, run *types.ScanRun, records []ClassifiedRecord, scope Scope) (Delta, error) {
	ctx, span := m.tracer.Start(ctx, telemetry.SpanReconcile,
		trace.WithAttributes(
			attribute.String("scan.id", run.ID),
			attribute.Int("drift.count", len(records)),
		))
	defer span.End()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	open, err := m.store.ListOpenAlerts(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return Delta{}, fmt.Errorf("load open alerts: %w", err)
	}
	byFingerprint := make(map[string]types.Alert, len(open))
	for _, a := range open {
		byFingerprint[a.Fingerprint] = a
	}

	var delta Delta
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		if seen[rec.Fingerprint] {
			continue
		}
		seen[rec.Fingerprint] = true

		existing, ok := byFingerprint[rec.Fingerprint]
		if !ok {
			delta.Opened = append(delta.Opened, m.open(rec, run.ID, now))
			continue
		}

		updated, escalated := observe(existing, rec, run.ID, now)
		delta.Updated = append(delta.Updated, updated)
		if escalated {
			delta.Escalated = append(delta.Escalated, updated)
		}
	}

	for _, a := range open {
		if seen[a.Fingerprint] || scope.excludes(a) {
			continue
		}
		delta.Resolved = append(delta.Resolved, a.AutoResolve(now, run.ID))
	}

	sealed := *run
	sealed.AlertsOpened = len(delta.Opened)
	sealed.AlertsUpdated = len(delta.Updated)
	sealed.AlertsResolved = len(delta.Resolved)
	sealed.Succeed(now)

	if err := m.store.Commit(ctx, sealed, delta.Alerts()); err != nil {
		telemetry.RecordError(span, err)
		return Delta{}, fmt.Errorf("commit alert delta: %w", err)
	}
	*run = sealed

	m.recordEvents(span, delta)
	m.logger.WithContext(ctx).Info().
		Str("scan_id", run.ID).
		Int("opened", len(delta.Opened)).
		Int("updated", len(delta.Updated)).
		Int("escalated", len(delta.Escalated)).
		Int("resolved", len(delta.Resolved)).
		Msg("alerts reconciled")

	for _, a := range delta.Opened {
		m.notify(ctx, a, EventOpened)
	}
	for _, a := range delta.Escalated {
		m.notify(ctx, a, EventEscalated)
	}
	return delta, nil
}

func (m *Manager) open(rec ClassifiedRecord, scanID string, now time.Time) types.Alert {
	return types.Alert{
		ID:                   m.newID(),
		Fingerprint:          rec.Fingerprint,
		Severity:             rec.Severity,
		Status:               types.StatusNew,
		FirstSeen:            now,
		LastSeen:             now,
		OccurrenceCount:      1,
		ResourceID:           rec.ResourceID,
		ResourceType:         rec.ResourceType,
		ResourceAddress:      rec.ResourceAddress,
		Region:               rec.Region,
		ChangeKind:           rec.ChangeKind,
		LatestAttributeDiffs: slices.Clone(rec.AttributeDiffs),
		UpdatedAt:            now,
		LastScanID:           scanID,
	}
}

// observe refreshes an open alert with a new sighting. Status and
// first_seen never change here.
func observe(a types.Alert, rec ClassifiedRecord, scanID string, now time.Time) (types.Alert, bool) {
	next := a
	next.LastSeen = now
	next.OccurrenceCount++
	next.LatestAttributeDiffs = slices.Clone(rec.AttributeDiffs)
	next.ResourceAddress = rec.ResourceAddress
	next.UpdatedAt = now
	next.LastScanID = scanID

	escalated := false
	switch {
	case rec.Severity.Rank() > a.Severity.Rank():
		escalated = true
		next.SeverityNote = fmt.Sprintf("escalated from %s to %s", a.Severity, rec.Severity)
		next.Severity = rec.Severity
	case rec.Severity.Rank() < a.Severity.Rank():
		next.SeverityNote = fmt.Sprintf("de-escalated from %s to %s", a.Severity, rec.Severity)
		next.Severity = rec.Severity
	}
	return next, escalated
}

func (m *Manager) recordEvents(span trace.Span, delta Delta) {
	for _, a := range delta.Opened {
		telemetry.RecordAlertTransitionEvent(span, "opened", a.ID, a.ResourceID, string(a.Severity), string(a.Status))
	}
	for _, a := range delta.Escalated {
		telemetry.RecordAlertTransitionEvent(span, "escalated", a.ID, a.ResourceID, string(a.Severity), string(a.Status))
	}
	for _, a := range delta.Resolved {
		telemetry.RecordAlertTransitionEvent(span, "resolved", a.ID, a.ResourceID, string(a.Severity), string(a.Status))
	}
}

func (m *Manager) notify(ctx context.Context, a types.Alert, event Event) {
	if m.minSev != "" && !a.Severity.AtLeast(m.minSev) {
		return
	}
	if err := m.notifier.Notify(ctx, a, event); err != nil {
		m.logger.WithContext(ctx).Warn().
			Err(err).
			Str("alert_id", a.ID).
			Str("event", string(event)).
			Msg("notification failed")
	}
}
