package types

import (
	"slices"
	"time"
)

// AlertStatus is the lifecycle state of an Alert.
type AlertStatus string

const (
	StatusNew          AlertStatus = "NEW"
	StatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	StatusInProgress   AlertStatus = "IN_PROGRESS"
	StatusResolved     AlertStatus = "RESOLVED"
	StatusSuppressed   AlertStatus = "SUPPRESSED"
)

// OpenStatuses are the non-terminal states.
var OpenStatuses = []AlertStatus{StatusNew, StatusAcknowledged, StatusInProgress}

// Open reports whether the status is non-terminal.
func (s AlertStatus) Open() bool {
	return slices.Contains(OpenStatuses, s)
}

// Terminal reports whether the status is RESOLVED or SUPPRESSED.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusSuppressed
}

// Action is a human-driven alert transition.
type Action string

const (
	ActionAcknowledge   Action = "acknowledge"
	ActionStartProgress Action = "start_progress"
	ActionResolve       Action = "resolve"
	ActionSuppress      Action = "suppress"
)

type transition struct {
	from []AlertStatus
	to   AlertStatus
}

// transitions is the legal-predecessor table for human actions.
var transitions = map[Action]transition{
	ActionAcknowledge:   {from: []AlertStatus{StatusNew}, to: StatusAcknowledged},
	ActionStartProgress: {from: []AlertStatus{StatusAcknowledged}, to: StatusInProgress},
	ActionResolve:       {from: []AlertStatus{StatusAcknowledged, StatusInProgress}, to: StatusResolved},
	ActionSuppress:      {from: []AlertStatus{StatusNew, StatusAcknowledged, StatusInProgress}, to: StatusSuppressed},
}

// Target returns the state an action moves to and whether the action is known.
func (a Action) Target() (AlertStatus, bool) {
	t, ok := transitions[a]
	return t.to, ok
}

// CanTransition reports whether action is legal from the given state.
func CanTransition(action Action, from AlertStatus) bool {
	t, ok := transitions[action]
	if !ok {
		return false
	}
	return slices.Contains(t.from, from)
}

// AutoResolveNote is recorded when a scan no longer sees an alert's drift.
const AutoResolveNote = "auto-resolved: drift no longer present"

// SystemActor closes alerts on behalf of the reconciler.
const SystemActor = "system"

// Alert is the long-lived, actionable record of a drift.
type Alert struct {
	ID                   string          `json:"id"`
	Fingerprint          string          `json:"fingerprint"`
	Severity             Severity        `json:"severity"`
	SeverityNote         string          `json:"severity_note,omitempty"`
	Status               AlertStatus     `json:"status"`
	FirstSeen            time.Time       `json:"first_seen"`
	LastSeen             time.Time       `json:"last_seen"`
	OccurrenceCount      int             `json:"occurrence_count"`
	ResourceID           string          `json:"resource_id"`
	ResourceType         string          `json:"resource_type"`
	ResourceAddress      string          `json:"resource_address,omitempty"`
	Region               string          `json:"region"`
	ChangeKind           ChangeKind      `json:"change_kind"`
	LatestAttributeDiffs []AttributeDiff `json:"latest_attribute_diffs"`
	AcknowledgedBy       string          `json:"acknowledged_by,omitempty"`
	ClosedBy             string          `json:"closed_by,omitempty"`
	ResolutionNote       string          `json:"resolution_note,omitempty"`
	ResolvedAt           *time.Time      `json:"resolved_at,omitempty"`
	UpdatedAt            time.Time       `json:"updated_at"`
	LastScanID           string          `json:"last_scan_id,omitempty"`
}

// IsOpen reports whether the alert is still actionable.
func (a *Alert) IsOpen() bool {
	return a.Status.Open()
}

// ClosedAt returns when the alert left the open states, or zero if still open.
func (a *Alert) ClosedAt() time.Time {
	if a.ResolvedAt != nil {
		return *a.ResolvedAt
	}
	if a.Status.Terminal() {
		return a.UpdatedAt
	}
	return time.Time{}
}

// Apply performs a human action on a copy of the alert.
// The receiver is never modified; an illegal action returns *InvalidTransitionError.
func (a Alert) Apply(action Action, actor, note string, now time.Time) (Alert, error) {
	if !CanTransition(action, a.Status) {
		return a, &InvalidTransitionError{AlertID: a.ID, Action: action, From: a.Status}
	}

	to, _ := action.Target()
	next := a
	next.LatestAttributeDiffs = slices.Clone(a.LatestAttributeDiffs)
	next.Status = to
	next.UpdatedAt = now

	switch action {
	case ActionAcknowledge:
		next.AcknowledgedBy = actor
	case ActionStartProgress:
		if next.AcknowledgedBy == "" {
			next.AcknowledgedBy = actor
		}
	case ActionResolve:
		resolvedAt := now
		next.ResolvedAt = &resolvedAt
		next.ResolutionNote = note
		next.ClosedBy = actor
	case ActionSuppress:
		next.ResolutionNote = note
		next.ClosedBy = actor
	}
	return next, nil
}

// AutoResolve closes an open alert whose drift has disappeared.
func (a Alert) AutoResolve(now time.Time, scanID string) Alert {
	next := a
	resolvedAt := now
	next.Status = StatusResolved
	next.ResolvedAt = &resolvedAt
	next.ResolutionNote = AutoResolveNote
	next.ClosedBy = SystemActor
	next.UpdatedAt = now
	next.LastScanID = scanID
	return next
}
