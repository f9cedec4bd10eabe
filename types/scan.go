package types

import "time"

// ScanStatus is the outcome of a ScanRun.
type ScanStatus string

const (
	ScanRunning   ScanStatus = "RUNNING"
	ScanSucceeded ScanStatus = "SUCCEEDED"
	ScanFailed    ScanStatus = "FAILED"
)

// Trigger records what started a ScanRun.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
	TriggerStartup  Trigger = "startup"
)

// ScanRun is one execution of fetch, compare, classify and reconcile.
type ScanRun struct {
	ID                    string     `json:"id"`
	Trigger               Trigger    `json:"trigger"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	Status                ScanStatus `json:"status"`
	DeclaredResourceCount int        `json:"declared_resource_count"`
	ObservedResourceCount int        `json:"observed_resource_count"`
	SkippedResourceCount  int        `json:"skipped_resource_count"`
	DriftCount            int        `json:"drift_count"`
	AlertsOpened          int        `json:"alerts_opened"`
	AlertsUpdated         int        `json:"alerts_updated"`
	AlertsResolved        int        `json:"alerts_resolved"`
	Error                 string     `json:"error,omitempty"`

	StateVersion  int      `json:"state_version,omitempty"`
	StateSerial   int64    `json:"state_serial,omitempty"`
	FailedRegions []string `json:"failed_regions,omitempty"`

	DriftBySeverity     map[Severity]int   `json:"drift_by_severity,omitempty"`
	DriftByKind         map[ChangeKind]int `json:"drift_by_kind,omitempty"`
	DriftByResourceType map[string]int     `json:"drift_by_resource_type,omitempty"`
}

// NewScanRun returns a RUNNING run started at now.
func NewScanRun(id string, trigger Trigger, now time.Time) *ScanRun {
	return &ScanRun{
		ID:        id,
		Trigger:   trigger,
		StartedAt: now,
		Status:    ScanRunning,
	}
}

// Sealed reports whether the run has finished.
func (r *ScanRun) Sealed() bool {
	return r.Status != ScanRunning
}

// Succeed seals the run as SUCCEEDED.
func (r *ScanRun) Succeed(now time.Time) {
	if r.Sealed() {
		return
	}
	r.EndedAt = &now
	r.Status = ScanSucceeded
}

// Fail seals the run as FAILED with the triggering error.
// Counts describing an uncommitted alert delta are cleared.
func (r *ScanRun) Fail(now time.Time, err error) {
	if r.Sealed() {
		return
	}
	r.EndedAt = &now
	r.Status = ScanFailed
	r.AlertsOpened = 0
	r.AlertsUpdated = 0
	r.AlertsResolved = 0
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration is the wall time of a sealed run, or zero while running.
func (r *ScanRun) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// CountDrift accumulates the per-severity, per-kind and per-type summaries.
func (r *ScanRun) CountDrift(severity Severity, kind ChangeKind, resourceType string) {
	if r.DriftBySeverity == nil {
		r.DriftBySeverity = make(map[Severity]int)
	}
	if r.DriftByKind == nil {
		r.DriftByKind = make(map[ChangeKind]int)
	}
	if r.DriftByResourceType == nil {
		r.DriftByResourceType = make(map[string]int)
	}
	r.DriftBySeverity[severity]++
	r.DriftByKind[kind]++
	r.DriftByResourceType[resourceType]++
	r.DriftCount++
}
