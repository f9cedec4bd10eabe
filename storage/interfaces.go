// Package storage persists ScanRuns and Alerts.
package storage

import (
	"context"

	"github.com/yairfalse/driftwatch/types"
)

// ScanRunWriter records scan runs
type ScanRunWriter interface {
	SaveScanRun(ctx context.Context, run types.ScanRun) error
}

// ScanRunReader queries scan runs
type ScanRunReader interface {
	GetScanRun(ctx context.Context, id string) (types.ScanRun, error)
	// ListScanRuns returns the newest runs first. Limit <= 0 means all.
	ListScanRuns(ctx context.Context, limit int) ([]types.ScanRun, error)
	LatestScanRun(ctx context.Context) (types.ScanRun, error)
}

// AlertWriter records alerts
type AlertWriter interface {
	// UpsertAlert inserts or replaces one alert. Opening a second
	// non-terminal alert for a fingerprint fails with ErrConflict.
	UpsertAlert(ctx context.Context, alert types.Alert) error
}

// AlertReader queries alerts
type AlertReader interface {
	GetAlert(ctx context.Context, id string) (types.Alert, error)
	ListOpenAlerts(ctx context.Context) ([]types.Alert, error)
	// ListAlerts returns matching alerts, most recently seen first.
	ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.Alert, error)
}

// Committer writes a sealed run and its alert delta in one transaction.
// Either everything is stored or nothing is.
type Committer interface {
	Commit(ctx context.Context, run types.ScanRun, alerts []types.Alert) error
}

// Pruner enforces history limits
type Pruner interface {
	// Prune keeps the newest keepRuns runs and keepClosedAlerts closed alerts.
	// Open alerts are never pruned. Zero disables the respective limit.
	Prune(ctx context.Context, keepRuns, keepClosedAlerts int) (PruneResult, error)
}

// PruneResult counts what Prune removed.
type PruneResult struct {
	ScanRuns int
	Alerts   int
}

// Lifecycle manages storage lifecycle
type Lifecycle interface {
	Close() error
}

// Gateway is the complete persistence contract
type Gateway interface {
	ScanRunWriter
	ScanRunReader
	AlertWriter
	AlertReader
	Committer
	Pruner
	Lifecycle
}
