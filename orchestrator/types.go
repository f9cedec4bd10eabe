package orchestrator

import (
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/internal/filter"
	itelemetry "github.com/yairfalse/driftwatch/internal/telemetry"
	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/policy"
	"github.com/yairfalse/driftwatch/providers"
	"github.com/yairfalse/driftwatch/reconciler"
	"github.com/yairfalse/driftwatch/storage"
)

// Store is the persistence the coordinator writes itself.
// Sealed runs and alert deltas are committed by the alert manager.
type Store interface {
	storage.ScanRunWriter
	storage.Pruner
}

// Config wires the coordinator's collaborators.
type Config struct {
	Declared providers.DeclaredProvider
	Observed providers.ObservedProvider
	// Regions passed to the observed provider. Empty lets the provider decide.
	Regions []string

	Normalizer *resource.Normalizer
	Comparator *reconciler.Comparator
	Classifier *policy.Classifier
	Alerts     *alert.Manager
	Store      Store

	// Ignore drops matching resources from both sides before comparison.
	Ignore *filter.Filter

	// History limits applied after each successful run. Zero keeps everything.
	KeepRuns         int
	KeepClosedAlerts int

	Tracer  trace.Tracer
	Metrics *itelemetry.ScanMetrics
	Now     func() time.Time
}

// metric and log labels for the two sides of a comparison
const (
	sideDeclared = "declared"
	sideObserved = "observed"
)
