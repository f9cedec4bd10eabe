// Package orchestrator runs one ScanRun end to end:
// fetch, normalize, compare, classify, reconcile and seal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/providers"
	"github.com/yairfalse/driftwatch/reconciler"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// Coordinator executes ScanRuns. It implements daemon.Runner.
type Coordinator struct {
	config Config
	logger *telemetry.Logger
}

// NewCoordinator validates the config and fills defaults.
func NewCoordinator(config Config) (*Coordinator, error) {
	switch {
	case config.Declared == nil:
		return nil, errors.New("declared provider is required")
	case config.Observed == nil:
		return nil, errors.New("observed provider is required")
	case config.Classifier == nil:
		return nil, errors.New("classifier is required")
	case config.Alerts == nil:
		return nil, errors.New("alert manager is required")
	case config.Store == nil:
		return nil, errors.New("store is required")
	}

	if config.Normalizer == nil {
		config.Normalizer = resource.NewNormalizer(resource.DefaultRegistry(), nil)
	}
	if config.Comparator == nil {
		config.Comparator = reconciler.NewComparator(config.Normalizer.Registry())
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer("coordinator")
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Coordinator{
		config: config,
		logger: telemetry.NewLogger("coordinator"),
	}, nil
}

// Run executes one ScanRun and leaves it sealed. A failed run is persisted
// as FAILED and its error returned; no alert state is committed for it.
func (c *Coordinator) Run(ctx context.Context, run *types.ScanRun) error {
	ctx, scan := telemetry.StartScan(ctx, c.config.Tracer, run.ID, string(run.Trigger))

	c.logger.WithContext(ctx).Info().
		Str("scan_id", run.ID).
		Str("trigger", string(run.Trigger)).
		Msg("starting drift scan")

	err := c.begin(ctx, run)
	if err == nil {
		err = c.safeExecute(ctx, run, scan)
	}
	if err == nil && !run.Sealed() {
		err = errors.New("scan finished without sealing the run")
	}
	if err != nil {
		run.Fail(c.config.Now(), err)
		if saveErr := c.config.Store.SaveScanRun(ctx, *run); saveErr != nil {
			c.logger.LogStorageError(ctx, "save_failed_run", saveErr)
		}
		c.logger.LogScanFailed(ctx, run.ID, string(run.Trigger), err)
	}

	telemetry.RecordScanCompletedEvent(scan.Span(),
		run.ID,
		string(run.Status),
		int64(run.DriftCount),
		int64(run.AlertsOpened),
		int64(run.AlertsResolved),
		run.Duration().Seconds(),
	)
	scan.End(err)
	c.finish(ctx, run)
	return err
}

// begin records the RUNNING run so readers see the scan while it executes.
func (c *Coordinator) begin(ctx context.Context, run *types.ScanRun) error {
	if err := c.config.Store.SaveScanRun(ctx, *run); err != nil {
		return fmt.Errorf("record running scan: %w", err)
	}
	return nil
}

// safeExecute turns a panic in any stage into a run error, so the run is
// still sealed and persisted as FAILED.
func (c *Coordinator) safeExecute(ctx context.Context, run *types.ScanRun, scan *telemetry.ScanSpan) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan panicked: %v", r)
		}
	}()
	return c.execute(ctx, run, scan)
}

func (c *Coordinator) execute(ctx context.Context, run *types.ScanRun, scan *telemetry.ScanSpan) error {
	// 1. Fetch declared state
	declared, err := c.fetchDeclared(ctx)
	if err != nil {
		return err
	}
	run.StateVersion = declared.Version
	run.StateSerial = declared.Serial

	// 2. Fetch observed state, tolerating per-region failures
	observed, scope, err := c.fetchObserved(ctx)
	if err != nil {
		return err
	}
	run.FailedRegions = scope.FailedRegions

	// 3. Normalize both sides
	nctx, span := telemetry.StartStage(ctx, c.config.Tracer, telemetry.SpanNormalize,
		attribute.Int("resources.declared", len(declared.Resources)),
		attribute.Int("resources.observed", len(observed)))
	declaredSet := c.normalize(nctx, run, sideDeclared, declared.Resources)
	observedSet := c.normalize(nctx, run, sideObserved, observed)
	declaredSet, observedSet = c.ignore(nctx, declaredSet, observedSet)
	declaredSet = c.scopeDeclared(declaredSet, &scope)
	telemetry.EndStage(span, nil)

	run.DeclaredResourceCount = len(declaredSet)
	run.ObservedResourceCount = len(observedSet)

	// 4. Compare
	_, span = telemetry.StartStage(ctx, c.config.Tracer, telemetry.SpanCompare)
	records := c.config.Comparator.Compare(declaredSet, observedSet)
	span.SetAttributes(attribute.Int("drift.count", len(records)))
	telemetry.EndStage(span, nil)

	// 5. Classify
	classified := c.classify(ctx, run, records, scan)
	scan.SetCounts(run.DeclaredResourceCount, run.ObservedResourceCount, run.DriftCount)

	// 6. Reconcile alerts; seals and commits the run
	delta, err := c.config.Alerts.Reconcile(ctx, run, classified, scope)
	if err != nil {
		return err
	}
	c.recordAlerts(ctx, delta)

	c.prune(ctx)
	return nil
}

func (c *Coordinator) fetchDeclared(ctx context.Context) (providers.DeclaredState, error) {
	ctx, span := telemetry.StartStage(ctx, c.config.Tracer, telemetry.SpanFetchDeclared)
	start := time.Now()

	state, err := c.config.Declared.FetchDeclared(ctx)
	c.config.Metrics.RecordFetch(ctx, sideDeclared, "", time.Since(start).Seconds())
	if err != nil {
		telemetry.EndStage(span, err)
		return providers.DeclaredState{}, fmt.Errorf("fetch declared state: %w", err)
	}

	span.SetAttributes(
		attribute.Int("resources", len(state.Resources)),
		attribute.Int64("state.serial", state.Serial),
	)
	telemetry.EndStage(span, nil)
	return state, nil
}

func (c *Coordinator) fetchObserved(ctx context.Context) ([]resource.RawResource, alert.Scope, error) {
	ctx, span := telemetry.StartStage(ctx, c.config.Tracer, telemetry.SpanFetchObserved,
		attribute.StringSlice("regions", c.config.Regions))
	start := time.Now()

	results := c.config.Observed.FetchObserved(ctx, c.config.Regions)
	c.config.Metrics.RecordFetch(ctx, sideObserved, "", time.Since(start).Seconds())

	var (
		raws     []resource.RawResource
		failures []error
		scope    alert.Scope
	)
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r.Err)
			scope.FailedRegions = append(scope.FailedRegions, r.Region)
			c.config.Metrics.RecordRegionFailure(ctx, r.Region)
			c.logger.WithContext(ctx).Warn().
				Err(r.Err).
				Str("region", r.Region).
				Msg("region unavailable, excluded from this scan")
			continue
		}
		raws = append(raws, r.Resources...)
	}

	if len(results) > 0 && len(failures) == len(results) {
		err := fmt.Errorf("fetch observed state: all %d regions failed: %w", len(results), errors.Join(failures...))
		telemetry.EndStage(span, err)
		return nil, alert.Scope{}, err
	}

	span.SetAttributes(
		attribute.Int("resources", len(raws)),
		attribute.StringSlice("regions.failed", scope.FailedRegions),
	)
	telemetry.EndStage(span, nil)
	return raws, scope, nil
}

// normalize skips resources that fail normalization.
func (c *Coordinator) normalize(ctx context.Context, run *types.ScanRun, side string, raws []resource.RawResource) []resource.Resource {
	resources, errs := c.config.Normalizer.NormalizeAll(raws)
	for _, err := range errs {
		c.logger.LogDataQuality(ctx, side, err)
	}
	if len(errs) > 0 {
		run.SkippedResourceCount += len(errs)
		c.config.Metrics.RecordSkipped(ctx, side, len(errs))
	}
	return resources
}

// ignore drops resources on the ignore list from both sides together, so a
// declared resource ignored by address takes its live counterpart with it.
func (c *Coordinator) ignore(ctx context.Context, declared, observed []resource.Resource) ([]resource.Resource, []resource.Resource) {
	declared, observed, ignored := c.config.Ignore.FilterPair(declared, observed)
	if ignored > 0 {
		c.logger.WithContext(ctx).Debug().
			Int("ignored", ignored).
			Msg("resources ignored by configuration")
	}
	c.config.Metrics.RecordResources(ctx, sideDeclared, len(declared))
	c.config.Metrics.RecordResources(ctx, sideObserved, len(observed))
	return declared, observed
}

// scopeDeclared drops declared resources the observed side could not have
// seen this run and records their types in scope.
func (c *Coordinator) scopeDeclared(declared []resource.Resource, scope *alert.Scope) []resource.Resource {
	coverage, _ := c.config.Observed.(providers.Coverage)
	globals, _ := c.config.Observed.(providers.Globals)
	globalFailed := globals != nil &&
		slices.Contains(scope.FailedRegions, globals.GlobalRegion(c.config.Regions))

	var unscanned []string
	kept := make([]resource.Resource, 0, len(declared))
	for _, r := range declared {
		switch {
		case coverage != nil && !coverage.Covers(r.Type):
			unscanned = append(unscanned, r.Type)
		case globals != nil && globals.Global(r.Type):
			if globalFailed {
				unscanned = append(unscanned, r.Type)
				continue
			}
			kept = append(kept, r)
		case slices.Contains(scope.FailedRegions, r.Region):
		default:
			kept = append(kept, r)
		}
	}

	slices.Sort(unscanned)
	scope.UnscannedTypes = slices.Compact(unscanned)
	return kept
}

func (c *Coordinator) classify(ctx context.Context, run *types.ScanRun, records []resource.DriftRecord, scan *telemetry.ScanSpan) []alert.ClassifiedRecord {
	severities := c.config.Classifier.ClassifyAll(ctx, records)

	out := make([]alert.ClassifiedRecord, len(records))
	for i, rec := range records {
		sev := severities[i]
		out[i] = alert.ClassifiedRecord{DriftRecord: rec, Severity: sev}

		run.CountDrift(sev, rec.ChangeKind, rec.ResourceType)
		c.config.Metrics.RecordDrift(ctx, string(rec.ChangeKind), string(sev), rec.ResourceType)
		telemetry.RecordDriftDetectedEvent(scan.Span(),
			string(rec.ChangeKind),
			rec.ResourceID,
			rec.ResourceType,
			rec.Region,
			string(sev),
			rec.Fingerprint,
		)
	}
	return out
}

func (c *Coordinator) recordAlerts(ctx context.Context, delta alert.Delta) {
	m := c.config.Metrics
	m.RecordAlerts(ctx, "opened", len(delta.Opened))
	m.RecordAlerts(ctx, "updated", len(delta.Updated))
	m.RecordAlerts(ctx, "escalated", len(delta.Escalated))
	m.RecordAlerts(ctx, "resolved", len(delta.Resolved))
}

// prune enforces history limits. The run is already committed, so a
// failure here is logged and does not fail it.
func (c *Coordinator) prune(ctx context.Context) {
	if c.config.KeepRuns <= 0 && c.config.KeepClosedAlerts <= 0 {
		return
	}
	res, err := c.config.Store.Prune(ctx, c.config.KeepRuns, c.config.KeepClosedAlerts)
	if err != nil {
		c.logger.LogStorageError(ctx, "prune", err)
		return
	}
	if res.ScanRuns > 0 || res.Alerts > 0 {
		c.logger.WithContext(ctx).Debug().
			Int("scan_runs", res.ScanRuns).
			Int("alerts", res.Alerts).
			Msg("history pruned")
	}
}

func (c *Coordinator) finish(ctx context.Context, run *types.ScanRun) {
	c.logger.WithContext(ctx).Info().
		Str("scan_id", run.ID).
		Str("status", string(run.Status)).
		Int("declared", run.DeclaredResourceCount).
		Int("observed", run.ObservedResourceCount).
		Int("skipped", run.SkippedResourceCount).
		Int("drift", run.DriftCount).
		Int("alerts_opened", run.AlertsOpened).
		Int("alerts_resolved", run.AlertsResolved).
		Strs("failed_regions", run.FailedRegions).
		Dur("duration", run.Duration()).
		Msg("drift scan complete")
}
