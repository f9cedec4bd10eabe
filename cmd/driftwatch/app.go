package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/internal/daemon"
	"github.com/yairfalse/driftwatch/internal/emitter"
	"github.com/yairfalse/driftwatch/internal/filter"
	"github.com/yairfalse/driftwatch/internal/plugin"
	itelemetry "github.com/yairfalse/driftwatch/internal/telemetry"
	"github.com/yairfalse/driftwatch/orchestrator"
	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/policy"
	"github.com/yairfalse/driftwatch/reconciler"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/types"
)

// app holds every long-lived component of one driftwatch process.
type app struct {
	cfg         *config.Config
	telemetry   *itelemetry.Provider
	store       storage.Gateway
	classifier  *policy.Classifier
	dispatcher  *emitter.Dispatcher
	alerts      *alert.Manager
	coordinator *orchestrator.Coordinator
	scheduler   *daemon.Scheduler
}

// newApp wires configuration into a ready pipeline. Close releases
// whatever was opened, even after a partial failure.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.telemetry, err = itelemetry.NewProvider(ctx, cfg.OTEL)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a.store, err = storage.Open(ctx, cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := a.telemetry.ObserveOpenAlerts(a.store); err != nil {
		return nil, err
	}

	table, err := policy.LoadRules(ctx, cfg.Rules.Path, cfg.Rules.PoliciesDir)
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}
	a.classifier = policy.NewClassifier(table)

	a.dispatcher, err = emitter.FromConfig(cfg.Notify)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	a.alerts = alert.NewManager(a.store, alert.Config{
		Notifier:          a.dispatcher,
		NotifyMinSeverity: types.Severity(cfg.Notify.MinSeverity),
	})

	sources, err := plugin.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	ignore, err := filter.New(cfg.Normalize.IgnoreResources)
	if err != nil {
		return nil, err
	}

	normalizer := resource.NewNormalizer(resource.DefaultRegistry(), cfg.Normalize.IgnoreTags)
	a.coordinator, err = orchestrator.NewCoordinator(orchestrator.Config{
		Declared:         sources.Declared,
		Observed:         sources.Observed,
		Regions:          regions(cfg),
		Normalizer:       normalizer,
		Comparator:       reconciler.NewComparator(normalizer.Registry()),
		Classifier:       a.classifier,
		Alerts:           a.alerts,
		Store:            a.store,
		Ignore:           ignore,
		KeepRuns:         cfg.Storage.MaxScanHistory,
		KeepClosedAlerts: cfg.Storage.MaxAlertHistory,
		Tracer:           a.telemetry.Tracer(),
		Metrics:          a.telemetry.ScanMetrics(),
	})
	if err != nil {
		return nil, err
	}

	metrics, err := daemon.NewSchedulerMetrics()
	if err != nil {
		return nil, fmt.Errorf("scheduler metrics: %w", err)
	}
	a.scheduler = daemon.NewScheduler(a.coordinator, daemon.Config{
		Interval:   cfg.Scanner.Interval,
		Paused:     !cfg.Scanner.AutoScan,
		RunOnStart: cfg.Scanner.RunOnStart,
		Metrics:    metrics,
		Runs:       a.store,
	})
	return a, nil
}

// regions falls back to the state's default region in demo mode.
func regions(cfg *config.Config) []string {
	if len(cfg.AWS.Regions) > 0 {
		return cfg.AWS.Regions
	}
	if cfg.State.DefaultRegion != "" {
		return []string{cfg.State.DefaultRegion}
	}
	return []string{"us-east-1"}
}

// Close flushes notifications and telemetry and closes storage.
func (a *app) Close() error {
	var errs []error
	if a.dispatcher != nil {
		errs = append(errs, a.dispatcher.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	return err
}

func (a *app) now() time.Time {
	return time.Now().UTC()
}
