// Package daemon drives scan runs: periodic cadence, manual triggers and the
// single in-flight run guarantee.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// DefaultInterval is the periodic cadence when none is configured.
const DefaultInterval = 5 * time.Minute

// Runner executes one scan run and seals it.
type Runner interface {
	Run(ctx context.Context, run *types.ScanRun) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, run *types.ScanRun) error

func (f RunnerFunc) Run(ctx context.Context, run *types.ScanRun) error {
	return f(ctx, run)
}

// RunWriter persists runs the runner failed to seal itself.
type RunWriter interface {
	SaveScanRun(ctx context.Context, run types.ScanRun) error
}

// Config holds scheduler configuration
type Config struct {
	Interval time.Duration
	// Paused starts the scheduler with periodic scans disabled.
	Paused     bool
	RunOnStart bool
	Clock      Clock
	NewID      func() string
	Metrics    *SchedulerMetrics
	// Runs, when set, records runs that panicked or returned unsealed.
	Runs RunWriter
}

// Scheduler owns the scan token. At most one ScanRun executes at a time;
// triggers that find the token taken fail with *types.ScanBusyError.
type Scheduler struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	clock      Clock
	newID      func() string
	metrics    *SchedulerMetrics
	runs       RunWriter
	logger     *telemetry.Logger

	// token is the single-owner gate: holding the slot means a run is in flight.
	token  chan struct{}
	paused atomic.Bool

	mu      sync.Mutex
	current *Handle
	last    *types.ScanRun

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler around runner.
func NewScheduler(runner Runner, config Config) *Scheduler {
	s := &Scheduler{
		runner:     runner,
		interval:   config.Interval,
		runOnStart: config.RunOnStart,
		clock:      config.Clock,
		newID:      config.NewID,
		metrics:    config.Metrics,
		runs:       config.Runs,
		logger:     telemetry.NewLogger("scheduler"),
		token:      make(chan struct{}, 1),
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.clock == nil {
		s.clock = RealClock{}
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	s.paused.Store(config.Paused)
	return s
}

// Handle tracks one triggered run.
type Handle struct {
	run     *types.ScanRun
	started types.ScanRun
	done    chan struct{}
	result  types.ScanRun
	err     error
}

// ID returns the run ID.
func (h *Handle) ID() string {
	return h.started.ID
}

// StartedAt returns when the run started.
func (h *Handle) StartedAt() time.Time {
	return h.started.StartedAt
}

// Done is closed once the run is sealed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is sealed or ctx is done.
func (h *Handle) Wait(ctx context.Context) (types.ScanRun, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return types.ScanRun{}, ctx.Err()
	}
}

// Trigger starts a manual run.
func (s *Scheduler) Trigger(ctx context.Context) (*Handle, error) {
	return s.start(ctx, types.TriggerManual)
}

// Pause stops periodic triggers. Manual triggers still work.
func (s *Scheduler) Pause() {
	if !s.paused.Swap(true) {
		s.logger.Info().Msg("periodic scans paused")
	}
}

// Resume re-enables periodic triggers.
func (s *Scheduler) Resume() {
	if s.paused.Swap(false) {
		s.logger.Info().Msg("periodic scans resumed")
	}
}

// Paused reports whether periodic triggers are disabled.
func (s *Scheduler) Paused() bool {
	return s.paused.Load()
}

// Interval returns the periodic cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Running returns the in-flight run as it was when it started.
func (s *Scheduler) Running() (types.ScanRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return types.ScanRun{}, false
	}
	return s.current.started, true
}

// Last returns the most recently sealed run from this process.
func (s *Scheduler) Last() (types.ScanRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return types.ScanRun{}, false
	}
	return *s.last, true
}

// Start runs the periodic loop until ctx is done, then waits for the
// in-flight run to finish. The next periodic run starts one interval after
// the previous run's start, or immediately if that run overran.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.interval).
		Bool("paused", s.Paused()).
		Msg("scheduler started")
	defer s.wg.Wait()

	wait := s.interval
	if s.runOnStart {
		if h, err := s.start(ctx, types.TriggerStartup); err == nil {
			wait = s.waitAfter(ctx, h)
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C():
		}

		if s.Paused() {
			wait = s.interval
			continue
		}

		h, err := s.start(ctx, types.TriggerPeriodic)
		if err != nil {
			// Wait out the run that holds the token and re-anchor on it.
			cur := s.inFlight()
			if cur == nil {
				wait = 0
				continue
			}
			wait = s.waitAfter(ctx, cur)
			continue
		}
		wait = s.waitAfter(ctx, h)
	}
}

// waitAfter blocks until h is sealed and returns the delay until the next
// periodic start anchored on h's start.
func (s *Scheduler) waitAfter(ctx context.Context, h *Handle) time.Duration {
	select {
	case <-h.Done():
	case <-ctx.Done():
		return 0
	}
	next := h.StartedAt().Add(s.interval).Sub(s.clock.Now())
	if next < 0 {
		return 0
	}
	return next
}

func (s *Scheduler) inFlight() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Scheduler) start(ctx context.Context, trigger types.Trigger) (*Handle, error) {
	select {
	case s.token <- struct{}{}:
	default:
		busy := &types.ScanBusyError{Trigger: trigger}
		if cur := s.inFlight(); cur != nil {
			busy.RunningID = cur.ID()
		}
		s.metrics.RecordRejection(ctx, string(trigger))
		s.logger.WithContext(ctx).Info().
			Str("trigger", string(trigger)).
			Str("running_id", busy.RunningID).
			Msg("scan trigger rejected, scan already running")
		return nil, busy
	}

	run := types.NewScanRun(s.newID(), trigger, s.clock.Now())
	h := &Handle{
		run:     run,
		started: *run,
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	s.current = h
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info().
		Str("scan_id", run.ID).
		Str("trigger", string(trigger)).
		Msg("scan started")

	// A run is never cancelled mid-flight by its trigger.
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go s.execute(runCtx, h)
	return h, nil
}

func (s *Scheduler) execute(ctx context.Context, h *Handle) {
	defer s.wg.Done()
	s.metrics.started(ctx)

	err := s.safeRun(ctx, h.run)
	if !h.run.Sealed() {
		if err == nil {
			err = errors.New("runner returned without sealing the run")
		}
		h.run.Fail(s.clock.Now(), err)
		s.persistFailed(ctx, *h.run)
	}

	result := *h.run
	s.metrics.finished(ctx)
	s.metrics.RecordScan(ctx, string(result.Status), string(result.Trigger), result.Duration().Seconds())

	event := s.logger.WithContext(ctx).Info()
	if result.Status == types.ScanFailed {
		event = s.logger.WithContext(ctx).Error().Err(err)
	}
	event.
		Str("scan_id", result.ID).
		Str("status", string(result.Status)).
		Int("drift", result.DriftCount).
		Dur("duration", result.Duration()).
		Msg("scan finished")

	s.mu.Lock()
	s.current = nil
	s.last = &result
	s.mu.Unlock()

	h.result = result
	h.err = err
	<-s.token
	close(h.done)
}

func (s *Scheduler) persistFailed(ctx context.Context, run types.ScanRun) {
	if s.runs == nil {
		return
	}
	if err := s.runs.SaveScanRun(ctx, run); err != nil {
		s.logger.LogStorageError(ctx, "save_failed_run", err)
	}
}

func (s *Scheduler) safeRun(ctx context.Context, run *types.ScanRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r}
		}
	}()
	return s.runner.Run(ctx, run)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("scan panicked: %v", e.value)
}
