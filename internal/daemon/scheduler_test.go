package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/yairfalse/driftwatch/types"
)

var t0 = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeTimer struct {
	c     chan time.Time
	at    time.Time
	clock *fakeClock
}

func (t *fakeTimer) C() <-chan time.Time { return t.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	for i, p := range t.clock.timers {
		if p == t {
			t.clock.timers = append(t.clock.timers[:i], t.clock.timers[i+1:]...)
			return true
		}
	}
	return false
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: make(chan time.Time, 1), at: c.now.Add(d), clock: c}
	if d <= 0 {
		t.c <- c.now
		return t
	}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	pending := c.timers[:0]
	for _, t := range c.timers {
		if !t.at.After(c.now) {
			t.c <- c.now
			continue
		}
		pending = append(pending, t)
	}
	c.timers = pending
}

func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func waitTimers(t *testing.T, c *fakeClock, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Pending() >= n }, 5*time.Second, time.Millisecond)
}

type fakeRunner struct {
	clock   *fakeClock
	gate    chan struct{}
	started chan types.ScanRun
	err     error
}

func newFakeRunner(clock *fakeClock, blocking bool) *fakeRunner {
	r := &fakeRunner{clock: clock, started: make(chan types.ScanRun, 16)}
	if blocking {
		r.gate = make(chan struct{})
	}
	return r
}

func (r *fakeRunner) Run(_ context.Context, run *types.ScanRun) error {
	r.started <- *run
	if r.gate != nil {
		<-r.gate
	}
	if r.err != nil {
		run.Fail(r.clock.Now(), r.err)
		return r.err
	}
	run.Succeed(r.clock.Now())
	return nil
}

func (r *fakeRunner) next(t *testing.T) types.ScanRun {
	t.Helper()
	select {
	case run := <-r.started:
		return run
	case <-time.After(5 * time.Second):
		t.Fatal("no scan started")
		return types.ScanRun{}
	}
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("run-%d", n)
	}
}

func startLoop(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Start(ctx)
		close(done)
	}()
	return cancel, done
}

func TestTrigger_RejectsWhileRunning(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	runner := newFakeRunner(clock, true)
	s := NewScheduler(runner, Config{Clock: clock, NewID: seqIDs()})

	h, err := s.Trigger(ctx)
	require.NoError(t, err)
	runner.next(t)

	_, err = s.Trigger(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrScanBusy)
	var busy *types.ScanBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, h.ID(), busy.RunningID)
	assert.Equal(t, types.TriggerManual, busy.Trigger)

	running, ok := s.Running()
	require.True(t, ok)
	assert.Equal(t, h.ID(), running.ID)
	assert.Equal(t, types.ScanRunning, running.Status)

	runner.gate <- struct{}{}
	result, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ScanSucceeded, result.Status)
	assert.Empty(t, runner.started, "no second run was created")

	_, ok = s.Running()
	assert.False(t, ok)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, h.ID(), last.ID)

	// Token is released after the run is sealed.
	h2, err := s.Trigger(ctx)
	require.NoError(t, err)
	runner.next(t)
	runner.gate <- struct{}{}
	_, err = h2.Wait(ctx)
	require.NoError(t, err)
}

func TestTrigger_ConcurrentCallersGetOneRun(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	runner := newFakeRunner(clock, true)
	s := NewScheduler(runner, Config{Clock: clock})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*Handle
		rejected int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := s.Trigger(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
				return
			}
			accepted = append(accepted, h)
		}()
	}
	wg.Wait()

	require.Len(t, accepted, 1)
	assert.Equal(t, 19, rejected)
	runner.next(t)
	runner.gate <- struct{}{}
	_, err := accepted[0].Wait(ctx)
	require.NoError(t, err)
}

func TestStart_FixedCadence(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock, false)
	s := NewScheduler(runner, Config{Interval: 5 * time.Minute, Clock: clock})
	cancel, done := startLoop(t, s)

	waitTimers(t, clock, 1)
	clock.Advance(5 * time.Minute)
	r1 := runner.next(t)
	assert.Equal(t, types.TriggerPeriodic, r1.Trigger)
	assert.True(t, r1.StartedAt.Equal(t0.Add(5*time.Minute)))

	waitTimers(t, clock, 1)
	clock.Advance(5 * time.Minute)
	r2 := runner.next(t)
	assert.True(t, r2.StartedAt.Equal(t0.Add(10*time.Minute)))

	cancel()
	<-done
}

func TestStart_OverrunStartsImmediately(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock, true)
	s := NewScheduler(runner, Config{Interval: 5 * time.Minute, Clock: clock})
	cancel, done := startLoop(t, s)

	waitTimers(t, clock, 1)
	clock.Advance(5 * time.Minute)
	runner.next(t)

	// The run takes seven minutes.
	clock.Advance(7 * time.Minute)
	runner.gate <- struct{}{}

	r2 := runner.next(t)
	assert.True(t, r2.StartedAt.Equal(t0.Add(12*time.Minute)))
	runner.gate <- struct{}{}

	cancel()
	<-done
}

func TestStart_PauseAndResume(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock, false)
	s := NewScheduler(runner, Config{Interval: time.Minute, Clock: clock, Paused: true})
	assert.True(t, s.Paused())
	cancel, done := startLoop(t, s)

	waitTimers(t, clock, 1)
	clock.Advance(time.Minute)
	waitTimers(t, clock, 1)
	assert.Empty(t, runner.started)

	s.Resume()
	clock.Advance(time.Minute)
	r := runner.next(t)
	assert.Equal(t, types.TriggerPeriodic, r.Trigger)

	s.Pause()
	assert.True(t, s.Paused())

	cancel()
	<-done
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestStart_PeriodicCollidesWithManual(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	metrics, err := newSchedulerMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test"))
	require.NoError(t, err)

	clock := newFakeClock()
	runner := newFakeRunner(clock, true)
	s := NewScheduler(runner, Config{Interval: 5 * time.Minute, Clock: clock, Metrics: metrics})
	cancel, done := startLoop(t, s)

	waitTimers(t, clock, 1)
	clock.Advance(time.Minute)
	manual, err := s.Trigger(ctx)
	require.NoError(t, err)
	runner.next(t)

	// Periodic tick lands on the running manual scan and is rejected.
	clock.Advance(4 * time.Minute)
	require.Eventually(t, func() bool {
		return collectSum(t, reader, "driftwatch.scan.rejections") == 1
	}, 5*time.Second, time.Millisecond)

	runner.gate <- struct{}{}
	_, err = manual.Wait(ctx)
	require.NoError(t, err)

	// Re-anchored on the manual run's start: t0+1m+5m.
	waitTimers(t, clock, 1)
	clock.Advance(time.Minute)
	r := runner.next(t)
	assert.Equal(t, types.TriggerPeriodic, r.Trigger)
	assert.True(t, r.StartedAt.Equal(t0.Add(6*time.Minute)))
	runner.gate <- struct{}{}

	cancel()
	<-done
	assert.Equal(t, int64(2), collectSum(t, reader, "driftwatch.scans"))
	assert.Equal(t, int64(0), collectSum(t, reader, "driftwatch.scans.in_flight"))
}

func TestStart_RunOnStart(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock, false)
	s := NewScheduler(runner, Config{Interval: 5 * time.Minute, Clock: clock, RunOnStart: true})
	cancel, done := startLoop(t, s)

	r := runner.next(t)
	assert.Equal(t, types.TriggerStartup, r.Trigger)
	assert.True(t, r.StartedAt.Equal(t0))

	waitTimers(t, clock, 1)
	clock.Advance(5 * time.Minute)
	r2 := runner.next(t)
	assert.True(t, r2.StartedAt.Equal(t0.Add(5*time.Minute)))

	cancel()
	<-done
}

func TestStart_WaitsForInFlightRunOnShutdown(t *testing.T) {
	clock := newFakeClock()
	runner := newFakeRunner(clock, true)
	s := NewScheduler(runner, Config{Clock: clock})
	cancel, done := startLoop(t, s)

	h, err := s.Trigger(context.Background())
	require.NoError(t, err)
	runner.next(t)

	cancel()
	select {
	case <-done:
		t.Fatal("Start returned while a scan was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	runner.gate <- struct{}{}
	<-done
	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.ScanSucceeded, result.Status)
}

type recordedRuns struct {
	mu   sync.Mutex
	runs []types.ScanRun
}

func (r *recordedRuns) SaveScanRun(_ context.Context, run types.ScanRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *recordedRuns) saved() []types.ScanRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ScanRun(nil), r.runs...)
}

func TestExecute_FailuresSealRun(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()

	tests := []struct {
		name      string
		runner    Runner
		want      string
		// the scheduler writes only runs the runner did not seal
		persisted bool
	}{
		{
			name: "runner error",
			runner: RunnerFunc(func(_ context.Context, run *types.ScanRun) error {
				err := errors.New("state unavailable")
				run.Fail(clock.Now(), err)
				return err
			}),
			want: "state unavailable",
		},
		{
			name:      "unsealed",
			runner:    RunnerFunc(func(context.Context, *types.ScanRun) error { return nil }),
			want:      "without sealing",
			persisted: true,
		},
		{
			name:      "panic",
			runner:    RunnerFunc(func(context.Context, *types.ScanRun) error { panic("boom") }),
			want:      "scan panicked: boom",
			persisted: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runs := &recordedRuns{}
			s := NewScheduler(tt.runner, Config{Clock: clock, Runs: runs})
			h, err := s.Trigger(ctx)
			require.NoError(t, err)

			result, err := h.Wait(ctx)
			require.Error(t, err)
			assert.Equal(t, types.ScanFailed, result.Status)
			assert.Contains(t, result.Error, tt.want)

			saved := runs.saved()
			if !tt.persisted {
				assert.Empty(t, saved)
				return
			}
			require.Len(t, saved, 1)
			assert.Equal(t, result.ID, saved[0].ID)
			assert.Equal(t, types.ScanFailed, saved[0].Status)
		})
	}
}

func TestNewScheduler_Defaults(t *testing.T) {
	s := NewScheduler(RunnerFunc(func(context.Context, *types.ScanRun) error { return nil }), Config{})
	assert.Equal(t, DefaultInterval, s.Interval())
	assert.False(t, s.Paused())
	assert.NotEmpty(t, s.newID())
}
