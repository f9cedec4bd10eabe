package alert

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, a types.Alert, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, fmt.Sprintf("%s:%s:%s", event, a.ResourceID, a.Severity))
	return n.err
}

type fixture struct {
	store    *storage.BoltStore
	manager  *Manager
	clock    *fakeClock
	notifier *recordingNotifier
	runs     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clock := &fakeClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	ids := 0
	m := NewManager(store, Config{
		Notifier: notifier,
		Now:      clock.Now,
		NewID: func() string {
			ids++
			return fmt.Sprintf("alert-%d", ids)
		},
	})
	return &fixture{store: store, manager: m, clock: clock, notifier: notifier}
}

func (f *fixture) scan(t *testing.T, scope Scope, records ...ClassifiedRecord) (*types.ScanRun, Delta) {
	t.Helper()
	f.runs++
	f.clock.Advance(5 * time.Minute)
	run := types.NewScanRun(fmt.Sprintf("run-%d", f.runs), types.TriggerPeriodic, f.clock.Now())
	delta, err := f.manager.Reconcile(context.Background(), run, records, scope)
	require.NoError(t, err)
	return run, delta
}

func classified(id, region string, kind types.ChangeKind, sev types.Severity, paths ...string) ClassifiedRecord {
	diffs := make([]types.AttributeDiff, 0, len(paths))
	for _, p := range paths {
		diffs = append(diffs, types.AttributeDiff{Path: p, Declared: "t3.medium", Observed: "t3.large"})
	}
	r := resource.Resource{ID: id, Type: "aws_instance", Region: region}
	return ClassifiedRecord{DriftRecord: resource.NewDriftRecord(r, kind, diffs), Severity: sev}
}

func TestReconcile_OpensNewAlert(t *testing.T) {
	f := newFixture(t)
	rec := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")

	run, delta := f.scan(t, Scope{}, rec)

	require.Len(t, delta.Opened, 1)
	a := delta.Opened[0]
	assert.Equal(t, types.StatusNew, a.Status)
	assert.Equal(t, types.SeverityHigh, a.Severity)
	assert.Equal(t, rec.Fingerprint, a.Fingerprint)
	assert.Equal(t, 1, a.OccurrenceCount)
	assert.Equal(t, a.FirstSeen, a.LastSeen)
	assert.Equal(t, "i-1", a.ResourceID)

	assert.Equal(t, types.ScanSucceeded, run.Status)
	assert.Equal(t, 1, run.AlertsOpened)

	stored, err := f.store.GetScanRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ScanSucceeded, stored.Status)

	assert.Equal(t, []string{"OPENED:i-1:HIGH"}, f.notifier.events)
}

func TestReconcile_DeduplicatesAcrossScans(t *testing.T) {
	f := newFixture(t)
	rec := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")

	_, first := f.scan(t, Scope{}, rec)
	for i := 0; i < 3; i++ {
		_, delta := f.scan(t, Scope{}, rec)
		assert.Empty(t, delta.Opened)
		assert.Len(t, delta.Updated, 1)
	}

	open, err := f.store.ListOpenAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	a := open[0]
	assert.Equal(t, first.Opened[0].ID, a.ID)
	assert.Equal(t, 4, a.OccurrenceCount)
	assert.True(t, a.FirstSeen.Equal(first.Opened[0].FirstSeen), "first_seen is preserved")
	assert.True(t, a.LastSeen.After(a.FirstSeen))
	assert.Equal(t, types.StatusNew, a.Status)
}

func TestReconcile_AutoResolvesVanishedDrift(t *testing.T) {
	f := newFixture(t)
	rec := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")
	_, first := f.scan(t, Scope{}, rec)

	run, delta := f.scan(t, Scope{})
	require.Len(t, delta.Resolved, 1)
	assert.Equal(t, 1, run.AlertsResolved)

	a, err := f.store.GetAlert(context.Background(), first.Opened[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedAt)
	assert.True(t, a.ResolvedAt.Equal(f.clock.Now()))
	assert.Equal(t, types.AutoResolveNote, a.ResolutionNote)
	assert.Equal(t, types.SystemActor, a.ClosedBy)
	assert.Equal(t, 1, a.OccurrenceCount, "count frozen at resolution")
}

func TestReconcile_ReappearingDriftOpensNewAlert(t *testing.T) {
	f := newFixture(t)
	rec := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")

	_, first := f.scan(t, Scope{}, rec)
	f.scan(t, Scope{})
	_, third := f.scan(t, Scope{}, rec)

	require.Len(t, third.Opened, 1)
	assert.NotEqual(t, first.Opened[0].ID, third.Opened[0].ID)

	old, err := f.store.GetAlert(context.Background(), first.Opened[0].ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, old.Status, "closed alerts are never reopened")

	all, err := f.store.ListAlerts(context.Background(), types.AlertFilter{Fingerprint: rec.Fingerprint})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReconcile_FailedRegionIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	east := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")
	west := classified("i-2", "us-west-2", types.ChangeModified, types.SeverityHigh, "instance_type")
	_, first := f.scan(t, Scope{}, east, west)
	require.Len(t, first.Opened, 2)

	_, delta := f.scan(t, Scope{FailedRegions: []string{"us-west-2"}})
	require.Len(t, delta.Resolved, 1)
	assert.Equal(t, "i-1", delta.Resolved[0].ResourceID)

	open, err := f.store.ListOpenAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "i-2", open[0].ResourceID)
	assert.Equal(t, 1, open[0].OccurrenceCount)
}

func TestReconcile_UnscannedTypeIsLeftAlone(t *testing.T) {
	f := newFixture(t)
	instance := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")
	role := ClassifiedRecord{
		DriftRecord: resource.NewDriftRecord(resource.Resource{ID: "deployer", Type: "aws_iam_role", Region: "us-east-1"}, types.ChangeMissing, nil),
		Severity:    types.SeverityHigh,
	}
	_, first := f.scan(t, Scope{}, instance, role)
	require.Len(t, first.Opened, 2)

	_, delta := f.scan(t, Scope{UnscannedTypes: []string{"aws_iam_role"}})
	require.Len(t, delta.Resolved, 1)
	assert.Equal(t, "i-1", delta.Resolved[0].ResourceID)

	open, err := f.store.ListOpenAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "deployer", open[0].ResourceID)
}

func TestReconcile_SeverityChanges(t *testing.T) {
	f := newFixture(t)
	medium := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityMedium, "instance_type")
	critical := medium
	critical.Severity = types.SeverityCritical
	low := medium
	low.Severity = types.SeverityLow

	f.scan(t, Scope{}, medium)

	_, delta := f.scan(t, Scope{}, critical)
	require.Len(t, delta.Escalated, 1)
	assert.Equal(t, types.SeverityCritical, delta.Escalated[0].Severity)
	assert.Equal(t, "escalated from MEDIUM to CRITICAL", delta.Escalated[0].SeverityNote)

	_, delta = f.scan(t, Scope{}, low)
	assert.Empty(t, delta.Escalated)
	require.Len(t, delta.Updated, 1)
	assert.Equal(t, types.SeverityLow, delta.Updated[0].Severity)
	assert.Equal(t, "de-escalated from CRITICAL to LOW", delta.Updated[0].SeverityNote)

	assert.Equal(t, []string{"OPENED:i-1:MEDIUM", "ESCALATED:i-1:CRITICAL"}, f.notifier.events)
}

func TestReconcile_NotifyMinSeverity(t *testing.T) {
	f := newFixture(t)
	f.manager.minSev = types.SeverityHigh

	f.scan(t, Scope{},
		classified("i-1", "us-east-1", types.ChangeModified, types.SeverityLow, "tags.Env"),
		classified("i-2", "us-east-1", types.ChangeMissing, types.SeverityHigh),
	)
	assert.Equal(t, []string{"OPENED:i-2:HIGH"}, f.notifier.events)
}

func TestReconcile_NotificationFailureDoesNotFailScan(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("webhook down")

	run, delta := f.scan(t, Scope{}, classified("i-1", "us-east-1", types.ChangeExtra, types.SeverityHigh))
	assert.Len(t, delta.Opened, 1)
	assert.Equal(t, types.ScanSucceeded, run.Status)
}

type failingStore struct {
	Store
	commitErr error
}

func (s failingStore) Commit(context.Context, types.ScanRun, []types.Alert) error {
	return s.commitErr
}

func TestReconcile_CommitFailureCommitsNothing(t *testing.T) {
	f := newFixture(t)
	rec := classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type")
	f.scan(t, Scope{}, rec)

	broken := NewManager(failingStore{Store: f.store, commitErr: errors.New("disk full")}, Config{Now: f.clock.Now})
	run := types.NewScanRun("run-x", types.TriggerManual, f.clock.Now())
	_, err := broken.Reconcile(context.Background(), run, nil, Scope{})
	require.Error(t, err)

	assert.Equal(t, types.ScanRunning, run.Status, "caller decides how to fail the run")
	assert.Zero(t, run.AlertsResolved)

	open, err := f.store.ListOpenAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, open, 1, "auto-resolution was not committed")
}

func TestReconcile_SameIDDifferentTypes(t *testing.T) {
	f := newFixture(t)
	role := ClassifiedRecord{
		DriftRecord: resource.NewDriftRecord(resource.Resource{ID: "payments", Type: "aws_iam_role", Region: "us-east-1"}, types.ChangeMissing, nil),
		Severity:    types.SeverityHigh,
	}
	cluster := ClassifiedRecord{
		DriftRecord: resource.NewDriftRecord(resource.Resource{ID: "payments", Type: "aws_ecs_cluster", Region: "us-east-1"}, types.ChangeMissing, nil),
		Severity:    types.SeverityHigh,
	}
	require.NotEqual(t, role.Fingerprint, cluster.Fingerprint)

	_, delta := f.scan(t, Scope{}, role, cluster)
	require.Len(t, delta.Opened, 2)

	// the cluster drift is gone, the role drift is not
	_, delta = f.scan(t, Scope{}, role)
	require.Len(t, delta.Resolved, 1)
	assert.Equal(t, "aws_ecs_cluster", delta.Resolved[0].ResourceType)
}

func TestReconcile_SecurityGroupScenario(t *testing.T) {
	f := newFixture(t)
	r := resource.Resource{ID: "sg-1", Type: "aws_security_group", Region: "us-east-1"}
	rec := ClassifiedRecord{
		DriftRecord: resource.NewDriftRecord(r, types.ChangeModified, []types.AttributeDiff{
			{Path: "ingress", Declared: []any{}, Observed: []any{map[string]any{"from_port": 22.0}}},
		}),
		Severity: types.SeverityCritical,
	}

	_, delta := f.scan(t, Scope{}, rec)
	require.Len(t, delta.Opened, 1)
	assert.Equal(t, types.SeverityCritical, delta.Opened[0].Severity)
	assert.Equal(t, "aws_security_group", delta.Opened[0].ResourceType)
}
