package alert

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/types"
)

func openOne(t *testing.T, f *fixture) types.Alert {
	t.Helper()
	_, delta := f.scan(t, Scope{}, classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type"))
	require.Len(t, delta.Opened, 1)
	return delta.Opened[0]
}

func TestActions_FullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := openOne(t, f)

	acked, err := f.manager.Acknowledge(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusAcknowledged, acked.Status)
	assert.Equal(t, "alice", acked.AcknowledgedBy)

	inProgress, err := f.manager.StartProgress(ctx, a.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, inProgress.Status)

	resolved, err := f.manager.Resolve(ctx, a.ID, "bob", "reverted instance type")
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, resolved.Status)
	assert.Equal(t, "reverted instance type", resolved.ResolutionNote)
	assert.Equal(t, "bob", resolved.ClosedBy)
	require.NotNil(t, resolved.ResolvedAt)

	stored, err := f.manager.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, stored.Status)
}

func TestActions_IllegalTransitionLeavesAlertUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := openOne(t, f)

	_, err := f.manager.Resolve(ctx, a.ID, "bob", "done")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))

	var ite *types.InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, types.StatusNew, ite.From)

	_, err = f.manager.StartProgress(ctx, a.ID, "bob")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)

	stored, err := f.manager.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a, stored)
}

func TestActions_SuppressIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := openOne(t, f)

	suppressed, err := f.manager.Suppress(ctx, a.ID, "carol", "accepted risk")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuppressed, suppressed.Status)

	for _, action := range []types.Action{types.ActionAcknowledge, types.ActionStartProgress, types.ActionResolve, types.ActionSuppress} {
		_, err := f.manager.Do(ctx, a.ID, action, "carol", "")
		assert.ErrorIs(t, err, types.ErrInvalidTransition, string(action))
	}

	// The drift is still there, so the next scan opens a fresh alert.
	_, delta := f.scan(t, Scope{}, classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type"))
	require.Len(t, delta.Opened, 1)
	assert.NotEqual(t, a.ID, delta.Opened[0].ID)
}

func TestActions_ScanKeepsHumanStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := openOne(t, f)

	_, err := f.manager.Acknowledge(ctx, a.ID, "alice")
	require.NoError(t, err)

	_, delta := f.scan(t, Scope{}, classified("i-1", "us-east-1", types.ChangeModified, types.SeverityHigh, "instance_type"))
	require.Len(t, delta.Updated, 1)
	assert.Equal(t, types.StatusAcknowledged, delta.Updated[0].Status)
	assert.Equal(t, 2, delta.Updated[0].OccurrenceCount)
}

func TestActions_UnknownAlertAndAction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.Acknowledge(ctx, "missing", "alice")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	a := openOne(t, f)
	_, err = f.manager.Do(ctx, a.ID, types.Action("delete"), "alice", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrInvalidTransition)
}

func TestActions_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	openOne(t, f)

	alerts, err := f.manager.List(ctx, types.AlertFilter{Statuses: []types.AlertStatus{types.StatusNew}})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	alerts, err = f.manager.List(ctx, types.AlertFilter{Statuses: []types.AlertStatus{types.StatusResolved}})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}
