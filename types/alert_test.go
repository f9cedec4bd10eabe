package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition_OnlyLegalPredecessors(t *testing.T) {
	legal := map[Action][]AlertStatus{
		ActionAcknowledge:   {StatusNew},
		ActionStartProgress: {StatusAcknowledged},
		ActionResolve:       {StatusAcknowledged, StatusInProgress},
		ActionSuppress:      {StatusNew, StatusAcknowledged, StatusInProgress},
	}
	all := []AlertStatus{StatusNew, StatusAcknowledged, StatusInProgress, StatusResolved, StatusSuppressed}

	for action, from := range legal {
		for _, status := range all {
			want := false
			for _, f := range from {
				if f == status {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(action, status), "%s from %s", action, status)
		}
	}

	assert.False(t, CanTransition(Action("reopen"), StatusResolved))
}

func TestAlertApply(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	base := Alert{
		ID:              "a-1",
		Status:          StatusNew,
		OccurrenceCount: 3,
		LatestAttributeDiffs: []AttributeDiff{
			{Path: "instance_type", Declared: "t3.medium", Observed: "t3.large"},
		},
	}

	t.Run("acknowledge records actor", func(t *testing.T) {
		next, err := base.Apply(ActionAcknowledge, "alice", "", now)
		require.NoError(t, err)
		assert.Equal(t, StatusAcknowledged, next.Status)
		assert.Equal(t, "alice", next.AcknowledgedBy)
		assert.Equal(t, now, next.UpdatedAt)
		assert.Equal(t, StatusNew, base.Status)
	})

	t.Run("resolve from acknowledged", func(t *testing.T) {
		acked, err := base.Apply(ActionAcknowledge, "alice", "", now)
		require.NoError(t, err)

		resolved, err := acked.Apply(ActionResolve, "bob", "fixed in terraform", now.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, StatusResolved, resolved.Status)
		require.NotNil(t, resolved.ResolvedAt)
		assert.Equal(t, now.Add(time.Hour), *resolved.ResolvedAt)
		assert.Equal(t, "fixed in terraform", resolved.ResolutionNote)
		assert.Equal(t, "bob", resolved.ClosedBy)
		assert.Equal(t, 3, resolved.OccurrenceCount)
	})

	t.Run("illegal action leaves alert unchanged", func(t *testing.T) {
		next, err := base.Apply(ActionResolve, "bob", "", now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidTransition))

		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, StatusNew, ite.From)
		assert.Equal(t, ActionResolve, ite.Action)
		assert.Equal(t, base, next)
	})

	t.Run("terminal alerts reject everything", func(t *testing.T) {
		closed, err := base.Apply(ActionSuppress, "carol", "known exception", now)
		require.NoError(t, err)
		assert.Nil(t, closed.ResolvedAt)

		for _, action := range []Action{ActionAcknowledge, ActionStartProgress, ActionResolve, ActionSuppress} {
			_, err := closed.Apply(action, "carol", "", now)
			assert.ErrorIs(t, err, ErrInvalidTransition, string(action))
		}
	})
}

func TestAlertAutoResolve(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := Alert{ID: "a-1", Status: StatusInProgress, OccurrenceCount: 4}

	resolved := a.AutoResolve(now, "scan-9")

	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, AutoResolveNote, resolved.ResolutionNote)
	assert.Equal(t, SystemActor, resolved.ClosedBy)
	assert.Equal(t, 4, resolved.OccurrenceCount)
	assert.Equal(t, "scan-9", resolved.LastScanID)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, now, resolved.ClosedAt())
	assert.True(t, a.IsOpen())
	assert.False(t, resolved.IsOpen())
}

func TestAlertFilterMatches(t *testing.T) {
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a := Alert{
		Status:       StatusAcknowledged,
		Severity:     SeverityHigh,
		ResourceType: "aws_instance",
		ResourceID:   "i-1",
		Region:       "us-east-1",
		Fingerprint:  "fp",
		LastSeen:     seen,
	}

	tests := []struct {
		name   string
		filter AlertFilter
		want   bool
	}{
		{"empty filter", AlertFilter{}, true},
		{"open statuses", AlertFilter{Statuses: OpenStatuses}, true},
		{"closed statuses", AlertFilter{Statuses: []AlertStatus{StatusResolved}}, false},
		{"severity", AlertFilter{Severities: []Severity{SeverityHigh, SeverityCritical}}, true},
		{"other severity", AlertFilter{Severities: []Severity{SeverityLow}}, false},
		{"type", AlertFilter{ResourceType: "aws_instance"}, true},
		{"other type", AlertFilter{ResourceType: "aws_vpc"}, false},
		{"region", AlertFilter{Region: "eu-west-1"}, false},
		{"since before", AlertFilter{Since: seen.Add(-time.Minute)}, true},
		{"since after", AlertFilter{Since: seen.Add(time.Minute)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(a))
		})
	}
}
