package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/driftwatch/types"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type opener func(t *testing.T, path string) Gateway

func backends() map[string]opener {
	return map[string]opener{
		"bolt": func(t *testing.T, path string) Gateway {
			s, err := NewBoltStore(path + ".bolt")
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T, path string) Gateway {
			s, err := NewSQLiteStore(context.Background(), path+".sqlite")
			require.NoError(t, err)
			return s
		},
	}
}

func eachBackend(t *testing.T, fn func(t *testing.T, open opener, path string)) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, open, filepath.Join(t.TempDir(), "driftwatch"))
		})
	}
}

func newAlert(id, fp string, status types.AlertStatus, lastSeen time.Time) types.Alert {
	a := types.Alert{
		ID:              id,
		Fingerprint:     fp,
		Severity:        types.SeverityHigh,
		Status:          status,
		FirstSeen:       lastSeen,
		LastSeen:        lastSeen,
		OccurrenceCount: 1,
		ResourceID:      "i-" + id,
		ResourceType:    "aws_instance",
		Region:          "us-east-1",
		ChangeKind:      types.ChangeModified,
		LatestAttributeDiffs: []types.AttributeDiff{
			{Path: "instance_type", Declared: "t3.medium", Observed: "t3.large"},
		},
		UpdatedAt: lastSeen,
	}
	if status.Terminal() {
		closed := lastSeen
		a.ResolvedAt = &closed
	}
	return a
}

func newRun(id string, started time.Time) types.ScanRun {
	run := types.NewScanRun(id, types.TriggerManual, started)
	run.Succeed(started.Add(time.Second))
	return *run
}

func TestGateway_ScanRuns(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		defer s.Close()

		_, err := s.LatestScanRun(ctx)
		assert.ErrorIs(t, err, ErrNotFound)

		for i := 0; i < 3; i++ {
			require.NoError(t, s.SaveScanRun(ctx, newRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
		}

		latest, err := s.LatestScanRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, "run-2", latest.ID)
		assert.Equal(t, types.ScanSucceeded, latest.Status)

		runs, err := s.ListScanRuns(ctx, 2)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-2", runs[0].ID)
		assert.Equal(t, "run-1", runs[1].ID)

		got, err := s.GetScanRun(ctx, "run-0")
		require.NoError(t, err)
		assert.True(t, got.StartedAt.Equal(base))

		_, err = s.GetScanRun(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGateway_UpsertAndList(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		defer s.Close()

		require.NoError(t, s.UpsertAlert(ctx, newAlert("a", "fp-a", types.StatusNew, base)))
		require.NoError(t, s.UpsertAlert(ctx, newAlert("b", "fp-b", types.StatusAcknowledged, base.Add(time.Minute))))
		require.NoError(t, s.UpsertAlert(ctx, newAlert("c", "fp-c", types.StatusResolved, base.Add(2*time.Minute))))

		openAlerts, err := s.ListOpenAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, openAlerts, 2)
		assert.Equal(t, "b", openAlerts[0].ID, "most recently seen first")
		assert.Equal(t, "a", openAlerts[1].ID)

		all, err := s.ListAlerts(ctx, types.AlertFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		limited, err := s.ListAlerts(ctx, types.AlertFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, "c", limited[0].ID)

		byFP, err := s.ListAlerts(ctx, types.AlertFilter{Fingerprint: "fp-a"})
		require.NoError(t, err)
		require.Len(t, byFP, 1)

		since, err := s.ListAlerts(ctx, types.AlertFilter{Since: base.Add(30 * time.Second)})
		require.NoError(t, err)
		assert.Len(t, since, 2)

		got, err := s.GetAlert(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "t3.large", got.LatestAttributeDiffs[0].Observed)

		_, err = s.GetAlert(ctx, "zzz")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestGateway_OneOpenAlertPerFingerprint(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		defer s.Close()

		require.NoError(t, s.UpsertAlert(ctx, newAlert("a", "fp", types.StatusNew, base)))

		err := s.UpsertAlert(ctx, newAlert("b", "fp", types.StatusNew, base))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConflict)
		assert.ErrorIs(t, err, ErrPersistence)

		// A closed alert with the same fingerprint is history, not a conflict.
		require.NoError(t, s.UpsertAlert(ctx, newAlert("old", "fp", types.StatusResolved, base.Add(-time.Hour))))

		// Closing and reopening inside one commit is allowed.
		closed := newAlert("a", "fp", types.StatusResolved, base)
		successor := newAlert("b", "fp", types.StatusNew, base.Add(time.Minute))
		require.NoError(t, s.Commit(ctx, newRun("r1", base), []types.Alert{successor, closed}))

		openAlerts, err := s.ListOpenAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, openAlerts, 1)
		assert.Equal(t, "b", openAlerts[0].ID)
	})
}

func TestGateway_CommitIsAtomic(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		defer s.Close()

		require.NoError(t, s.UpsertAlert(ctx, newAlert("a", "fp", types.StatusNew, base)))

		run := newRun("r1", base)
		err := s.Commit(ctx, run, []types.Alert{
			newAlert("x", "fp-x", types.StatusNew, base),
			newAlert("dup", "fp", types.StatusNew, base),
		})
		require.True(t, errors.Is(err, ErrConflict))

		_, err = s.GetAlert(ctx, "x")
		assert.ErrorIs(t, err, ErrNotFound, "no partial alert delta")
		_, err = s.GetScanRun(ctx, "r1")
		assert.ErrorIs(t, err, ErrNotFound, "run not stored either")
	})
}

func TestGateway_Prune(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		defer s.Close()

		for i := 0; i < 5; i++ {
			require.NoError(t, s.SaveScanRun(ctx, newRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute))))
		}
		for i := 0; i < 4; i++ {
			id := fmt.Sprintf("closed-%d", i)
			require.NoError(t, s.UpsertAlert(ctx, newAlert(id, "fp-"+id, types.StatusResolved, base.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, s.UpsertAlert(ctx, newAlert("open", "fp-open", types.StatusNew, base.Add(-time.Hour))))

		res, err := s.Prune(ctx, 2, 1)
		require.NoError(t, err)
		assert.Equal(t, PruneResult{ScanRuns: 3, Alerts: 3}, res)

		runs, err := s.ListScanRuns(ctx, 0)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-4", runs[0].ID)

		alerts, err := s.ListAlerts(ctx, types.AlertFilter{})
		require.NoError(t, err)
		ids := []string{}
		for _, a := range alerts {
			ids = append(ids, a.ID)
		}
		assert.ElementsMatch(t, []string{"closed-3", "open"}, ids)

		res, err = s.Prune(ctx, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, PruneResult{}, res)
	})
}

func TestGateway_Reopen(t *testing.T) {
	eachBackend(t, func(t *testing.T, open opener, path string) {
		ctx := context.Background()
		s := open(t, path)
		require.NoError(t, s.Commit(ctx, newRun("r1", base), []types.Alert{newAlert("a", "fp", types.StatusNew, base)}))
		require.NoError(t, s.Close())

		s = open(t, path)
		defer s.Close()

		openAlerts, err := s.ListOpenAlerts(ctx)
		require.NoError(t, err)
		require.Len(t, openAlerts, 1)
		assert.Equal(t, "a", openAlerts[0].ID)

		// The rebuilt index still enforces the invariant.
		err = s.UpsertAlert(ctx, newAlert("b", "fp", types.StatusNew, base))
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestBoltStore_RevisionAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rev.bolt")
	s, err := NewBoltStore(path)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SaveScanRun(ctx, newRun("r1", base)))
	require.NoError(t, s.UpsertAlert(ctx, newAlert("a", "fp", types.StatusNew, base)))
	assert.Equal(t, int64(2), s.Revision())
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, int64(2), s.Revision())
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("disk full")
	err := wrap("commit", cause)

	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "storage commit: disk full", err.Error())
	assert.Nil(t, wrap("commit", nil))

	nf := fmt.Errorf("alert x: %w", ErrNotFound)
	assert.Equal(t, nf, wrap("get", nf))
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	for _, backend := range []string{"bolt", "sqlite"} {
		s, err := Open(context.Background(), backend, filepath.Join(dir, backend+".db"))
		require.NoError(t, err, backend)
		require.NoError(t, s.Close())
	}

	_, err := Open(context.Background(), "postgres", filepath.Join(dir, "pg.db"))
	assert.Error(t, err)
}
