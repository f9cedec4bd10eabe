package storage

import (
	"slices"
	"strings"

	"github.com/google/btree"

	"github.com/yairfalse/driftwatch/types"
)

// alertIndex is the in-memory view of every stored alert, ordered by
// last_seen descending so listings never touch disk.
type alertIndex struct {
	tree *btree.BTreeG[*types.Alert]
	byID map[string]*types.Alert
	// open maps a fingerprint to its single non-terminal alert.
	open map[string]string
}

func alertLess(a, b *types.Alert) bool {
	if !a.LastSeen.Equal(b.LastSeen) {
		return a.LastSeen.After(b.LastSeen)
	}
	return a.ID < b.ID
}

func newAlertIndex() *alertIndex {
	return &alertIndex{
		tree: btree.NewG[*types.Alert](32, alertLess),
		byID: make(map[string]*types.Alert),
		open: make(map[string]string),
	}
}

func (x *alertIndex) put(a types.Alert) {
	x.remove(a.ID)

	stored := a
	stored.LatestAttributeDiffs = slices.Clone(a.LatestAttributeDiffs)
	x.tree.ReplaceOrInsert(&stored)
	x.byID[a.ID] = &stored
	if a.Status.Open() {
		x.open[a.Fingerprint] = a.ID
	}
}

func (x *alertIndex) remove(id string) {
	old, ok := x.byID[id]
	if !ok {
		return
	}
	x.tree.Delete(old)
	delete(x.byID, id)
	if x.open[old.Fingerprint] == id {
		delete(x.open, old.Fingerprint)
	}
}

func (x *alertIndex) get(id string) (types.Alert, bool) {
	a, ok := x.byID[id]
	if !ok {
		return types.Alert{}, false
	}
	return *a, true
}

func (x *alertIndex) ascend(fn func(a types.Alert) bool) {
	x.tree.Ascend(func(a *types.Alert) bool {
		return fn(*a)
	})
}

// checkConflicts simulates writing batch and reports whether any
// fingerprint would end up with two open alerts.
func (x *alertIndex) checkConflicts(batch []types.Alert) error {
	open := make(map[string]string, len(x.open))
	for fp, id := range x.open {
		open[fp] = id
	}

	// Closes first, so a batch may close one alert and open its successor.
	for _, a := range batch {
		if a.Status.Open() {
			continue
		}
		if prev, ok := x.byID[a.ID]; ok && open[prev.Fingerprint] == a.ID {
			delete(open, prev.Fingerprint)
		}
	}
	for _, a := range batch {
		if !a.Status.Open() {
			continue
		}
		if prev, ok := x.byID[a.ID]; ok && prev.Fingerprint != a.Fingerprint && open[prev.Fingerprint] == a.ID {
			delete(open, prev.Fingerprint)
		}
		if cur, ok := open[a.Fingerprint]; ok && cur != a.ID {
			return ErrConflict
		}
		open[a.Fingerprint] = a.ID
	}
	return nil
}

// closedBeyond returns the IDs of closed alerts past the newest keep.
func (x *alertIndex) closedBeyond(keep int) []string {
	var closed []*types.Alert
	for _, a := range x.byID {
		if !a.Status.Open() {
			closed = append(closed, a)
		}
	}
	if len(closed) <= keep {
		return nil
	}
	slices.SortFunc(closed, func(a, b *types.Alert) int {
		ca, cb := a.ClosedAt(), b.ClosedAt()
		switch {
		case ca.After(cb):
			return -1
		case ca.Before(cb):
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	ids := make([]string, 0, len(closed)-keep)
	for _, a := range closed[keep:] {
		ids = append(ids, a.ID)
	}
	return ids
}
