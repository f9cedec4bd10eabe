package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/driftwatch/types"
)

// Bucket names in bbolt
var (
	bucketScanRuns = []byte("scan_runs")
	bucketScanIDs  = []byte("scan_ids")
	bucketAlerts   = []byte("alerts")
	bucketMeta     = []byte("meta")

	keyRevision = []byte("current_revision")
)

// BoltStore keeps runs and alerts in a single bbolt file with an in-memory
// btree index of alerts rebuilt on open.
type BoltStore struct {
	mu sync.RWMutex

	// In-memory index for fast lookups
	index *alertIndex

	// On-disk storage
	db *bbolt.DB

	// Incremented on every write transaction
	currentRev int64
}

// NewBoltStore opens or creates the database file at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketScanRuns, bucketScanIDs, bucketAlerts, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &BoltStore{
		index: newAlertIndex(),
		db:    db,
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the storage
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Revision returns the number of committed write transactions.
func (s *BoltStore) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// SaveScanRun stores or replaces a run.
func (s *BoltStore) SaveScanRun(ctx context.Context, run types.ScanRun) error {
	if err := ctx.Err(); err != nil {
		return wrap("save_scan_run", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return wrap("save_scan_run", s.update(func(tx *bbolt.Tx) error {
		return putRun(tx, run)
	}))
}

// GetScanRun returns one run by ID.
func (s *BoltStore) GetScanRun(ctx context.Context, id string) (types.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run types.ScanRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		key := tx.Bucket(bucketScanIDs).Get([]byte(id))
		if key == nil {
			return fmt.Errorf("scan run %s: %w", id, ErrNotFound)
		}
		data := tx.Bucket(bucketScanRuns).Get(key)
		if data == nil {
			return fmt.Errorf("scan run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	return run, wrap("get_scan_run", err)
}

// ListScanRuns returns the newest runs first.
func (s *BoltStore) ListScanRuns(ctx context.Context, limit int) ([]types.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []types.ScanRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketScanRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			var run types.ScanRun
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode scan run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	return runs, wrap("list_scan_runs", err)
}

// LatestScanRun returns the most recently started run.
func (s *BoltStore) LatestScanRun(ctx context.Context) (types.ScanRun, error) {
	runs, err := s.ListScanRuns(ctx, 1)
	if err != nil {
		return types.ScanRun{}, err
	}
	if len(runs) == 0 {
		return types.ScanRun{}, fmt.Errorf("latest scan run: %w", ErrNotFound)
	}
	return runs[0], nil
}

// UpsertAlert stores one alert.
func (s *BoltStore) UpsertAlert(ctx context.Context, alert types.Alert) error {
	if err := ctx.Err(); err != nil {
		return wrap("upsert_alert", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := []types.Alert{alert}
	if err := s.index.checkConflicts(batch); err != nil {
		return wrap("upsert_alert", fmt.Errorf("alert %s: %w", alert.ID, err))
	}
	err := s.update(func(tx *bbolt.Tx) error {
		return putAlert(tx, alert)
	})
	if err != nil {
		return wrap("upsert_alert", err)
	}
	s.index.put(alert)
	return nil
}

// Commit writes the run and every alert in one bbolt transaction.
func (s *BoltStore) Commit(ctx context.Context, run types.ScanRun, alerts []types.Alert) error {
	if err := ctx.Err(); err != nil {
		return wrap("commit", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.checkConflicts(alerts); err != nil {
		return wrap("commit", fmt.Errorf("scan run %s: %w", run.ID, err))
	}
	err := s.update(func(tx *bbolt.Tx) error {
		for _, a := range alerts {
			if err := putAlert(tx, a); err != nil {
				return err
			}
		}
		return putRun(tx, run)
	})
	if err != nil {
		return wrap("commit", err)
	}

	// Index only after the transaction is durable.
	for _, a := range alerts {
		s.index.put(a)
	}
	return nil
}

// GetAlert returns one alert by ID.
func (s *BoltStore) GetAlert(ctx context.Context, id string) (types.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.index.get(id)
	if !ok {
		return types.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return a, nil
}

// ListOpenAlerts returns every non-terminal alert.
func (s *BoltStore) ListOpenAlerts(ctx context.Context) ([]types.Alert, error) {
	return s.ListAlerts(ctx, types.AlertFilter{Statuses: types.OpenStatuses})
}

// ListAlerts returns matching alerts, most recently seen first.
func (s *BoltStore) ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alerts := []types.Alert{}
	s.index.ascend(func(a types.Alert) bool {
		if filter.Matches(a) {
			alerts = append(alerts, a)
		}
		return filter.Limit <= 0 || len(alerts) < filter.Limit
	})
	return alerts, nil
}

// Prune removes runs and closed alerts beyond the configured history.
func (s *BoltStore) Prune(ctx context.Context, keepRuns, keepClosedAlerts int) (PruneResult, error) {
	if err := ctx.Err(); err != nil {
		return PruneResult{}, wrap("prune", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var alertIDs []string
	if keepClosedAlerts > 0 {
		alertIDs = s.index.closedBeyond(keepClosedAlerts)
	}

	var result PruneResult
	err := s.update(func(tx *bbolt.Tx) error {
		if keepRuns > 0 {
			n, err := pruneRuns(tx, keepRuns)
			if err != nil {
				return err
			}
			result.ScanRuns = n
		}
		bucket := tx.Bucket(bucketAlerts)
		for _, id := range alertIDs {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}
		result.Alerts = len(alertIDs)
		return nil
	})
	if err != nil {
		return PruneResult{}, wrap("prune", err)
	}

	for _, id := range alertIDs {
		s.index.remove(id)
	}
	return result, nil
}

// Helper functions

// update runs fn and bumps the revision in the same transaction.
func (s *BoltStore) update(fn func(tx *bbolt.Tx) error) error {
	rev := s.currentRev + 1
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRevision, []byte(strconv.FormatInt(rev, 10)))
	})
	if err != nil {
		return err
	}
	s.currentRev = rev
	return nil
}

func (s *BoltStore) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if data := tx.Bucket(bucketMeta).Get(keyRevision); data != nil {
			rev, err := strconv.ParseInt(string(data), 10, 64)
			if err != nil {
				return fmt.Errorf("decode revision: %w", err)
			}
			s.currentRev = rev
		}

		return tx.Bucket(bucketAlerts).ForEach(func(k, v []byte) error {
			var a types.Alert
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode alert %s: %w", k, err)
			}
			s.index.put(a)
			return nil
		})
	})
}

func putRun(tx *bbolt.Tx, run types.ScanRun) error {
	value, err := json.Marshal(run)
	if err != nil {
		return err
	}
	key := makeRunKey(run)
	if err := tx.Bucket(bucketScanRuns).Put(key, value); err != nil {
		return err
	}
	return tx.Bucket(bucketScanIDs).Put([]byte(run.ID), key)
}

func putAlert(tx *bbolt.Tx, a types.Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAlerts).Put([]byte(a.ID), value)
}

func pruneRuns(tx *bbolt.Tx, keep int) (int, error) {
	runs := tx.Bucket(bucketScanRuns)
	ids := tx.Bucket(bucketScanIDs)

	var toDelete [][]byte
	seen := 0
	c := runs.Cursor()
	for k, _ := c.Last(); k != nil; k, _ = c.Prev() {
		seen++
		if seen > keep {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
	}

	for _, key := range toDelete {
		_, id := parseRunKey(key)
		if err := runs.Delete(key); err != nil {
			return 0, err
		}
		if err := ids.Delete([]byte(id)); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// makeRunKey orders runs by start time.
func makeRunKey(run types.ScanRun) []byte {
	return []byte(fmt.Sprintf("%020d:%s", run.StartedAt.UnixNano(), run.ID))
}

func parseRunKey(key []byte) (int64, string) {
	s := string(key)
	if len(s) < 21 || s[20] != ':' {
		return 0, s
	}
	nanos, _ := strconv.ParseInt(s[:20], 10, 64)
	return nanos, s[21:]
}
