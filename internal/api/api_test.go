package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/internal/daemon"
	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/policy"
	"github.com/yairfalse/driftwatch/storage"
	"github.com/yairfalse/driftwatch/types"
)

var _ Scheduler = (*daemon.Scheduler)(nil)
var _ Alerts = (*alert.Manager)(nil)

type staticRules struct {
	table *policy.Table
}

func (r staticRules) Table() *policy.Table { return r.table }

type env struct {
	store     *storage.BoltStore
	manager   *alert.Manager
	scheduler *daemon.Scheduler
	handler   http.Handler
	records   []alert.ClassifiedRecord
	release   chan struct{}
}

func record(id string, sev types.Severity) alert.ClassifiedRecord {
	r := resource.Resource{ID: id, Type: "aws_instance", Region: "us-east-1"}
	diffs := []types.AttributeDiff{{Path: "instance_type", Declared: "t3.micro", Observed: "t3.large"}}
	return alert.ClassifiedRecord{DriftRecord: resource.NewDriftRecord(r, types.ChangeModified, diffs), Severity: sev}
}

func newEnv(t *testing.T, records ...alert.ClassifiedRecord) *env {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	table, err := policy.DefaultTable(context.Background())
	require.NoError(t, err)

	e := &env{
		store:   store,
		manager: alert.NewManager(store, alert.Config{}),
		records: records,
	}

	ids := 0
	e.scheduler = daemon.NewScheduler(daemon.RunnerFunc(func(ctx context.Context, run *types.ScanRun) error {
		if e.release != nil {
			<-e.release
		}
		_, err := e.manager.Reconcile(ctx, run, e.records, alert.Scope{})
		return err
	}), daemon.Config{
		Interval: time.Hour,
		NewID: func() string {
			ids++
			return fmt.Sprintf("scan-%d", ids)
		},
	})

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("driftwatch_scans_total 1\n"))
	})
	e.handler = NewServer(Config{Dependencies: Dependencies{
		Scheduler: e.scheduler,
		Runs:      store,
		Alerts:    e.manager,
		Rules:     staticRules{table: table},
		Metrics:   metrics,
	}}).Handler()
	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// scan runs one scan to completion through the API.
func (e *env) scan(t *testing.T) types.ScanRun {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/scans?wait=true", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var run types.ScanRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	return run
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestTriggerScan_Accepted(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/scans", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode[triggerResponse](t, rec)
	assert.Equal(t, "scan-1", resp.ID)
	assert.Equal(t, types.TriggerManual, resp.Trigger)
	assert.Equal(t, "RUNNING", resp.Status)

	require.Eventually(t, func() bool {
		_, running := e.scheduler.Running()
		return !running
	}, 5*time.Second, 10*time.Millisecond)

	rec = e.do(t, http.MethodGet, "/api/v1/scans/scan-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.ScanSucceeded, decode[types.ScanRun](t, rec).Status)
}

func TestTriggerScan_BusyReturnsConflict(t *testing.T) {
	e := newEnv(t)
	e.release = make(chan struct{})

	rec := e.do(t, http.MethodPost, "/api/v1/scans", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/scans", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "scan_busy", decode[errorResponse](t, rec).Code)

	status := decode[schedulerStatus](t, e.do(t, http.MethodGet, "/api/v1/scheduler", nil))
	require.NotNil(t, status.Running)
	assert.Equal(t, "scan-1", status.Running.ID)

	close(e.release)
	require.Eventually(t, func() bool {
		_, running := e.scheduler.Running()
		return !running
	}, 5*time.Second, 10*time.Millisecond)
}

func TestScans_ListAndLatest(t *testing.T) {
	e := newEnv(t)
	e.scan(t)
	second := e.scan(t)

	rec := e.do(t, http.MethodGet, "/api/v1/scans?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.ScanRun](t, rec), 2)

	rec = e.do(t, http.MethodGet, "/api/v1/scans/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, second.ID, decode[types.ScanRun](t, rec).ID)

	rec = e.do(t, http.MethodGet, "/api/v1/scans?limit=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScans_NotFound(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/scans/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/scans/latest", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlerts_ListFilters(t *testing.T) {
	e := newEnv(t, record("i-1", types.SeverityHigh), record("i-2", types.SeverityLow))
	e.scan(t)

	rec := e.do(t, http.MethodGet, "/api/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.Alert](t, rec), 2)

	rec = e.do(t, http.MethodGet, "/api/v1/alerts?severity=high", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	alerts := decode[[]types.Alert](t, rec)
	require.Len(t, alerts, 1)
	assert.Equal(t, "i-1", alerts[0].ResourceID)

	rec = e.do(t, http.MethodGet, "/api/v1/alerts?status=open&resource_id=i-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]types.Alert](t, rec), 1)

	rec = e.do(t, http.MethodGet, "/api/v1/alerts?status=resolved", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]types.Alert](t, rec))
}

func TestAlerts_ListRejectsBadFilters(t *testing.T) {
	e := newEnv(t)

	for _, q := range []string{"severity=urgent", "status=closed", "since=yesterday", "limit=-1"} {
		rec := e.do(t, http.MethodGet, "/api/v1/alerts?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestAlerts_ActionLifecycle(t *testing.T) {
	e := newEnv(t, record("i-1", types.SeverityHigh))
	e.scan(t)

	alerts := decode[[]types.Alert](t, e.do(t, http.MethodGet, "/api/v1/alerts", nil))
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	rec := e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", actionRequest{Actor: "oncall"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusAcknowledged, decode[types.Alert](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/start-progress", actionRequest{Actor: "oncall"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.StatusInProgress, decode[types.Alert](t, rec).Status)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", actionRequest{Actor: "oncall"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[errorResponse](t, rec).Code)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/resolve", actionRequest{Actor: "oncall", Note: "resized back"})
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[types.Alert](t, rec)
	assert.Equal(t, types.StatusResolved, resolved.Status)

	rec = e.do(t, http.MethodGet, "/api/v1/alerts/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.StatusResolved, decode[types.Alert](t, rec).Status)
}

func TestAlerts_ActionValidation(t *testing.T) {
	e := newEnv(t, record("i-1", types.SeverityHigh))
	e.scan(t)
	id := decode[[]types.Alert](t, e.do(t, http.MethodGet, "/api/v1/alerts", nil))[0].ID

	rec := e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/escalate", actionRequest{Actor: "oncall"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", actionRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/"+id+"/acknowledge", map[string]string{"who": "me"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/alerts/missing/acknowledge", actionRequest{Actor: "oncall"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScheduler_PauseResume(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/api/v1/scheduler/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[schedulerStatus](t, rec)
	assert.True(t, status.Paused)
	assert.Equal(t, float64(3600), status.IntervalSeconds)

	// Manual scans are still accepted while paused.
	e.scan(t)

	rec = e.do(t, http.MethodPost, "/api/v1/scheduler/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status = decode[schedulerStatus](t, rec)
	assert.False(t, status.Paused)
	require.NotNil(t, status.Last)
	assert.Equal(t, "scan-1", status.Last.ID)
}

func TestRules(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/api/v1/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[rulesResponse](t, rec)
	assert.NotEmpty(t, resp.Rules)
	for _, r := range resp.Rules {
		assert.NotEmpty(t, r.Name)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", health.Status)
	assert.Nil(t, health.LatestScan)

	e.scan(t)
	health = decode[healthResponse](t, e.do(t, http.MethodGet, "/healthz", nil))
	require.NotNil(t, health.LatestScan)
	assert.Equal(t, types.ScanSucceeded, health.LatestScan.Status)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "driftwatch_scans_total")
}
