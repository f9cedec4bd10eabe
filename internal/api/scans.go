package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yairfalse/driftwatch/types"
)

type triggerResponse struct {
	ID        string        `json:"id"`
	Trigger   types.Trigger `json:"trigger"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
}

type schedulerStatus struct {
	Paused          bool           `json:"paused"`
	IntervalSeconds float64        `json:"interval_seconds"`
	Running         *types.ScanRun `json:"running,omitempty"`
	Last            *types.ScanRun `json:"last,omitempty"`
}

type healthResponse struct {
	Status     string         `json:"status"`
	Paused     bool           `json:"paused"`
	Scanning   bool           `json:"scanning"`
	LatestScan *types.ScanRun `json:"latest_scan,omitempty"`
}

// handleTriggerScan starts a manual scan. With ?wait=true the response
// is the sealed run, otherwise 202 with the run ID.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	h, err := s.deps.Scheduler.Trigger(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), s.waitTimeout)
		defer cancel()
		run, err := h.Wait(ctx)
		if run.ID == "" && err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, run)
		return
	}

	writeJSON(w, http.StatusAccepted, triggerResponse{
		ID:        h.ID(),
		Trigger:   types.TriggerManual,
		Status:    string(types.ScanRunning),
		StartedAt: h.StartedAt(),
	})
}

func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, r, invalid("limit must be between 1 and 1000"))
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.ListScanRuns(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []types.ScanRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleLatestScan(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.LatestScanRun(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.GetScanRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Pause()
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Resume()
	writeJSON(w, http.StatusOK, s.schedulerStatus())
}

func (s *Server) schedulerStatus() schedulerStatus {
	st := schedulerStatus{
		Paused:          s.deps.Scheduler.Paused(),
		IntervalSeconds: s.deps.Scheduler.Interval().Seconds(),
	}
	if run, ok := s.deps.Scheduler.Running(); ok {
		st.Running = &run
	}
	if run, ok := s.deps.Scheduler.Last(); ok {
		st.Last = &run
	}
	return st
}

// handleHealth reports ok while storage answers; the latest run may be FAILED.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Scheduler != nil {
		resp.Paused = s.deps.Scheduler.Paused()
		_, resp.Scanning = s.deps.Scheduler.Running()
	}

	run, err := s.deps.Runs.LatestScanRun(r.Context())
	switch status, _ := statusFor(err); {
	case err == nil:
		resp.LatestScan = &run
	case status == http.StatusNotFound:
	default:
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check: storage unavailable")
		resp.Status = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
