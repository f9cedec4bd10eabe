package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/yairfalse/driftwatch/types"
)

type actionRequest struct {
	Actor string `json:"actor" validate:"required,max=128"`
	Note  string `json:"note" validate:"max=2048"`
}

type ruleView struct {
	Name          string             `json:"name"`
	ResourceTypes []string           `json:"resource_types,omitempty"`
	ChangeKinds   []types.ChangeKind `json:"change_kinds,omitempty"`
	Paths         []string           `json:"paths,omitempty"`
	Match         string             `json:"match,omitempty"`
	Severity      types.Severity     `json:"severity,omitempty"`
	Policy        string             `json:"policy,omitempty"`
}

type rulesResponse struct {
	Source string     `json:"source"`
	Rules  []ruleView `json:"rules"`
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	alerts, err := s.deps.Alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if alerts == nil {
		alerts = []types.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Alerts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleAlertAction applies acknowledge, start_progress, resolve or suppress.
func (s *Server) handleAlertAction(w http.ResponseWriter, r *http.Request) {
	action := types.Action(strings.ReplaceAll(chi.URLParam(r, "action"), "-", "_"))
	if _, ok := action.Target(); !ok {
		writeError(w, r, invalid("unknown action %q", action))
		return
	}

	var req actionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	a, err := s.deps.Alerts.Do(r.Context(), id, action, req.Actor, req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("alert_id", id).
		Str("action", string(action)).
		Str("actor", req.Actor).
		Msg("alert action applied")
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rules == nil {
		writeJSON(w, http.StatusOK, rulesResponse{Rules: []ruleView{}})
		return
	}
	table := s.deps.Rules.Table()
	resp := rulesResponse{Source: table.Source(), Rules: []ruleView{}}
	for _, rule := range table.Rules() {
		resp.Rules = append(resp.Rules, ruleView{
			Name:          rule.Name,
			ResourceTypes: rule.ResourceTypes,
			ChangeKinds:   rule.ChangeKinds,
			Paths:         rule.Paths,
			Match:         rule.Match,
			Severity:      rule.Severity,
			Policy:        rule.Policy,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseAlertFilter reads status, severity, resource_type, resource_id,
// region, fingerprint, since (RFC 3339) and limit. Lists are comma separated.
func parseAlertFilter(r *http.Request) (types.AlertFilter, error) {
	q := r.URL.Query()
	f := types.AlertFilter{
		ResourceType: q.Get("resource_type"),
		ResourceID:   q.Get("resource_id"),
		Region:       q.Get("region"),
		Fingerprint:  q.Get("fingerprint"),
	}

	for _, v := range splitList(q.Get("status")) {
		st := types.AlertStatus(strings.ToUpper(v))
		if st == "OPEN" {
			f.Statuses = append(f.Statuses, types.OpenStatuses...)
			continue
		}
		if !st.Open() && !st.Terminal() {
			return f, invalid("unknown status %q", v)
		}
		f.Statuses = append(f.Statuses, st)
	}

	for _, v := range splitList(q.Get("severity")) {
		sev := types.Severity(strings.ToUpper(v))
		if !sev.Valid() {
			return f, invalid("unknown severity %q", v)
		}
		f.Severities = append(f.Severities, sev)
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, invalid("since must be RFC 3339: %v", err)
		}
		f.Since = t
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return f, invalid("limit must be a positive integer")
		}
		f.Limit = n
	}
	return f, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
