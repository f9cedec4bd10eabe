package types

import (
	"slices"
	"time"
)

// AlertFilter selects alerts for listing. Zero fields match everything.
type AlertFilter struct {
	Statuses     []AlertStatus `json:"statuses,omitempty"`
	Severities   []Severity    `json:"severities,omitempty"`
	ResourceType string        `json:"resource_type,omitempty"`
	ResourceID   string        `json:"resource_id,omitempty"`
	Region       string        `json:"region,omitempty"`
	Fingerprint  string        `json:"fingerprint,omitempty"`
	Since        time.Time     `json:"since,omitempty"`
	Limit        int           `json:"limit,omitempty"`
}

// Matches reports whether the alert satisfies every set criterion. Limit is ignored.
func (f AlertFilter) Matches(a Alert) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, a.Status) {
		return false
	}
	if len(f.Severities) > 0 && !slices.Contains(f.Severities, a.Severity) {
		return false
	}
	if f.ResourceType != "" && f.ResourceType != a.ResourceType {
		return false
	}
	if f.ResourceID != "" && f.ResourceID != a.ResourceID {
		return false
	}
	if f.Region != "" && f.Region != a.Region {
		return false
	}
	if f.Fingerprint != "" && f.Fingerprint != a.Fingerprint {
		return false
	}
	if !f.Since.IsZero() && a.LastSeen.Before(f.Since) {
		return false
	}
	return true
}
