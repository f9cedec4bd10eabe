package alert

import (
	"context"
	"fmt"

	"github.com/yairfalse/driftwatch/types"
)

// Acknowledge moves a NEW alert to ACKNOWLEDGED.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) (types.Alert, error) {
	return m.apply(ctx, id, types.ActionAcknowledge, actor, "")
}

// StartProgress moves an ACKNOWLEDGED alert to IN_PROGRESS.
func (m *Manager) StartProgress(ctx context.Context, id, actor string) (types.Alert, error) {
	return m.apply(ctx, id, types.ActionStartProgress, actor, "")
}

// Resolve closes an ACKNOWLEDGED or IN_PROGRESS alert.
func (m *Manager) Resolve(ctx context.Context, id, actor, note string) (types.Alert, error) {
	return m.apply(ctx, id, types.ActionResolve, actor, note)
}

// Suppress closes any open alert without resolving the drift.
func (m *Manager) Suppress(ctx context.Context, id, actor, note string) (types.Alert, error) {
	return m.apply(ctx, id, types.ActionSuppress, actor, note)
}

// Do performs an action by name.
func (m *Manager) Do(ctx context.Context, id string, action types.Action, actor, note string) (types.Alert, error) {
	if _, ok := action.Target(); !ok {
		return types.Alert{}, fmt.Errorf("unknown action %q", action)
	}
	return m.apply(ctx, id, action, actor, note)
}

func (m *Manager) apply(ctx context.Context, id string, action types.Action, actor, note string) (types.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.GetAlert(ctx, id)
	if err != nil {
		return types.Alert{}, err
	}

	next, err := current.Apply(action, actor, note, m.now())
	if err != nil {
		m.logger.WithContext(ctx).Info().
			Str("alert_id", id).
			Str("action", string(action)).
			Str("status", string(current.Status)).
			Msg("transition rejected")
		return current, err
	}

	if err := m.store.UpsertAlert(ctx, next); err != nil {
		return current, fmt.Errorf("save alert %s: %w", id, err)
	}

	m.logger.WithContext(ctx).Info().
		Str("alert_id", id).
		Str("action", string(action)).
		Str("actor", actor).
		Str("from", string(current.Status)).
		Str("to", string(next.Status)).
		Msg("alert transitioned")
	return next, nil
}

// Get returns one alert.
func (m *Manager) Get(ctx context.Context, id string) (types.Alert, error) {
	return m.store.GetAlert(ctx, id)
}

// List returns alerts matching filter.
func (m *Manager) List(ctx context.Context, filter types.AlertFilter) ([]types.Alert, error) {
	return m.store.ListAlerts(ctx, filter)
}
