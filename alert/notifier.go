package alert

import (
	"context"

	"github.com/yairfalse/driftwatch/types"
)

// Event says why a notification is sent.
type Event string

const (
	EventOpened    Event = "OPENED"
	EventEscalated Event = "ESCALATED"
)

// Notifier receives newly opened and escalated alerts. Delivery is best
// effort; an error is logged and never fails the scan.
type Notifier interface {
	Notify(ctx context.Context, alert types.Alert, event Event) error
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, types.Alert, Event) error { return nil }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, alert types.Alert, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, alert types.Alert, event Event) error {
	return f(ctx, alert, event)
}
