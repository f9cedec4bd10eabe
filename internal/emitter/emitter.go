// Package emitter delivers alert notifications to external sinks.
package emitter

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/types"
)

// Emitter is a notification sink.
type Emitter interface {
	alert.Notifier

	// Name identifies the sink in logs and metrics.
	Name() string

	// Close releases connections.
	Close() error
}

// Notification is the JSON body every sink sends.
type Notification struct {
	Event  alert.Event `json:"event"`
	Alert  types.Alert `json:"alert"`
	SentAt time.Time   `json:"sent_at"`
}

func newNotification(a types.Alert, event alert.Event) Notification {
	return Notification{Event: event, Alert: a, SentAt: time.Now().UTC()}
}

// MultiEmitter fans out to multiple emitters.
type MultiEmitter struct {
	emitters []Emitter
}

// NewMultiEmitter creates an emitter that sends to multiple backends.
func NewMultiEmitter(emitters ...Emitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

// Name returns "multi".
func (m *MultiEmitter) Name() string {
	return "multi"
}

// Notify sends to every emitter. One failing sink does not stop the others.
func (m *MultiEmitter) Notify(ctx context.Context, a types.Alert, event alert.Event) error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Notify(ctx, a, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all emitters.
func (m *MultiEmitter) Close() error {
	var errs []error
	for _, e := range m.emitters {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (m *MultiEmitter) Len() int {
	return len(m.emitters)
}
