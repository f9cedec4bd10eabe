package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/types"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "driftwatch.alerts"

type publisher interface {
	PublishMsg(msg *nats.Msg) error
	Drain() error
}

// NATSEmitter publishes notifications to "<subject>.<severity>", for
// example "driftwatch.alerts.critical".
type NATSEmitter struct {
	conn    publisher
	subject string
}

// NewNATSEmitter connects to url.
func NewNATSEmitter(url, subject string) (*NATSEmitter, error) {
	conn, err := nats.Connect(url, nats.Name("driftwatch"))
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newNATSEmitter(conn, subject), nil
}

func newNATSEmitter(conn publisher, subject string) *NATSEmitter {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSEmitter{conn: conn, subject: subject}
}

// Name returns "nats".
func (e *NATSEmitter) Name() string {
	return "nats"
}

// Subject returns the subject an alert is published on.
func (e *NATSEmitter) Subject(a types.Alert) string {
	return e.subject + "." + strings.ToLower(string(a.Severity))
}

// Notify publishes the alert as JSON.
func (e *NATSEmitter) Notify(_ context.Context, a types.Alert, event alert.Event) error {
	data, err := json.Marshal(newNotification(a, event))
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	msg := nats.NewMsg(e.Subject(a))
	msg.Data = data
	msg.Header.Set("Driftwatch-Event", string(event))
	msg.Header.Set("Driftwatch-Alert-Id", a.ID)

	if err := e.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains the connection.
func (e *NATSEmitter) Close() error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Drain()
}
