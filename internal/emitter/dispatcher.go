package emitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// ErrDispatcherClosed is returned by Notify after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// DispatcherConfig configures the async dispatcher.
type DispatcherConfig struct {
	QueueSize int           // default: 256
	Timeout   time.Duration // per delivery, default: 15s
}

type job struct {
	alert types.Alert
	event alert.Event
}

// Dispatcher delivers notifications in the background so a slow sink
// never delays a scan. When the queue is full the notification is dropped.
type Dispatcher struct {
	sink    Emitter
	timeout time.Duration
	queue   chan job
	logger  *telemetry.Logger

	delivered metric.Int64Counter

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts the delivery loop over sink.
func NewDispatcher(sink Emitter, cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	delivered, err := otel.Meter("driftwatch.notify").Int64Counter(
		"driftwatch.notifications",
		metric.WithDescription("Alert notifications by sink and outcome"),
	)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sink:      sink,
		timeout:   cfg.Timeout,
		queue:     make(chan job, cfg.QueueSize),
		logger:    telemetry.NewLogger("notify-dispatcher"),
		delivered: delivered,
	}
	d.wg.Add(1)
	go d.loop()
	return d, nil
}

// Name returns the wrapped sink's name.
func (d *Dispatcher) Name() string {
	return d.sink.Name()
}

// Notify enqueues the alert and returns immediately.
func (d *Dispatcher) Notify(ctx context.Context, a types.Alert, event alert.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case d.queue <- job{alert: a, event: event}:
		return nil
	default:
		d.record(ctx, "dropped")
		d.logger.WithContext(ctx).Warn().
			Str("alert_id", a.ID).
			Str("event", string(event)).
			Msg("notification queue full, dropping")
		return nil
	}
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()
	for j := range d.queue {
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Notify(ctx, j.alert, j.event); err != nil {
		d.record(ctx, "failed")
		d.logger.WithContext(ctx).Warn().
			Err(err).
			Str("sink", d.sink.Name()).
			Str("alert_id", j.alert.ID).
			Msg("notification delivery failed")
		return
	}
	d.record(ctx, "delivered")
}

func (d *Dispatcher) record(ctx context.Context, outcome string) {
	d.delivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("sink", d.sink.Name()),
		attribute.String("outcome", outcome),
	))
}

// Close stops accepting notifications, delivers what is queued and
// closes the sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.sink.Close()
}
