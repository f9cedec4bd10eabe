package emitter

import (
	"fmt"

	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/internal/journal"
)

// FromConfig builds the configured sinks behind one async dispatcher.
// The log sink is always present.
func FromConfig(cfg config.NotifyConfig) (*Dispatcher, error) {
	sinks := []Emitter{NewLogEmitter()}

	if cfg.Webhook.URL != "" {
		webhook, err := NewWebhookEmitter(WebhookConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Webhook.Timeout,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, webhook)
	}

	if cfg.NATS.URL != "" {
		n, err := NewNATSEmitter(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return nil, fmt.Errorf("notify nats: %w", err)
		}
		sinks = append(sinks, n)
	}

	if cfg.Journal.Dir != "" {
		j, err := NewJournalEmitter(journal.Config{
			Dir:           cfg.Journal.Dir,
			MaxFileBytes:  int64(cfg.Journal.MaxFileMB) << 20,
			RetentionDays: cfg.Journal.RetentionDays,
		})
		if err != nil {
			return nil, fmt.Errorf("notify journal: %w", err)
		}
		sinks = append(sinks, j)
	}

	return NewDispatcher(NewMultiEmitter(sinks...), DispatcherConfig{})
}
