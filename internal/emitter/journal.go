package emitter

import (
	"context"

	"github.com/yairfalse/driftwatch/alert"
	"github.com/yairfalse/driftwatch/internal/journal"
	"github.com/yairfalse/driftwatch/types"
)

// JournalEmitter records every notification in an on-disk journal.
type JournalEmitter struct {
	journal *journal.Journal
}

// NewJournalEmitter opens the journal described by cfg.
func NewJournalEmitter(cfg journal.Config) (*JournalEmitter, error) {
	j, err := journal.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &JournalEmitter{journal: j}, nil
}

// Name returns "journal".
func (e *JournalEmitter) Name() string {
	return "journal"
}

// Notify appends the alert to the journal.
func (e *JournalEmitter) Notify(_ context.Context, a types.Alert, event alert.Event) error {
	_, err := e.journal.Append(string(event), a)
	return err
}

// Close removes expired files and closes the journal.
func (e *JournalEmitter) Close() error {
	if _, err := e.journal.Cleanup(); err != nil {
		_ = e.journal.Close()
		return err
	}
	return e.journal.Close()
}
