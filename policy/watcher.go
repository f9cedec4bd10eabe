package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yairfalse/driftwatch/telemetry"
)

const defaultReloadDelay = 250 * time.Millisecond

// Watcher reloads a classifier's rule table when the rules file or a policy
// file changes. A table that fails to load leaves the previous one active.
type Watcher struct {
	classifier  *Classifier
	rulesPath   string
	policiesDir string
	delay       time.Duration
	logger      *telemetry.Logger

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)
}

// NewWatcher creates a watcher for rulesPath and policiesDir.
func NewWatcher(classifier *Classifier, rulesPath, policiesDir string) *Watcher {
	return &Watcher{
		classifier:  classifier,
		rulesPath:   rulesPath,
		policiesDir: policiesDir,
		delay:       defaultReloadDelay,
		logger:      telemetry.NewLogger("rules-watcher"),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if w.rulesPath == "" {
		<-ctx.Done()
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	// Watch directories so editors that replace files are still seen.
	dirs := []string{filepath.Dir(w.rulesPath)}
	if w.policiesDir != "" {
		dirs = append(dirs, w.policiesDir)
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		rulesAb = absPath(w.rulesPath)
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if absPath(event.Name) != rulesAb && !strings.HasSuffix(event.Name, ".rego") {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("rules changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.delay)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload(ctx)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	table, err := LoadRules(ctx, w.rulesPath, w.policiesDir)
	if err != nil {
		w.logger.WithContext(ctx).Error().
			Err(err).
			Str("path", w.rulesPath).
			Msg("rule reload failed, keeping previous table")
	} else {
		w.classifier.Reload(table)
	}
	if w.OnReload != nil {
		w.OnReload(err)
	}
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
