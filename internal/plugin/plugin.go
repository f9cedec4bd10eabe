// Package plugin maps source names to the providers a scan reads from.
package plugin

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/yairfalse/driftwatch/internal/config"
	"github.com/yairfalse/driftwatch/providers"
)

// Sources is the declared and observed side of one deployment.
type Sources struct {
	Declared providers.DeclaredProvider
	Observed providers.ObservedProvider
}

// Factory builds Sources from configuration.
type Factory func(ctx context.Context, cfg *config.Config) (Sources, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a factory under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Get returns a factory by name.
func Get(name string) (Factory, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names returns all registered names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Clear removes all factories. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}

// Open builds the sources named by cfg: "fixture" in demo mode, "aws" otherwise.
func Open(ctx context.Context, cfg *config.Config) (Sources, error) {
	name := SourceAWS
	if cfg.Scanner.Demo {
		name = SourceFixture
	}
	f, ok := Get(name)
	if !ok {
		return Sources{}, fmt.Errorf("no provider registered for %q (have %v)", name, Names())
	}
	return f(ctx, cfg)
}
