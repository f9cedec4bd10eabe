// Package filter drops resources configured to be excluded from drift detection.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

// Filter matches resources by Terraform type, resource ID or state address.
// Entries are globs, so "aws_iam_*", "i-0abc*", "logs.example.com" and
// "module.legacy.*" are all accepted. Every entry is tried against all three.
type Filter struct {
	globs []glob.Glob
}

// New compiles the ignore list.
func New(ignore []string) (*Filter, error) {
	f := &Filter{}
	for _, e := range ignore {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		g, err := glob.Compile(e)
		if err != nil {
			return nil, fmt.Errorf("ignore_resources entry %q: %w", e, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// ShouldScanType returns false when the whole type is ignored.
func (f *Filter) ShouldScanType(typ string) bool {
	if f.IsEmpty() {
		return true
	}
	return !f.match(typ)
}

// Ignored reports whether the resource matches an ignore entry.
func (f *Filter) Ignored(r resource.Resource) bool {
	if f.IsEmpty() {
		return false
	}
	return f.match(r.Type) || f.match(r.ID) || (r.Address != "" && f.match(r.Address))
}

// FilterPair filters both sides of a comparison. Observed resources carry no
// state address, so a declared resource ignored by any entry also drops the
// observed resource with the same key.
func (f *Filter) FilterPair(declared, observed []resource.Resource) ([]resource.Resource, []resource.Resource, int) {
	if f.IsEmpty() {
		return declared, observed, 0
	}

	dropped := make(map[string]struct{})
	keptDeclared := make([]resource.Resource, 0, len(declared))
	for _, r := range declared {
		if f.Ignored(r) {
			dropped[r.Key()] = struct{}{}
			continue
		}
		keptDeclared = append(keptDeclared, r)
	}

	keptObserved := make([]resource.Resource, 0, len(observed))
	for _, r := range observed {
		if _, ok := dropped[r.Key()]; ok || f.Ignored(r) {
			continue
		}
		keptObserved = append(keptObserved, r)
	}

	ignored := len(declared) - len(keptDeclared) + len(observed) - len(keptObserved)
	return keptDeclared, keptObserved, ignored
}

// IsEmpty returns true if nothing is ignored.
func (f *Filter) IsEmpty() bool {
	return f == nil || len(f.globs) == 0
}

func (f *Filter) match(s string) bool {
	for _, g := range f.globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
