package resource

import (
	"sort"
	"sync"

	"github.com/gobwas/glob"
)

// Kind is the per-resource-type capability contract used by the
// normalizer and the comparator.
type Kind interface {
	// Type is the Terraform resource type, e.g. "aws_instance".
	Type() string
	// IDAttribute names the attribute holding the provider-assigned identifier.
	IDAttribute() string
	// Compared reports whether a normalized path takes part in comparison.
	Compared(path string) bool
	// Ignored reports whether a path is volatile or computed and must be stripped.
	Ignored(path string) bool
	// Equal compares a declared and an observed value at path.
	Equal(path string, declared, observed any) bool
}

// Canonicalizer is implemented by kinds that rewrite values into a
// comparable shape during normalization.
type Canonicalizer interface {
	Canonicalize(path string, value any) any
}

// Spec declares a kind. Path patterns are globs over dotted paths,
// where '*' stays within one segment and '**' spans segments.
type Spec struct {
	Type string
	// ID defaults to "id".
	ID string
	// Compare restricts comparison to matching paths. Empty compares every path.
	Compare []string
	Ignore  []string
	// Unordered paths hold lists compared as sets.
	Unordered []string
	// CaseInsensitive paths hold enum-like strings.
	CaseInsensitive []string
	// Canonical rewrites the value found at an exact path.
	Canonical map[string]func(any) any
}

type patterns []glob.Glob

func compile(exprs []string) patterns {
	out := make(patterns, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, glob.MustCompile(e, '.'))
	}
	return out
}

func (p patterns) match(path string) bool {
	for _, g := range p {
		if g.Match(path) {
			return true
		}
	}
	return false
}

type kind struct {
	spec            Spec
	compare         patterns
	ignore          patterns
	unordered       patterns
	caseInsensitive patterns
}

// NewKind compiles a Spec. It panics on malformed patterns, so specs are
// expected to be static.
func NewKind(spec Spec) Kind {
	if spec.ID == "" {
		spec.ID = "id"
	}
	return &kind{
		spec:            spec,
		compare:         compile(spec.Compare),
		ignore:          compile(spec.Ignore),
		unordered:       compile(spec.Unordered),
		caseInsensitive: compile(spec.CaseInsensitive),
	}
}

func (k *kind) Type() string        { return k.spec.Type }
func (k *kind) IDAttribute() string { return k.spec.ID }

func (k *kind) Compared(path string) bool {
	if k.Ignored(path) {
		return false
	}
	return len(k.compare) == 0 || k.compare.match(path)
}

func (k *kind) Ignored(path string) bool {
	return k.ignore.match(path)
}

func (k *kind) Equal(path string, declared, observed any) bool {
	return Equal(declared, observed, k.caseInsensitive.match(path))
}

func (k *kind) Canonicalize(path string, value any) any {
	if fn, ok := k.spec.Canonical[path]; ok {
		value = fn(value)
	}
	if list, ok := value.([]any); ok && k.unordered.match(path) {
		return sortList(list)
	}
	return value
}

// commonIgnore lists computed attributes Terraform records for every AWS resource.
var commonIgnore = []string{"timeouts", "timeouts.**", "tags_all", "tags_all.**", "arn", "owner_id", "id"}

// Generic returns the kind used for types without a registered spec.
// It compares every attribute except the common computed ones.
func Generic(typ string) Kind {
	return NewKind(Spec{Type: typ, Ignore: commonIgnore})
}

// Registry maps resource types to kinds.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Kind
}

// NewRegistry returns a registry holding the given kinds.
func NewRegistry(kinds ...Kind) *Registry {
	r := &Registry{kinds: make(map[string]Kind)}
	for _, k := range kinds {
		r.Register(k)
	}
	return r
}

// Register adds or replaces a kind.
func (r *Registry) Register(k Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[k.Type()] = k
}

// Lookup returns the kind for typ, falling back to Generic.
func (r *Registry) Lookup(typ string) Kind {
	r.mu.RLock()
	k, ok := r.kinds[typ]
	r.mu.RUnlock()
	if ok {
		return k
	}
	return Generic(typ)
}

// Known reports whether typ has a registered kind.
func (r *Registry) Known(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[typ]
	return ok
}

// Types returns the registered types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for t := range r.kinds {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
