package resource

import (
	"fmt"
	"strings"
)

// Normalizer turns provider resources into comparable Resources.
type Normalizer struct {
	registry   *Registry
	ignoreTags map[string]struct{}
}

// NewNormalizer returns a normalizer that also strips the given tag keys.
func NewNormalizer(registry *Registry, ignoreTags []string) *Normalizer {
	tags := make(map[string]struct{}, len(ignoreTags))
	for _, t := range ignoreTags {
		tags[t] = struct{}{}
	}
	return &Normalizer{registry: registry, ignoreTags: tags}
}

// Registry returns the kind registry the normalizer resolves types with.
func (n *Normalizer) Registry() *Registry {
	return n.registry
}

// Normalize resolves the resource's kind, extracts its identifier and flattens
// its attributes to dotted paths, dropping ignored, non-compared and nil values.
func (n *Normalizer) Normalize(raw RawResource) (Resource, error) {
	if raw.Type == "" {
		return Resource{}, n.fail(raw, "missing resource type")
	}

	k := n.registry.Lookup(raw.Type)
	id := idString(raw.Attributes[k.IDAttribute()])
	if id == "" {
		return Resource{}, n.fail(raw, fmt.Sprintf("missing identifying attribute %q", k.IDAttribute()))
	}

	attrs := make(map[string]any)
	n.flatten(k, "", raw.Attributes, attrs)

	name := raw.Name
	if name == "" {
		if tag, ok := attrs["tags.Name"].(string); ok {
			name = tag
		}
	}

	return Resource{
		ID:         id,
		Type:       raw.Type,
		Region:     raw.Region,
		Name:       name,
		Address:    raw.Address,
		Source:     raw.Source,
		Attributes: attrs,
	}, nil
}

// NormalizeAll normalizes a batch. Resources that fail, including duplicate
// identifiers within the batch, are skipped and reported in the error slice.
func (n *Normalizer) NormalizeAll(raws []RawResource) ([]Resource, []error) {
	out := make([]Resource, 0, len(raws))
	seen := make(map[string]struct{}, len(raws))
	var errs []error

	for _, raw := range raws {
		r, err := n.Normalize(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[r.Key()]; dup {
			errs = append(errs, n.fail(raw, fmt.Sprintf("duplicate id %q", r.ID)))
			continue
		}
		seen[r.Key()] = struct{}{}
		out = append(out, r)
	}
	return out, errs
}

func (n *Normalizer) flatten(k Kind, prefix string, in map[string]any, out map[string]any) {
	for key, v := range in {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if k.Ignored(path) || n.ignoredTag(path) {
			continue
		}

		value := normalizeValue(v)
		if value == nil {
			continue
		}
		if c, ok := k.(Canonicalizer); ok {
			value = c.Canonicalize(path, value)
		}
		if nested, ok := value.(map[string]any); ok {
			n.flatten(k, path, nested, out)
			continue
		}
		if !k.Compared(path) {
			continue
		}
		out[path] = value
	}
}

func (n *Normalizer) ignoredTag(path string) bool {
	key, ok := strings.CutPrefix(path, "tags.")
	if !ok {
		return false
	}
	_, ignored := n.ignoreTags[key]
	return ignored
}

func (n *Normalizer) fail(raw RawResource, reason string) error {
	return &NormalizationError{
		Type:    raw.Type,
		Region:  raw.Region,
		Address: raw.Address,
		Source:  raw.Source,
		Reason:  reason,
	}
}

func idString(v any) string {
	switch t := normalizeValue(v).(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return ""
	}
}
