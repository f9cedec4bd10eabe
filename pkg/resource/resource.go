// Package resource defines the canonical resource model used for drift detection.
package resource

// Source tells which side of the comparison a resource came from.
type Source string

const (
	SourceDeclared Source = "DECLARED"
	SourceObserved Source = "OBSERVED"
)

// RawResource is a resource as handed over by a provider, before normalization.
// Attributes use Terraform attribute names for both declared and observed resources.
type RawResource struct {
	Type       string         `json:"type" yaml:"type"`
	Region     string         `json:"region" yaml:"region"`
	Name       string         `json:"name,omitempty" yaml:"name,omitempty"`
	Address    string         `json:"address,omitempty" yaml:"address,omitempty"`
	Source     Source         `json:"source,omitempty" yaml:"source,omitempty"`
	Attributes map[string]any `json:"attributes" yaml:"attributes"`
}

// Resource is a normalized unit of infrastructure.
// Attributes maps a dotted attribute path to its normalized value.
type Resource struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Region     string         `json:"region"`
	Name       string         `json:"name,omitempty"`
	Address    string         `json:"address,omitempty"`
	Source     Source         `json:"source"`
	Attributes map[string]any `json:"attributes"`
}

// Key identifies a resource within one side of a comparison.
// Provider IDs are only unique per resource type, so the type is part of the key.
func (r Resource) Key() string {
	return Key(r.Type, r.ID)
}

// Key builds a comparison key from a type and a provider ID.
func Key(typ, id string) string {
	return typ + "/" + id
}
