package types

// ChangeKind classifies a discrepancy between declared and observed state.
type ChangeKind string

const (
	// ChangeMissing means declared but not observed.
	ChangeMissing ChangeKind = "MISSING"
	// ChangeExtra means observed but not declared.
	ChangeExtra ChangeKind = "EXTRA"
	// ChangeModified means present on both sides with differing attributes.
	ChangeModified ChangeKind = "MODIFIED"
)

// ChangeKinds lists every change kind.
var ChangeKinds = []ChangeKind{ChangeMissing, ChangeExtra, ChangeModified}

// AttributeDiff is a single attribute that differs between declared and observed state.
type AttributeDiff struct {
	Path     string `json:"path"`
	Declared any    `json:"declared_value"`
	Observed any    `json:"observed_value"`
}
