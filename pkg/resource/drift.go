package resource

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"

	"github.com/yairfalse/driftwatch/types"
)

// DriftRecord is one discrepancy found by a single comparison. It is never mutated.
type DriftRecord struct {
	ResourceID      string                `json:"resource_id"`
	ResourceType    string                `json:"resource_type"`
	ResourceAddress string                `json:"resource_address,omitempty"`
	Region          string                `json:"region"`
	ChangeKind      types.ChangeKind      `json:"change_kind"`
	AttributeDiffs  []types.AttributeDiff `json:"attribute_diffs"`
	Fingerprint     string                `json:"fingerprint"`
}

// Paths returns the sorted attribute paths that differ.
func (d DriftRecord) Paths() []string {
	paths := make([]string, 0, len(d.AttributeDiffs))
	for _, diff := range d.AttributeDiffs {
		paths = append(paths, diff.Path)
	}
	slices.Sort(paths)
	return paths
}

// NewDriftRecord builds a record and stamps its fingerprint.
func NewDriftRecord(r Resource, kind types.ChangeKind, diffs []types.AttributeDiff) DriftRecord {
	if diffs == nil {
		diffs = []types.AttributeDiff{}
	}
	d := DriftRecord{
		ResourceID:      r.ID,
		ResourceType:    r.Type,
		ResourceAddress: r.Address,
		Region:          r.Region,
		ChangeKind:      kind,
		AttributeDiffs:  diffs,
	}
	d.Fingerprint = Fingerprint(d.ResourceType, d.ResourceID, d.ChangeKind, d.Paths())
	return d
}

// Fingerprint is the deduplication identity of a drift:
// sha256 over the resource type and ID, the change kind and the sorted
// attribute paths. Many kinds are keyed by name, so the type is part of it.
func Fingerprint(resourceType, resourceID string, kind types.ChangeKind, paths []string) string {
	sorted := slices.Clone(paths)
	slices.Sort(sorted)

	h := sha256.New()
	h.Write([]byte(resourceType))
	h.Write([]byte{'|'})
	h.Write([]byte(resourceID))
	h.Write([]byte{'|'})
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(strings.Join(sorted, ",")))
	return hex.EncodeToString(h.Sum(nil))
}
