// Package reconciler compares declared resources against observed ones.
package reconciler

import (
	"sort"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/types"
)

// Comparator produces DriftRecords from a declared and an observed resource set.
type Comparator struct {
	registry *resource.Registry
}

// NewComparator creates a comparator resolving per-type equality through registry.
func NewComparator(registry *resource.Registry) *Comparator {
	return &Comparator{registry: registry}
}

// Compare partitions both sets by provider ID and emits one MISSING record per
// declared-only resource, one EXTRA per observed-only resource and one MODIFIED
// per common resource with differing attributes. Output is ordered by
// resource type, then resource ID.
func (c *Comparator) Compare(declared, observed []resource.Resource) []resource.DriftRecord {
	declaredMap := buildResourceMap(declared)
	observedMap := buildResourceMap(observed)

	records := make([]resource.DriftRecord, 0)
	records = append(records, c.findMissing(declaredMap, observedMap)...)
	records = append(records, c.findExtra(declaredMap, observedMap)...)
	records = append(records, c.findModified(declaredMap, observedMap)...)

	sortRecords(records)
	return records
}

// findMissing finds resources that are declared but not observed
func (c *Comparator) findMissing(declaredMap, observedMap map[string]resource.Resource) []resource.DriftRecord {
	var records []resource.DriftRecord
	for key, d := range declaredMap {
		if _, exists := observedMap[key]; !exists {
			records = append(records, resource.NewDriftRecord(d, types.ChangeMissing, nil))
		}
	}
	return records
}

// findExtra finds resources that are observed but not declared
func (c *Comparator) findExtra(declaredMap, observedMap map[string]resource.Resource) []resource.DriftRecord {
	var records []resource.DriftRecord
	for key, o := range observedMap {
		if _, exists := declaredMap[key]; !exists {
			records = append(records, resource.NewDriftRecord(o, types.ChangeExtra, nil))
		}
	}
	return records
}

// findModified finds resources present on both sides whose attributes differ
func (c *Comparator) findModified(declaredMap, observedMap map[string]resource.Resource) []resource.DriftRecord {
	var records []resource.DriftRecord
	for key, d := range declaredMap {
		o, exists := observedMap[key]
		if !exists {
			continue
		}
		diffs := c.diffAttributes(d, o)
		if len(diffs) == 0 {
			continue
		}
		// Region and address come from the declared side.
		records = append(records, resource.NewDriftRecord(d, types.ChangeModified, diffs))
	}
	return records
}

// diffAttributes compares the union of attribute paths, sorted by path.
func (c *Comparator) diffAttributes(declared, observed resource.Resource) []types.AttributeDiff {
	kind := c.registry.Lookup(declared.Type)

	paths := make(map[string]struct{}, len(declared.Attributes)+len(observed.Attributes))
	for p := range declared.Attributes {
		paths[p] = struct{}{}
	}
	for p := range observed.Attributes {
		paths[p] = struct{}{}
	}

	var diffs []types.AttributeDiff
	for p := range paths {
		if !kind.Compared(p) {
			continue
		}
		dv, ov := declared.Attributes[p], observed.Attributes[p]
		if kind.Equal(p, dv, ov) {
			continue
		}
		diffs = append(diffs, types.AttributeDiff{Path: p, Declared: dv, Observed: ov})
	}
	sort.Slice(diffs, func(i, j int) bool { return diffs[i].Path < diffs[j].Path })
	return diffs
}

// buildResourceMap creates a map of resources keyed by type and ID
func buildResourceMap(resources []resource.Resource) map[string]resource.Resource {
	resourceMap := make(map[string]resource.Resource, len(resources))
	for _, r := range resources {
		resourceMap[r.Key()] = r
	}
	return resourceMap
}

func sortRecords(records []resource.DriftRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.ResourceType != b.ResourceType {
			return a.ResourceType < b.ResourceType
		}
		if a.ResourceID != b.ResourceID {
			return a.ResourceID < b.ResourceID
		}
		return a.ChangeKind < b.ChangeKind
	})
}
