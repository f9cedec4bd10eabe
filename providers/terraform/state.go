// Package terraform provides the declared-state provider backed by a
// Terraform state file (format version 4).
package terraform

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yairfalse/driftwatch/pkg/resource"
)

// State is the subset of a Terraform v4 state file that drift detection reads.
type State struct {
	Version          int             `json:"version"`
	TerraformVersion string          `json:"terraform_version"`
	Serial           int64           `json:"serial"`
	Lineage          string          `json:"lineage"`
	Resources        []StateResource `json:"resources"`
}

// StateResource is one resource block; count/for_each produce several instances.
type StateResource struct {
	Module    string          `json:"module,omitempty"`
	Mode      string          `json:"mode"`
	Type      string          `json:"type"`
	Name      string          `json:"name"`
	Provider  string          `json:"provider"`
	Instances []StateInstance `json:"instances"`
}

// StateInstance holds the attributes of one resource instance.
type StateInstance struct {
	IndexKey   any            `json:"index_key,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// ParseState decodes a state document. Numbers are kept as json.Number so
// large integers survive until normalization.
func ParseState(data []byte) (*State, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty state document")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var st State
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("invalid JSON in state: %w", err)
	}
	if st.Version != 4 {
		return nil, fmt.Errorf("unsupported state version %d", st.Version)
	}
	return &st, nil
}

// RawResources returns one raw resource per managed instance.
// Data sources are skipped. Regions not recorded in the state fall back to defaultRegion.
func (s *State) RawResources(defaultRegion string) []resource.RawResource {
	var out []resource.RawResource
	for _, r := range s.Resources {
		if r.Mode != "managed" || r.Type == "" {
			continue
		}
		for _, inst := range r.Instances {
			out = append(out, resource.RawResource{
				Type:       r.Type,
				Region:     instanceRegion(inst.Attributes, defaultRegion),
				Name:       r.Name,
				Address:    address(r, inst.IndexKey),
				Source:     resource.SourceDeclared,
				Attributes: inst.Attributes,
			})
		}
	}
	return out
}

// address renders module.x.type.name[index] the way Terraform prints it.
func address(r StateResource, key any) string {
	var b strings.Builder
	if r.Module != "" {
		b.WriteString(r.Module)
		b.WriteByte('.')
	}
	b.WriteString(r.Type)
	b.WriteByte('.')
	b.WriteString(r.Name)

	switch k := key.(type) {
	case nil:
	case string:
		fmt.Fprintf(&b, "[%q]", k)
	default:
		fmt.Fprintf(&b, "[%v]", k)
	}
	return b.String()
}

// instanceRegion looks for an explicit region attribute, then the region
// field of the ARN, then the availability zone.
func instanceRegion(attrs map[string]any, fallback string) string {
	if region, ok := attrs["region"].(string); ok && region != "" {
		return region
	}
	if arn, ok := attrs["arn"].(string); ok {
		parts := strings.SplitN(arn, ":", 5)
		if len(parts) == 5 && parts[3] != "" {
			return parts[3]
		}
	}
	if az, ok := attrs["availability_zone"].(string); ok && len(az) > 1 {
		return az[:len(az)-1]
	}
	return fallback
}
