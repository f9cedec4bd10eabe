package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/types"
)

// regoQuery is the rule a policy module must define to return a severity.
const regoQuery = "data.driftwatch.severity"

type regoPolicy struct {
	name  string
	query rego.PreparedEvalQuery
}

func compileRego(ctx context.Context, name, code string) (*regoPolicy, error) {
	prepared, err := rego.New(
		rego.Query(regoQuery),
		rego.Module(name+".rego", code),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile policy %s: %w", name, err)
	}
	return &regoPolicy{name: name, query: prepared}, nil
}

// evaluate returns false when the policy leaves severity undefined.
func (p *regoPolicy) evaluate(ctx context.Context, rec resource.DriftRecord) (types.Severity, bool, error) {
	results, err := p.query.Eval(ctx, rego.EvalInput(regoInput(rec)))
	if err != nil {
		return "", false, fmt.Errorf("evaluate policy %s: %w", p.name, err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", false, nil
	}

	value, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return "", false, fmt.Errorf("policy %s: severity must be a string, got %T", p.name, results[0].Expressions[0].Value)
	}
	sev, err := types.ParseSeverity(value)
	if err != nil {
		return "", false, fmt.Errorf("policy %s: %w", p.name, err)
	}
	return sev, true, nil
}

func regoInput(rec resource.DriftRecord) map[string]any {
	paths := rec.Paths()
	pathList := make([]any, 0, len(paths))
	for _, p := range paths {
		pathList = append(pathList, p)
	}

	diffs := make([]any, 0, len(rec.AttributeDiffs))
	for _, d := range rec.AttributeDiffs {
		diffs = append(diffs, map[string]any{
			"path":           d.Path,
			"declared_value": d.Declared,
			"observed_value": d.Observed,
		})
	}

	return map[string]any{
		"resource_id":      rec.ResourceID,
		"resource_type":    rec.ResourceType,
		"resource_address": rec.ResourceAddress,
		"region":           rec.Region,
		"change_kind":      string(rec.ChangeKind),
		"paths":            pathList,
		"attribute_diffs":  diffs,
	}
}
