// Package policy classifies drift severity from a configurable rule table.
package policy

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/types"
)

//go:embed rules/default.yaml
var defaultRules []byte

// SecurityRuleName names the built-in rule that always runs first.
const SecurityRuleName = "security-sensitive-path"

// DefaultRuleName is reported when no rule matched.
const DefaultRuleName = "default"

// securityPaths are attribute paths whose drift is always CRITICAL:
// network rules, IAM policy documents and encryption key references.
var securityPaths = []string{
	"ingress", "egress",
	"policy", "*_policy",
	"kms_key_id", "kms_key_arn", "kms_master_key_id",
	"**.kms_key_id", "**.kms_key_arn",
}

// Rule is one entry of the rule table as written in YAML.
type Rule struct {
	Name          string             `yaml:"name" validate:"required"`
	ResourceTypes []string           `yaml:"resource_types,omitempty"`
	ChangeKinds   []types.ChangeKind `yaml:"change_kinds,omitempty" validate:"dive,oneof=MISSING EXTRA MODIFIED"`
	Paths         []string           `yaml:"paths,omitempty"`
	// Match is "any" (default) or "all" of the record's paths.
	Match    string         `yaml:"match,omitempty" validate:"omitempty,oneof=any all"`
	Severity types.Severity `yaml:"severity,omitempty" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	// Policy is a .rego file, relative to the policies directory, that
	// decides the severity when the predicates above match.
	Policy string `yaml:"policy,omitempty"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules" validate:"dive"`
}

// Table is an immutable, compiled rule table.
type Table struct {
	rules  []*compiledRule
	source string
}

// Source names where the table was loaded from.
func (t *Table) Source() string {
	return t.source
}

// Rules returns the configured rules, excluding the built-in security rule.
func (t *Table) Rules() []Rule {
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules[1:] {
		out = append(out, r.rule)
	}
	return out
}

type compiledRule struct {
	rule     Rule
	types    []glob.Glob
	paths    []glob.Glob
	kinds    map[types.ChangeKind]bool
	matchAll bool
	policy   *regoPolicy
}

// DefaultTable compiles the embedded default rules.
func DefaultTable(ctx context.Context) (*Table, error) {
	return ParseRules(ctx, defaultRules, "builtin:default.yaml", "")
}

// LoadRules reads a YAML rule file. An empty path loads the embedded defaults.
func LoadRules(ctx context.Context, path, policiesDir string) (*Table, error) {
	if path == "" {
		return DefaultTable(ctx)
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(ctx, data, path, policiesDir)
}

// ParseRules validates and compiles a YAML rule table.
func ParseRules(ctx context.Context, data []byte, source, policiesDir string) (*Table, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", source, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid rules %s: %w", source, err)
	}

	table := &Table{source: source}
	table.rules = append(table.rules, securityRule())

	seen := make(map[string]bool, len(file.Rules))
	for i, r := range file.Rules {
		if seen[r.Name] {
			return nil, fmt.Errorf("rule %d: duplicate name %q", i, r.Name)
		}
		seen[r.Name] = true

		compiled, err := compileRule(ctx, r, policiesDir)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		table.rules = append(table.rules, compiled)
	}
	return table, nil
}

func securityRule() *compiledRule {
	r, err := compileRule(context.Background(), Rule{
		Name:     SecurityRuleName,
		Paths:    securityPaths,
		Severity: types.SeverityCritical,
	}, "")
	if err != nil {
		panic(err)
	}
	return r
}

func compileRule(ctx context.Context, r Rule, policiesDir string) (*compiledRule, error) {
	if r.Policy == "" && !r.Severity.Valid() {
		return nil, fmt.Errorf("severity or policy required")
	}

	c := &compiledRule{
		rule:     r,
		kinds:    make(map[types.ChangeKind]bool, len(r.ChangeKinds)),
		matchAll: r.Match == "all",
	}
	for _, k := range r.ChangeKinds {
		c.kinds[k] = true
	}
	for _, expr := range r.ResourceTypes {
		g, err := glob.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("resource type pattern %q: %w", expr, err)
		}
		c.types = append(c.types, g)
	}
	for _, expr := range r.Paths {
		g, err := glob.Compile(expr, '.')
		if err != nil {
			return nil, fmt.Errorf("path pattern %q: %w", expr, err)
		}
		c.paths = append(c.paths, g)
	}

	if r.Policy != "" {
		file, err := policyPath(policiesDir, r.Policy)
		if err != nil {
			return nil, err
		}
		code, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read policy: %w", err)
		}
		p, err := compileRego(ctx, r.Name, string(code))
		if err != nil {
			return nil, err
		}
		c.policy = p
	}
	return c, nil
}

// policyPath resolves a policy file inside policiesDir, refusing traversal.
func policyPath(policiesDir, name string) (string, error) {
	if policiesDir == "" {
		return "", fmt.Errorf("policy %q: no policies directory configured", name)
	}
	base := filepath.Clean(policiesDir)
	full := filepath.Clean(filepath.Join(base, name))
	rel, err := filepath.Rel(base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("policy %q: path traversal detected", name)
	}
	return full, nil
}

// predicates reports whether the rule's type, kind and path predicates hold.
func (c *compiledRule) predicates(rec resource.DriftRecord) bool {
	if len(c.kinds) > 0 && !c.kinds[rec.ChangeKind] {
		return false
	}
	if len(c.types) > 0 && !matchAny(c.types, rec.ResourceType) {
		return false
	}
	if len(c.paths) == 0 {
		return true
	}

	paths := rec.Paths()
	if len(paths) == 0 {
		return false
	}
	for _, p := range paths {
		matched := matchAny(c.paths, p)
		if matched && !c.matchAll {
			return true
		}
		if !matched && c.matchAll {
			return false
		}
	}
	return c.matchAll
}

// evaluate returns the rule's severity and whether it matched.
func (c *compiledRule) evaluate(ctx context.Context, rec resource.DriftRecord) (types.Severity, bool, error) {
	if !c.predicates(rec) {
		return "", false, nil
	}
	if c.policy == nil {
		return c.rule.Severity, true, nil
	}
	sev, ok, err := c.policy.evaluate(ctx, rec)
	if err != nil || !ok {
		return "", false, err
	}
	return sev, true, nil
}

func matchAny(globs []glob.Glob, s string) bool {
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}
