package policy

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/driftwatch/pkg/resource"
	"github.com/yairfalse/driftwatch/telemetry"
	"github.com/yairfalse/driftwatch/types"
)

// Decision is the outcome of classifying one drift record.
type Decision struct {
	Severity types.Severity
	Rule     string
}

// Classifier assigns a severity to drift records. The active table can be
// swapped at any time; a classification always sees one whole table.
type Classifier struct {
	table  atomic.Pointer[Table]
	logger *telemetry.Logger
	tracer trace.Tracer
}

// NewClassifier creates a classifier over table.
func NewClassifier(table *Table) *Classifier {
	c := &Classifier{
		logger: telemetry.NewLogger("classifier"),
		tracer: otel.Tracer("classifier"),
	}
	c.table.Store(table)
	return c
}

// Table returns the active rule table.
func (c *Classifier) Table() *Table {
	return c.table.Load()
}

// Reload replaces the active rule table.
func (c *Classifier) Reload(table *Table) {
	if table == nil {
		return
	}
	c.table.Store(table)
	c.logger.Info().
		Str("source", table.Source()).
		Int("rules", len(table.rules)-1).
		Msg("rule table reloaded")
}

// Classify returns the severity for rec.
func (c *Classifier) Classify(ctx context.Context, rec resource.DriftRecord) types.Severity {
	return c.Decide(ctx, rec).Severity
}

// Decide evaluates the rule table top to bottom; the first matching rule
// wins. Records matching nothing get HIGH for MISSING/EXTRA and MEDIUM for
// MODIFIED. A policy that fails to evaluate is logged and skipped.
func (c *Classifier) Decide(ctx context.Context, rec resource.DriftRecord) Decision {
	table := c.table.Load()
	if table != nil {
		for _, rule := range table.rules {
			sev, ok, err := rule.evaluate(ctx, rec)
			if err != nil {
				c.logger.WithContext(ctx).Warn().
					Err(err).
					Str("rule", rule.rule.Name).
					Str("resource_id", rec.ResourceID).
					Msg("policy evaluation failed, skipping rule")
				continue
			}
			if ok {
				return Decision{Severity: sev, Rule: rule.rule.Name}
			}
		}
	}
	return Decision{Severity: defaultSeverity(rec.ChangeKind), Rule: DefaultRuleName}
}

// ClassifyAll classifies records in order inside one span.
func (c *Classifier) ClassifyAll(ctx context.Context, records []resource.DriftRecord) []types.Severity {
	ctx, span := c.tracer.Start(ctx, telemetry.SpanClassify,
		trace.WithAttributes(attribute.Int("drift.count", len(records))))
	defer span.End()

	out := make([]types.Severity, len(records))
	for i, rec := range records {
		out[i] = c.Classify(ctx, rec)
	}
	return out
}

func defaultSeverity(kind types.ChangeKind) types.Severity {
	if kind == types.ChangeModified {
		return types.SeverityMedium
	}
	return types.SeverityHigh
}
