package seqclean

import (
	"context"
	"strings"

	"github.com/rendis/recflow/pkg/workflow"
)

// Option keys understood by the cleaning steps.
const (
	OptFilterLength   = "filter-length"
	OptMinLength      = "minimum-length"
	OptMaxLength      = "maximum-length"
	OptFilterGC       = "filter-gc"
	OptMinGC          = "minimum-gc"
	OptMaxGC          = "maximum-gc"
	OptKeywords       = "filter-keywords"
	OptResolveLineage = "resolve-lineage"
)

// LineageResolver is the taxonomy collaborator boundary: it maps a taxon ID
// to its ordered root-to-leaf ancestor names, or reports absent when the
// lookup cannot be served. It never errors; transport failures are absent.
type LineageResolver interface {
	Resolve(ctx context.Context, taxonID string) ([]string, bool)
}

// ResolverFunc adapts a function to LineageResolver.
type ResolverFunc func(ctx context.Context, taxonID string) ([]string, bool)

func (f ResolverFunc) Resolve(ctx context.Context, taxonID string) ([]string, bool) {
	return f(ctx, taxonID)
}

// NewRegistry declares the cleaning workflow type. Priorities are fixed so
// normalization (RNA rewrite, GC computation) always precedes the filters,
// and enrichment runs last. resolver may be nil when lineage resolution is
// switched off.
func NewRegistry(resolver LineageResolver) (*workflow.Registry, error) {
	return workflow.NewRegistry().
		Register(workflow.Step{
			Name:     "force_to_rna",
			Priority: 95,
			Run: func(_ context.Context, ex *workflow.Execution) error {
				seq, _ := ex.State()[KeySequence].(string)
				ex.State()[KeySequence] = strings.ReplaceAll(seq, "T", "U")
				return nil
			},
		}).
		Register(workflow.Step{
			Name:     "compute_gc",
			Priority: 92,
			State: []workflow.StateRequirement{
				workflow.StateExpr(`record.sequence != nil && record.sequence != ""`),
			},
			Run: func(_ context.Context, ex *workflow.Execution) error {
				seq, _ := ex.State()[KeySequence].(string)
				ex.State()[KeyGC] = gcContent(seq)
				return nil
			},
		}).
		Register(boundStep("minimum_length", 89, OptFilterLength, OptMinLength, KeyLength, below)).
		Register(boundStep("maximum_length", 88, OptFilterLength, OptMaxLength, KeyLength, above)).
		Register(boundStep("minimum_gc", 80, OptFilterGC, OptMinGC, KeyGC, below)).
		Register(boundStep("maximum_gc", 79, OptFilterGC, OptMaxGC, KeyGC, above)).
		Register(workflow.Step{
			Name:     "description_keyword",
			Priority: 70,
			Options: []workflow.OptionRequirement{
				workflow.OptionPresent(OptKeywords),
			},
			State: []workflow.StateRequirement{
				workflow.StateQuery(`.description != null and (.description | length) > 0`),
			},
			Run: func(_ context.Context, ex *workflow.Execution) error {
				desc, _ := ex.State()[KeyDescription].(string)
				if !matchesAnyKeyword(desc, ex.Options()[OptKeywords]) {
					ex.Stats().Incr("description-keyword")
					ex.Fail("description-keyword")
				}
				return nil
			},
		}).
		Register(workflow.Step{
			Name:     "fetch_lineage",
			Priority: 60,
			Options: []workflow.OptionRequirement{
				workflow.OptionTrue(OptResolveLineage),
			},
			State: []workflow.StateRequirement{
				workflow.StateExpr(`record.taxon_id != nil && record.taxon_id != ""`),
			},
			Run: func(ctx context.Context, ex *workflow.Execution) error {
				if resolver == nil {
					ex.Stats().Incr("lineage-unresolved")
					return nil
				}
				taxonID, _ := ex.State()[KeyTaxonID].(string)
				lineage, ok := resolver.Resolve(ctx, taxonID)
				if !ok {
					// Absent lineage is an expected outcome, not a failure.
					ex.Stats().Incr("lineage-unresolved")
					return nil
				}
				ex.State()[KeyLineage] = lineage
				return nil
			},
		}).
		Build()
}

type boundCheck func(value, bound float64) bool

func below(value, bound float64) bool { return value < bound }
func above(value, bound float64) bool { return value > bound }

// boundStep declares a numeric bound filter: gated on its enable flag and
// bound option, it fails the record (and counts it under the bound option's
// name) when the state value violates the bound.
func boundStep(name string, priority float64, enableOpt, boundOpt, stateKey string, violates boundCheck) workflow.Step {
	return workflow.Step{
		Name:     name,
		Priority: priority,
		Options: []workflow.OptionRequirement{
			workflow.OptionTrue(enableOpt),
			workflow.OptionPresent(boundOpt),
		},
		State: []workflow.StateRequirement{
			func(state workflow.State) bool {
				_, ok := numeric(state[stateKey])
				return ok
			},
		},
		Run: func(_ context.Context, ex *workflow.Execution) error {
			value, _ := numeric(ex.State()[stateKey])
			bound, _ := ex.Options().Float(boundOpt)
			if violates(value, bound) {
				ex.Stats().Incr(boundOpt)
				ex.Fail(boundOpt)
			}
			return nil
		},
	}
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func matchesAnyKeyword(desc string, keywords any) bool {
	lower := strings.ToLower(desc)
	switch kws := keywords.(type) {
	case []string:
		for _, kw := range kws {
			if strings.Contains(lower, strings.ToLower(kw)) {
				return true
			}
		}
	case []any:
		for _, kw := range kws {
			s, ok := kw.(string)
			if ok && strings.Contains(lower, strings.ToLower(s)) {
				return true
			}
		}
	}
	return false
}
