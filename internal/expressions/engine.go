package expressions

import "context"

// Engine evaluates requirement and condition expressions over record state.
// Three implementations: Expr (logic), CEL (guards), GoJQ (queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
