package workflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/recflow/internal/expressions"
)

// Requirement predicates must be total, so expression-backed requirements
// never surface errors: a compile failure, evaluation failure, or non-boolean
// result is an unmet requirement, logged at debug level.

var (
	exprEngine = sync.OnceValue(func() expressions.Engine {
		return expressions.NewExprEngine()
	})
	celEngine = sync.OnceValues(func() (expressions.Engine, error) {
		return expressions.NewCELEngine()
	})
	jqEngine = sync.OnceValue(func() expressions.Engine {
		return expressions.NewGoJQEngine()
	})
)

// OptionExpr builds an option requirement from an expr-lang expression.
// The expression sees "value" (the option's value, nil when missing) and
// "present" (whether the key exists) as top-level variables.
//
//	OptionExpr("minimum-length", "present && value > 0")
func OptionExpr(key, expression string) OptionRequirement {
	return OptionRequirement{Key: key, Check: func(v any, present bool) bool {
		return evalBool(exprEngine(), expression, map[string]any{
			"value":   v,
			"present": present,
		})
	}}
}

// StateExpr builds a state requirement from an expr-lang expression. The
// expression sees the state map as "record".
//
//	StateExpr(`record.length != nil && record.length > 0`)
func StateExpr(expression string) StateRequirement {
	return func(state State) bool {
		return evalBool(exprEngine(), expression, map[string]any{"record": map[string]any(state)})
	}
}

// StateCEL builds a state requirement from a CEL expression over "record".
func StateCEL(expression string) StateRequirement {
	eng, err := celEngine()
	if err != nil {
		slog.Debug("CEL engine unavailable", slog.String("error", err.Error()))
		return func(State) bool { return false }
	}
	return func(state State) bool {
		return evalBool(eng, expression, map[string]any{"record": map[string]any(state)})
	}
}

// StateQuery builds a state requirement from a jq expression evaluated with
// the state map as input.
//
//	StateQuery(`.description | test("16S")`)
func StateQuery(expression string) StateRequirement {
	return func(state State) bool {
		return evalBool(jqEngine(), expression, state)
	}
}

func evalBool(eng expressions.Engine, expression string, data map[string]any) bool {
	out, err := eng.Evaluate(context.Background(), expression, data)
	if err != nil {
		slog.Debug("requirement expression failed",
			slog.String("engine", eng.Name()),
			slog.String("expression", expression),
			slog.String("error", err.Error()))
		return false
	}
	b, ok := out.(bool)
	if !ok {
		slog.Debug("requirement expression is not boolean",
			slog.String("engine", eng.Name()),
			slog.String("expression", expression))
		return false
	}
	return b
}
