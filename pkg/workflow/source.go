package workflow

import (
	"context"
	"errors"
	"io"
)

// Source is the boundary with the upstream collaborator: a lazy, finite or
// unbounded, non-restartable sequence of raw items. Next returns io.EOF when
// the sequence is exhausted; any other error is a source fault. Next may
// block (the upstream may be network-backed); the engine itself never blocks
// elsewhere.
type Source interface {
	Next(ctx context.Context) (any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) (any, error)

func (f SourceFunc) Next(ctx context.Context) (any, error) {
	return f(ctx)
}

// SliceSource returns a Source over a fixed set of items.
func SliceSource(items ...any) Source {
	i := 0
	return SourceFunc(func(context.Context) (any, error) {
		if i >= len(items) {
			return nil, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// Run pulls every item from the source through Process, collecting the
// callback results. The first fault, from the source or from processing,
// stops consumption at that item and is returned alongside the results
// gathered so far. Abandoning the stream early is the caller's cancellation
// mechanism: cancel ctx and Run returns after the in-flight item.
func (w *Workflow) Run(ctx context.Context, src Source) ([]any, error) {
	var results []any
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return results, err
		}

		res, err := w.Process(ctx, item)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
}
