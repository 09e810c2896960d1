// Package stream composes multiple workflow instances over one item source.
//
// A workflow instance is strictly sequential and its per-item state is
// instance-scoped, so fan-out means one instance per worker, never a shared
// instance. Stats are kept per worker and summed into the caller's
// accumulator only after all workers stop; the engine provides no
// concurrency-safe counter of its own.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rendis/recflow/pkg/workflow"
)

// Metrics tracks a run's operational counters.
type Metrics struct {
	Processed int64 `json:"processed"`
	Faults    int64 `json:"faults"`
	Panics    int64 `json:"panics"`
}

// Factory builds one workflow instance per worker. It must return a fresh
// instance on every call: instances share nothing but what the factory
// deliberately shares, and sharing Stats across instances is the caller's
// own risk (a fresh Stats per instance plus the post-run merge is the
// supported shape).
type Factory func() (*workflow.Workflow, error)

// Runner fans one source out over a fixed number of workers.
type Runner struct {
	workers int
	factory Factory

	metrics Metrics
}

// NewRunner creates a runner with the given parallelism.
func NewRunner(workers int, factory Factory) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{workers: workers, factory: factory}
}

// Run pulls every item from the source, dispatching each to one of the
// workers' workflow instances, and merges the per-worker stats into merged
// after all workers have stopped. Per-item results are delivered through the
// instances' callbacks, not collected here: ordering across workers is not
// meaningful.
//
// The first fault cancels the remaining workers and is returned; items
// already in flight on other workers complete first. A panic inside a step
// is counted, converted to a fault, and stops the run the same way.
func (r *Runner) Run(ctx context.Context, src workflow.Source, merged *workflow.Stats) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shared := &lockedSource{src: src}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		cancel()
	}

	for i := 0; i < r.workers; i++ {
		w, err := r.factory()
		if err != nil {
			fail(err)
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					atomic.AddInt64(&r.metrics.Panics, 1)
					fail(fmt.Errorf("worker panic: %v", rec))
				}
				if merged != nil {
					merged.Merge(w.Stats().Snapshot())
				}
			}()
			err := r.drain(runCtx, w, shared)
			if err != nil && !errors.Is(err, context.Canceled) {
				atomic.AddInt64(&r.metrics.Faults, 1)
				fail(err)
			}
		}()
	}

	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// drain processes items from the shared source until exhaustion, fault, or
// cancellation.
func (r *Runner) drain(ctx context.Context, w *workflow.Workflow, src workflow.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		item, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := w.Process(ctx, item); err != nil {
			return err
		}
		atomic.AddInt64(&r.metrics.Processed, 1)
	}
}

// Metrics returns a snapshot of the run counters.
func (r *Runner) Metrics() Metrics {
	return Metrics{
		Processed: atomic.LoadInt64(&r.metrics.Processed),
		Faults:    atomic.LoadInt64(&r.metrics.Faults),
		Panics:    atomic.LoadInt64(&r.metrics.Panics),
	}
}

// lockedSource serializes access to a non-restartable source shared by
// multiple workers.
type lockedSource struct {
	mu  sync.Mutex
	src workflow.Source
}

func (s *lockedSource) Next(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Next(ctx)
}
