package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/recflow/internal/logging"
	"github.com/rendis/recflow/pkg/schema"
)

// Status is the per-item execution state.
type Status string

const (
	StatusNotStarted  Status = "not_started"
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
)

// validTransitions is the per-item state machine: NOT_STARTED → INITIALIZED →
// RUNNING* → SUCCEEDED | FAILED. Terminal states are exited only by starting
// a new item. A fault abandons the in-flight item in INITIALIZED or RUNNING,
// so both also accept INITIALIZED: the next item starts fresh on the same
// instance.
var validTransitions = map[Status][]Status{
	StatusNotStarted:  {StatusInitialized},
	StatusInitialized: {StatusInitialized, StatusRunning, StatusSucceeded, StatusFailed},
	StatusRunning:     {StatusInitialized, StatusRunning, StatusSucceeded, StatusFailed},
	StatusSucceeded:   {StatusInitialized},
	StatusFailed:      {StatusInitialized},
}

// Initializer builds the fresh per-item state from a raw input item before
// any step runs. An error is a fault and propagates to the Process caller.
type Initializer func(ctx context.Context, item any) (State, error)

// Callback receives the terminal per-item execution view and produces the
// Process result for that item.
type Callback func(ex *Execution) any

// Config configures a workflow instance. Options, Debug, and the callbacks
// are fixed for the instance's lifetime.
type Config struct {
	// Options is the immutable run-time configuration read by requirement
	// predicates and actions.
	Options Options

	// Stats receives outcome counters. Nil means a fresh accumulator.
	Stats *Stats

	// Debug enables trace, runtime, and state-snapshot capture. Engine
	// behavior (ordering, failure outcome, callbacks, stats) is identical
	// either way.
	Debug bool

	// Initializer builds per-item state. Required.
	Initializer Initializer

	// OnSuccess is invoked for items that ran to completion without failing.
	// Nil defaults to returning the terminal state.
	OnSuccess Callback

	// OnFailure is invoked for items a step marked failed. Nil defaults to
	// returning the terminal state.
	OnFailure Callback

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Workflow is one processing run of a workflow type: a registry bound to
// options, a stats accumulator, and optional debug capture. It processes
// items strictly one at a time; per-item state is never shared between items
// and only Stats survives across them.
type Workflow struct {
	id       string
	registry *Registry
	opts     Options
	stats    *Stats
	debug    bool
	init     Initializer
	success  Callback
	failure  Callback
	logger   *slog.Logger

	ex *Execution
}

// Execution is the transient per-item view handed to actions and callbacks:
// the mutable state, the failure flag, and the debug capture for one item.
type Execution struct {
	w          *Workflow
	item       any
	state      State
	status     Status
	failed     bool
	failReason string
	nextIndex  int
	trace      []TraceEntry
}

// New creates a workflow instance bound to a registry.
func New(reg *Registry, cfg Config) (*Workflow, error) {
	if reg == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "registry is nil")
	}
	if cfg.Initializer == nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "initializer is required")
	}

	stats := cfg.Stats
	if stats == nil {
		stats = NewStats()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	// Copy so later mutation of the caller's map cannot change the
	// instance's options mid-run.
	opts := make(Options, len(cfg.Options))
	for k, v := range cfg.Options {
		opts[k] = v
	}

	w := &Workflow{
		id:       uuid.NewString(),
		registry: reg,
		opts:     opts,
		stats:    stats,
		debug:    cfg.Debug,
		init:     cfg.Initializer,
		success:  cfg.OnSuccess,
		failure:  cfg.OnFailure,
		logger:   logger,
	}
	w.ex = &Execution{w: w, status: StatusNotStarted}
	return w, nil
}

// RunID returns the instance's unique run identifier.
func (w *Workflow) RunID() string { return w.id }

// Options returns the instance's run-time options.
func (w *Workflow) Options() Options { return w.opts }

// Stats returns the instance's counter accumulator.
func (w *Workflow) Stats() *Stats { return w.stats }

// Process drives one raw item through the registry's fixed order.
//
// Per item: reset transient fields, initialize state, then for each step in
// order evaluate option requirements against the options and state
// requirements against the current state; the first unmet requirement skips
// the step without an execution index or debug entries. Eligible steps run
// with pre/post snapshots and timing when debug is enabled; once an executed
// step marks the item failed, no further step runs. Exactly one of the
// failure/success callbacks is invoked and its result returned.
//
// Debug capture is overwritten on each call: the trace belongs to the item
// being processed, and callers wanting cross-item aggregation must copy it
// out inside their callback.
//
// An error returned by the initializer or a step action is a fault: it
// propagates unmodified, no callback runs, and the in-flight item's debug
// fields and stats are left partially updated. The instance itself stays
// usable; whether to process further items after a fault is the caller's
// call.
func (w *Workflow) Process(ctx context.Context, item any) (any, error) {
	ex := w.ex
	if err := ex.transition(StatusInitialized); err != nil {
		return nil, err
	}
	ex.reset(item)

	state, err := w.init(ctx, item)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = State{}
	}
	ex.state = state

	ctx = logging.WithRunID(ctx, w.id)
	log := logging.LogWith(ctx, w.logger)

	for _, step := range w.registry.ordered {
		if !w.eligible(step, ex.state) {
			log.Debug("step skipped", slog.String("step", step.Name))
			continue
		}

		if err := ex.transition(StatusRunning); err != nil {
			return nil, err
		}
		if err := w.runStep(ctx, step, ex); err != nil {
			return nil, err
		}
		if ex.failed {
			log.Debug("item failed, short-circuiting",
				slog.String("step", step.Name),
				slog.String("reason", ex.failReason))
			break
		}
	}

	if ex.failed {
		if err := ex.transition(StatusFailed); err != nil {
			return nil, err
		}
		if w.failure != nil {
			return w.failure(ex), nil
		}
		return ex.state, nil
	}

	if err := ex.transition(StatusSucceeded); err != nil {
		return nil, err
	}
	if w.success != nil {
		return w.success(ex), nil
	}
	return ex.state, nil
}

// eligible evaluates a step's requirements: option requirements first, then
// state requirements, short-circuiting on the first unmet one. Requirement
// evaluation is total: a missing option key is an unmet requirement, never
// an error.
func (w *Workflow) eligible(step Step, state State) bool {
	for _, req := range step.Options {
		v, present := w.opts.Get(req.Key)
		if req.Check == nil || !req.Check(v, present) {
			return false
		}
	}
	for _, req := range step.State {
		if req == nil || !req(state) {
			return false
		}
	}
	return true
}

// runStep executes one eligible step: snapshot, timed action, snapshot,
// trace append, index increment. Debug capture for the step completes even
// when the action marks the item failed.
func (w *Workflow) runStep(ctx context.Context, step Step, ex *Execution) error {
	var pre json.RawMessage
	if w.debug {
		pre = snapshotState(ex.state)
	}

	start := time.Now()
	err := step.Run(logging.WithStep(ctx, step.Name), ex)
	elapsed := time.Since(start)
	if err != nil {
		return err
	}

	if w.debug {
		ex.trace = append(ex.trace, TraceEntry{
			Step:     step.Name,
			Index:    ex.nextIndex,
			Duration: elapsed,
			Pre:      pre,
			Post:     snapshotState(ex.state),
		})
	}
	ex.nextIndex++
	return nil
}

// --- Execution ---

func (ex *Execution) reset(item any) {
	ex.item = item
	ex.state = nil
	ex.failed = false
	ex.failReason = ""
	ex.nextIndex = 0
	ex.trace = nil
}

func (ex *Execution) transition(to Status) error {
	for _, allowed := range validTransitions[ex.status] {
		if allowed == to {
			ex.status = to
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeInvalidTransition,
		"invalid execution transition: %s -> %s", ex.status, to)
}

// Item returns the raw input item being processed.
func (ex *Execution) Item() any { return ex.item }

// State returns the item's mutable working state. Steps mutate it in place.
func (ex *Execution) State() State { return ex.state }

// Fail marks the item failed with a reason. Processing stops after the
// current step completes; the failure callback receives the terminal state.
func (ex *Execution) Fail(reason string) {
	ex.failed = true
	ex.failReason = reason
}

// Failed reports whether the item has been marked failed.
func (ex *Execution) Failed() bool { return ex.failed }

// FailReason returns the reason passed to Fail, or "".
func (ex *Execution) FailReason() string { return ex.failReason }

// Status returns the item's current lifecycle status.
func (ex *Execution) Status() Status { return ex.status }

// Options returns the instance's run-time options.
func (ex *Execution) Options() Options { return ex.w.opts }

// Stats returns the instance's counter accumulator.
func (ex *Execution) Stats() *Stats { return ex.w.stats }

// RunID returns the owning instance's run identifier.
func (ex *Execution) RunID() string { return ex.w.id }

// Trace returns the ordered debug trace of the executed steps for the
// current item. Empty unless the instance was built with Debug enabled.
func (ex *Execution) Trace() []TraceEntry {
	out := make([]TraceEntry, len(ex.trace))
	copy(out, ex.trace)
	return out
}
