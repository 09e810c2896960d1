package workflow

import "context"

// State is the mutable per-item working record. Its keys and value semantics
// are owned entirely by the steps of a workflow type; the engine only resets,
// snapshots, and hands it around.
type State = map[string]any

// Options is the immutable run-time configuration of a workflow instance,
// read by requirement predicates and step actions. The engine provides no
// defaults for missing keys; requirement predicates see absence explicitly.
type Options map[string]any

// Get returns the value for key and whether it is present.
func (o Options) Get(key string) (any, bool) {
	v, ok := o[key]
	return v, ok
}

// Bool returns true only if the key is present and holds boolean true.
func (o Options) Bool(key string) bool {
	v, ok := o[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

// Float returns the value coerced to float64. Integer-typed values coerce;
// anything else reports absent.
func (o Options) Float(key string) (float64, bool) {
	v, ok := o[key]
	if !ok {
		return 0, false
	}
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

// String returns the value as a string if present and string-typed.
func (o Options) String(key string) (string, bool) {
	v, ok := o[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ActionFunc is the per-item logic of a step. It may mutate the execution's
// state, mark the item failed, and increment stats. A returned error is a
// fault: it aborts the item and propagates to the Process caller unmodified.
type ActionFunc func(ctx context.Context, ex *Execution) error

// OptionRequirement gates a step on the run-time options. Check receives the
// value stored under Key and whether the key is present at all; it must be
// total: absent keys are a legitimate input, not an error.
type OptionRequirement struct {
	Key   string
	Check func(value any, present bool) bool
}

// StateRequirement gates a step on the item's accumulated state.
type StateRequirement func(state State) bool

// OptionPresent requires the option key to exist, whatever its value.
func OptionPresent(key string) OptionRequirement {
	return OptionRequirement{Key: key, Check: func(_ any, present bool) bool {
		return present
	}}
}

// OptionTrue requires the option key to hold boolean true.
func OptionTrue(key string) OptionRequirement {
	return OptionRequirement{Key: key, Check: func(v any, present bool) bool {
		if !present {
			return false
		}
		b, ok := v.(bool)
		return ok && b
	}}
}

// OptionEquals requires the option key to hold exactly the given value.
func OptionEquals(key string, want any) OptionRequirement {
	return OptionRequirement{Key: key, Check: func(v any, present bool) bool {
		return present && v == want
	}}
}

// Step is an immutable descriptor of one unit of per-item processing,
// registered once at workflow-type definition time.
type Step struct {
	// Name uniquely identifies the step within its registry.
	Name string

	// Priority orders execution: higher runs earlier. Steps with equal
	// priority run in declaration order.
	Priority float64

	// Options must all hold against the run-time options for the step to be
	// eligible. Evaluated in order; the first unmet requirement skips the step.
	Options []OptionRequirement

	// State must all hold against the item's current state for the step to be
	// eligible. Only evaluated once every option requirement holds.
	State []StateRequirement

	// Run is the step's action.
	Run ActionFunc
}
