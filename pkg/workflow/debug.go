package workflow

import (
	"encoding/json"
	"time"
)

// TraceKey identifies one executed step within one item's traversal.
// Index is dense over executed steps only, starting at 0; skipped steps
// never get a key.
type TraceKey struct {
	Step  string
	Index int
}

// TraceEntry records one executed step: its dense index, wall-clock cost,
// and deep state snapshots taken immediately before and after the action ran.
type TraceEntry struct {
	Step     string
	Index    int
	Duration time.Duration
	Pre      json.RawMessage
	Post     json.RawMessage
}

// Key returns the entry's trace key.
func (t TraceEntry) Key() TraceKey {
	return TraceKey{Step: t.Step, Index: t.Index}
}

// snapshotState deep-copies the state via a JSON round trip so later
// mutation cannot corrupt the recorded snapshot. Best effort: a state map
// holding unmarshalable values yields a nil snapshot, never a fault.
func snapshotState(s State) json.RawMessage {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return raw
}

// Runtimes returns the per-step wall-clock cost of the last processed item,
// keyed by (step, execution index). Empty unless debug capture is enabled.
func (ex *Execution) Runtimes() map[TraceKey]time.Duration {
	out := make(map[TraceKey]time.Duration, len(ex.trace))
	for _, t := range ex.trace {
		out[t.Key()] = t.Duration
	}
	return out
}

// PreStates returns the pre-execution state snapshots keyed by
// (step, execution index). Empty unless debug capture is enabled.
func (ex *Execution) PreStates() map[TraceKey]json.RawMessage {
	out := make(map[TraceKey]json.RawMessage, len(ex.trace))
	for _, t := range ex.trace {
		out[t.Key()] = t.Pre
	}
	return out
}

// PostStates returns the post-execution state snapshots keyed by
// (step, execution index). Empty unless debug capture is enabled.
func (ex *Execution) PostStates() map[TraceKey]json.RawMessage {
	out := make(map[TraceKey]json.RawMessage, len(ex.trace))
	for _, t := range ex.trace {
		out[t.Key()] = t.Post
	}
	return out
}
