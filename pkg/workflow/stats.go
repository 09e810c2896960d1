package workflow

import "sync"

// Stats is a set of named counters that accumulates across every item
// processed by a workflow instance. It is the only state that survives
// between items.
//
// A Stats value is safe for concurrent use, but a single workflow instance
// never touches it from more than one goroutine; the locking exists so
// separate instances may share one accumulator when the caller wants that.
type Stats struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewStats creates an empty counter set.
func NewStats() *Stats {
	return &Stats{counts: make(map[string]int64)}
}

// Incr increments the named counter by one.
func (s *Stats) Incr(label string) {
	s.Add(label, 1)
}

// Add increments the named counter by n.
func (s *Stats) Add(label string, n int64) {
	s.mu.Lock()
	s.counts[label] += n
	s.mu.Unlock()
}

// Get returns the current value of the named counter (zero if never touched).
func (s *Stats) Get(label string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[label]
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

// Merge adds every counter from the snapshot into this set. Used by callers
// aggregating stats across multiple workflow instances; the engine itself
// never merges.
func (s *Stats) Merge(snapshot map[string]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range snapshot {
		s.counts[k] += v
	}
}
