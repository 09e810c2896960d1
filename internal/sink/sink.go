// Package sink is the caller-owned destination for pipeline outcomes. The
// engine holds no process-wide state; the failure callback (or the driving
// loop) decides what to record and where. A sink implementation is that
// where.
package sink

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Run describes one pipeline run.
type Run struct {
	ID          string          `json:"id"`
	Query       string          `json:"query,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Failure is one rejected record: which step rejected it and the terminal
// state it carried.
type Failure struct {
	RunID    string          `json:"run_id"`
	RecordID string          `json:"record_id"`
	Reason   string          `json:"reason"`
	State    json.RawMessage `json:"state,omitempty"`
	At       time.Time       `json:"at"`
}

// Sink persists run outcomes. Implementations must be safe for concurrent
// use: parallel runners write failures from multiple goroutines.
type Sink interface {
	BeginRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, runID string, stats map[string]int64) error
	RecordFailure(ctx context.Context, f *Failure) error
	ListFailures(ctx context.Context, runID string) ([]*Failure, error)
	RunStats(ctx context.Context, runID string) (map[string]int64, error)
	Close() error
}

// Memory is an in-memory Sink for tests and dry runs.
type Memory struct {
	mu       sync.Mutex
	runs     map[string]*Run
	failures map[string][]*Failure
	stats    map[string]map[string]int64
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{
		runs:     make(map[string]*Run),
		failures: make(map[string][]*Failure),
		stats:    make(map[string]map[string]int64),
	}
}

func (m *Memory) BeginRun(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *Memory) CompleteRun(_ context.Context, runID string, stats map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[runID]; ok {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	cp := make(map[string]int64, len(stats))
	for k, v := range stats {
		cp[k] = v
	}
	m.stats[runID] = cp
	return nil
}

func (m *Memory) RecordFailure(_ context.Context, f *Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	if cp.At.IsZero() {
		cp.At = time.Now().UTC()
	}
	m.failures[f.RunID] = append(m.failures[f.RunID], &cp)
	return nil
}

func (m *Memory) ListFailures(_ context.Context, runID string) ([]*Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Failure, len(m.failures[runID]))
	copy(out, m.failures[runID])
	return out, nil
}

func (m *Memory) RunStats(_ context.Context, runID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.stats[runID]))
	for k, v := range m.stats[runID] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }

var _ Sink = (*Memory)(nil)
