package feed

import (
	"sync"
	"time"
)

// Failure records the attempt history of one known-bad transition step.
type Failure struct {
	Step     Step
	Attempts int
	LastErr  string
	LastAt   time.Time
}

// FailedTransitions tracks which transition steps have recently failed so the
// planner avoids immediately repeating them. Entries persist until Clear is
// called; retries are operator-gated, not automatic, so a broken source is
// not hammered in the background.
type FailedTransitions struct {
	mu sync.Mutex
	m  map[Step]Failure
}

// NewFailedTransitions returns an empty tracker.
func NewFailedTransitions() *FailedTransitions {
	return &FailedTransitions{m: make(map[Step]Failure)}
}

// Record notes a failed attempt of the step.
func (t *FailedTransitions) Record(step Step, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.m[step]
	f.Step = step
	f.Attempts++
	if err != nil {
		f.LastErr = err.Error()
	}
	f.LastAt = time.Now().UTC()
	t.m[step] = f
}

// Has reports whether the step has a recorded failure. Safe on a nil tracker.
func (t *FailedTransitions) Has(step Step) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.m[step]
	return ok
}

// Clear wipes all recorded failures so steps may be reattempted.
func (t *FailedTransitions) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m = make(map[Step]Failure)
}

// Len returns the number of distinct failed steps.
func (t *FailedTransitions) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}

// Snapshot returns a copy of the recorded failures for diagnostics.
func (t *FailedTransitions) Snapshot() []Failure {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Failure, 0, len(t.m))
	for _, f := range t.m {
		out = append(out, f)
	}
	return out
}
