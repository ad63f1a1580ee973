package feed

import (
	"fmt"
	"hash/fnv"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// defaultStaleStackLimit bounds the number of distinct captured stacks so the
// record set cannot grow without bound under pathological access patterns.
const defaultStaleStackLimit = 64

// StaleUsage is one captured call site that accessed a superseded state.
type StaleUsage struct {
	Stack string
	First time.Time
	Count int
}

// StaleTracker detects and records use of dataset states that have been
// superseded by a newer version. Access is not blocked or failed; the data is
// structurally valid, merely logically stale. The captured stacks aid
// debugging of application code retaining references across refresh cycles.
type StaleTracker struct {
	mu     sync.Mutex
	limit  int
	usages map[uint64]*StaleUsage
}

// NewStaleTracker returns a tracker with the default distinct-stack bound.
func NewStaleTracker() *StaleTracker {
	return &StaleTracker{limit: defaultStaleStackLimit, usages: make(map[uint64]*StaleUsage)}
}

// Track wraps a state engine in a guarded handle at the given version.
func (t *StaleTracker) Track(state StateEngine, version Version) *Handle {
	return &Handle{tracker: t, state: state, version: version}
}

// Usages returns a copy of the recorded stale accesses.
func (t *StaleTracker) Usages() []StaleUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]StaleUsage, 0, len(t.usages))
	for _, u := range t.usages {
		out = append(out, *u)
	}
	return out
}

// Reset discards all recorded stale accesses.
func (t *StaleTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usages = make(map[uint64]*StaleUsage)
}

// record captures the caller's stack, deduplicated by call path. skip counts
// frames above the application call site.
func (t *StaleTracker) record(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+2, pcs)
	h := fnv.New64a()
	for _, pc := range pcs[:n] {
		var buf [8]byte
		for i := 0; i < 8; i++ {
			buf[i] = byte(pc >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	key := h.Sum64()

	t.mu.Lock()
	defer t.mu.Unlock()
	if u, ok := t.usages[key]; ok {
		u.Count++
		return
	}
	if len(t.usages) >= t.limit {
		return
	}
	var sb strings.Builder
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	t.usages[key] = &StaleUsage{Stack: sb.String(), First: time.Now().UTC(), Count: 1}
}

// Handle is a guarded reference to one dataset state. Handles obtained before
// a swap keep working after it, but any access through a superseded handle is
// recorded by the tracker.
type Handle struct {
	tracker    *StaleTracker
	state      StateEngine
	version    Version
	superseded atomic.Bool
}

// Engine returns the wrapped state engine, recording the call site when the
// handle has been superseded.
func (h *Handle) Engine() StateEngine {
	if h.superseded.Load() {
		h.tracker.record(1)
	}
	return h.state
}

// Version returns the version the handle was taken at.
func (h *Handle) Version() Version { return h.version }

// Superseded reports whether a newer state has replaced this handle.
func (h *Handle) Superseded() bool { return h.superseded.Load() }

// supersede marks the handle stale after a swap.
func (h *Handle) supersede() { h.superseded.Store(true) }
