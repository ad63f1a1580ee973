package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// chain is an in-memory blob source plus transition graph over a linear
// version history. Snapshots exist at every version; deltas connect adjacent
// versions in both directions. Failures are injected per step.
type chain struct {
	mu       sync.Mutex
	versions []Version
	next     map[Version]Version
	prev     map[Version]Version
	failures map[Step]error
	fetches  []Step
}

func newChain(versions ...Version) *chain {
	c := &chain{
		versions: versions,
		next:     make(map[Version]Version),
		prev:     make(map[Version]Version),
		failures: make(map[Step]error),
	}
	for i := 1; i < len(versions); i++ {
		c.next[versions[i-1]] = versions[i]
		c.prev[versions[i]] = versions[i-1]
	}
	return c
}

func (c *chain) fail(st Step, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[st] = err
}

func (c *chain) unfail(st Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, st)
}

func (c *chain) fetched() []Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Step(nil), c.fetches...)
}

func (c *chain) has(v Version) bool {
	for _, cand := range c.versions {
		if cand == v {
			return true
		}
	}
	return false
}

func (c *chain) serve(st Step, payload string) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches = append(c.fetches, st)
	if err := c.failures[st]; err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader([]byte(payload))), nil
}

func (c *chain) FetchSnapshot(_ context.Context, to Version) (io.ReadCloser, error) {
	st := Step{To: to, Kind: StepSnapshot}
	if !c.has(to) {
		return nil, fmt.Errorf("no snapshot at %d", to)
	}
	return c.serve(st, fmt.Sprintf("snapshot %d", to))
}

func (c *chain) FetchDelta(_ context.Context, from, to Version) (io.ReadCloser, error) {
	st := Step{From: from, To: to, Kind: StepDelta}
	if c.next[from] != to {
		return nil, fmt.Errorf("no delta %d->%d", from, to)
	}
	return c.serve(st, fmt.Sprintf("delta %d %d", from, to))
}

func (c *chain) FetchReverseDelta(_ context.Context, from, to Version) (io.ReadCloser, error) {
	st := Step{From: from, To: to, Kind: StepReverseDelta}
	if c.prev[from] != to {
		return nil, fmt.Errorf("no reverse delta %d->%d", from, to)
	}
	return c.serve(st, fmt.Sprintf("reverse %d %d", from, to))
}

func (c *chain) NextVersion(_ context.Context, from Version) (Version, bool, error) {
	n, ok := c.next[from]
	return n, ok, nil
}

func (c *chain) PrevVersion(_ context.Context, from Version) (Version, bool, error) {
	p, ok := c.prev[from]
	return p, ok, nil
}

// fakeState tracks the applied transition history instead of holding data.
type fakeState struct {
	mu      sync.Mutex
	version Version
	history []string
}

func newFakeState() StateEngine { return &fakeState{} }

func (s *fakeState) Load(r io.Reader, _ FilterSpec) error {
	var v Version
	if err := scanPayload(r, "snapshot %d", &v); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = v
	s.history = append(s.history, fmt.Sprintf("snapshot->%d", v))
	return nil
}

func (s *fakeState) ApplyDelta(r io.Reader, _ FilterSpec) error {
	var from, to Version
	if err := scanPayload(r, "delta %d %d", &from, &to); err != nil {
		return err
	}
	return s.advance(from, to)
}

func (s *fakeState) ApplyReverseDelta(r io.Reader, _ FilterSpec) error {
	var from, to Version
	if err := scanPayload(r, "reverse %d %d", &from, &to); err != nil {
		return err
	}
	return s.advance(from, to)
}

func (s *fakeState) advance(from, to Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from != s.version {
		return fmt.Errorf("transition from %d but state holds %d", from, s.version)
	}
	s.version = to
	s.history = append(s.history, fmt.Sprintf("%d->%d", from, to))
	return nil
}

func (s *fakeState) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *fakeState) Copy() StateEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &fakeState{version: s.version, history: append([]string(nil), s.history...)}
}

func scanPayload(r io.Reader, format string, args ...any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if _, err := fmt.Sscanf(string(data), format, args...); err != nil {
		return fmt.Errorf("bad payload %q: %w", data, err)
	}
	return nil
}

// staticAnnouncer is the minimal Announcer for client tests; pinned adds the
// Pinner capability.
type staticAnnouncer struct {
	mu     sync.Mutex
	latest Version
}

func (a *staticAnnouncer) Latest(context.Context) (Version, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, nil
}

func (a *staticAnnouncer) set(v Version) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latest = v
}

type pinned struct{ staticAnnouncer }

func (a *pinned) Pin(v Version) error {
	a.set(v)
	return nil
}

// recordingListener captures lifecycle events in order.
type recordingListener struct {
	mu     sync.Mutex
	events []string
}

func (l *recordingListener) append(ev string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingListener) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *recordingListener) RefreshStarted(current, desired Version) {
	l.append(fmt.Sprintf("started %d %d", current, desired))
}

func (l *recordingListener) StepCompleted(step Step) {
	l.append("step " + step.String())
}

func (l *recordingListener) StepFailed(step Step, err error) {
	l.append("stepfail " + step.String())
}

func (l *recordingListener) RefreshCompleted(before, reached, desired Version) {
	l.append(fmt.Sprintf("completed %d %d %d", before, reached, desired))
}

func (l *recordingListener) RefreshFailed(before, reached, desired Version, err error) {
	l.append(fmt.Sprintf("failed %d %d %d", before, reached, desired))
}
