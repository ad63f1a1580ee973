package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestClient(t *testing.T, c *chain, ann Announcer, opts ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Retriever: c,
		Graph:     c,
		Announcer: ann,
		NewState:  newFakeState,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestClientInitialRefreshLoadsSnapshot(t *testing.T) {
	c := newChain(10, 20)
	ann := &staticAnnouncer{latest: 20}
	client := newTestClient(t, c, ann)

	if client.CurrentVersion() != VersionNone {
		t.Fatalf("fresh client at version %d", client.CurrentVersion())
	}
	if err := client.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if client.CurrentVersion() != 20 {
		t.Fatalf("version %d after initial refresh, want 20", client.CurrentVersion())
	}
	fetched := c.fetched()
	if len(fetched) != 1 || fetched[0].Kind != StepSnapshot {
		t.Fatalf("initial load fetched %v, want one snapshot", fetched)
	}
}

func TestClientIncrementalRefresh(t *testing.T) {
	c := newChain(10, 20, 30)
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann)
	mustRefresh(t, client)

	ann.set(30)
	mustRefresh(t, client)
	if client.CurrentVersion() != 30 {
		t.Fatalf("version %d, want 30", client.CurrentVersion())
	}
	// One snapshot for the initial load, then two deltas.
	var deltas int
	for _, st := range c.fetched() {
		if st.Kind == StepDelta {
			deltas++
		}
	}
	if deltas != 2 {
		t.Fatalf("fetched %d deltas, want 2: %v", deltas, c.fetched())
	}
}

func TestClientRefreshNoOpWhenCurrent(t *testing.T) {
	c := newChain(10)
	ann := &staticAnnouncer{latest: 10}
	lis := &recordingListener{}
	client := newTestClient(t, c, ann, func(cfg *Config) {
		cfg.Listeners = []Listener{lis}
	})
	mustRefresh(t, client)

	before := len(c.fetched())
	events := len(lis.all())
	for i := 0; i < 3; i++ {
		mustRefresh(t, client)
	}
	if got := len(c.fetched()); got != before {
		t.Fatalf("no-op refresh fetched blobs: %d -> %d", before, got)
	}
	if got := len(lis.all()); got != events {
		t.Fatalf("no-op refresh notified listeners: %v", lis.all()[events:])
	}
}

func TestClientSwapIsAtomicAndSupersedesOldHandle(t *testing.T) {
	c := newChain(10, 20)
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann)
	mustRefresh(t, client)

	old := client.State()
	ann.set(20)
	mustRefresh(t, client)

	if old.Version() != 10 || !old.Superseded() {
		t.Fatalf("old handle version %d superseded %v", old.Version(), old.Superseded())
	}
	if old.Engine().Version() != 10 {
		t.Fatal("old handle no longer serves its version")
	}
	if client.State().Version() != 20 {
		t.Fatalf("live handle at %d, want 20", client.State().Version())
	}
	if len(client.StaleTracker().Usages()) == 0 {
		t.Fatal("stale access through the superseded handle not recorded")
	}
}

func TestClientKeepsPartialProgressOnFailure(t *testing.T) {
	c := newChain(10, 20, 30)
	bad := Step{From: 20, To: 30, Kind: StepDelta}
	c.fail(bad, errors.New("read timeout"))
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann, func(cfg *Config) {
		cfg.DoubleSnapshotDisabled = true
	})
	mustRefresh(t, client)

	ann.set(30)
	err := client.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected refresh failure")
	}
	var re *RefreshError
	if !errors.As(err, &re) {
		t.Fatalf("error %T is not a RefreshError", err)
	}
	if re.Kind != KindTransport || re.Desired != 30 || re.Reached != 20 {
		t.Fatalf("unexpected refresh error %+v", re)
	}
	if client.CurrentVersion() != 20 {
		t.Fatalf("partial progress lost, at %d want 20", client.CurrentVersion())
	}
	if !client.FailedTransitions().Has(bad) {
		t.Fatal("failed step not tracked")
	}

	// With no alternative route the failure surfaces again on the next
	// refresh rather than leaving the client silently stuck.
	if err := client.Refresh(context.Background()); err == nil {
		t.Fatal("expected the failure to surface again")
	}
	if client.CurrentVersion() != 20 {
		t.Fatalf("retry moved version to %d", client.CurrentVersion())
	}

	// Clearing the history and fixing the source allows the retry.
	c.unfail(bad)
	client.ClearFailedTransitions()
	mustRefresh(t, client)
	if client.CurrentVersion() != 30 {
		t.Fatalf("at %d after recovery, want 30", client.CurrentVersion())
	}
}

func TestClientFailedInitialLoadStaysEmpty(t *testing.T) {
	c := newChain(10)
	snap := Step{To: 10, Kind: StepSnapshot}
	c.fail(snap, errors.New("forbidden"))
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann)

	if err := client.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}
	if client.CurrentVersion() != VersionNone {
		t.Fatalf("failed initial load moved version to %d", client.CurrentVersion())
	}
	if client.State().Superseded() {
		t.Fatal("live handle superseded by a failed refresh")
	}
}

func TestClientForceSnapshotSelfResets(t *testing.T) {
	c := newChain(10, 20, 30)
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann)
	mustRefresh(t, client)

	client.ForceSnapshotNextRefresh()
	ann.set(20)
	mustRefresh(t, client)

	fetched := c.fetched()
	last := fetched[len(fetched)-1]
	if last.Kind != StepSnapshot || last.To != 20 {
		t.Fatalf("forced refresh fetched %v, want snapshot of 20", last)
	}

	// The flag was consumed: the next refresh is incremental again.
	ann.set(30)
	mustRefresh(t, client)
	fetched = c.fetched()
	last = fetched[len(fetched)-1]
	if last.Kind != StepDelta {
		t.Fatalf("flag did not reset, fetched %v", last)
	}
}

func TestClientRefreshToRequiresPinner(t *testing.T) {
	c := newChain(10, 20)
	client := newTestClient(t, c, &staticAnnouncer{latest: 20})

	err := client.RefreshTo(context.Background(), 10)
	if err == nil {
		t.Fatal("expected unsupported error")
	}
	var re *RefreshError
	if !errors.As(err, &re) || re.Kind != KindUnsupported {
		t.Fatalf("got %v, want unsupported RefreshError", err)
	}
	if !errors.Is(err, ErrUnsupported) {
		t.Fatal("does not unwrap to ErrUnsupported")
	}
}

func TestClientRefreshToDowngrades(t *testing.T) {
	c := newChain(10, 20, 30)
	ann := &pinned{staticAnnouncer{latest: 30}}
	client := newTestClient(t, c, ann)
	mustRefresh(t, client)

	if err := client.RefreshTo(context.Background(), 10); err != nil {
		t.Fatalf("RefreshTo: %v", err)
	}
	if client.CurrentVersion() != 10 {
		t.Fatalf("at %d after pin, want 10", client.CurrentVersion())
	}
	var reverses int
	for _, st := range c.fetched() {
		if st.Kind == StepReverseDelta {
			reverses++
		}
	}
	if reverses != 2 {
		t.Fatalf("fetched %d reverse deltas, want 2", reverses)
	}
}

func TestClientListenersObserveLifecycle(t *testing.T) {
	c := newChain(10, 20)
	ann := &staticAnnouncer{latest: 20}
	lis := &recordingListener{}
	client := newTestClient(t, c, ann, func(cfg *Config) {
		cfg.Listeners = []Listener{lis}
	})
	mustRefresh(t, client)

	want := []string{
		"started 0 20",
		"step snapshot->20",
		"completed 0 20 20",
	}
	got := lis.all()
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestClientAPIFactoryRunsPerSwap(t *testing.T) {
	type facade struct {
		version Version
	}
	c := newChain(10, 20)
	ann := &staticAnnouncer{latest: 10}
	var builds int
	client := newTestClient(t, c, ann, func(cfg *Config) {
		cfg.APIFactory = APIFactoryFunc(func(_ StateEngine, v Version) any {
			builds++
			return &facade{version: v}
		})
	})

	if client.API() != nil {
		t.Fatal("API present before any data loaded")
	}
	mustRefresh(t, client)
	ann.set(20)
	mustRefresh(t, client)

	if builds != 2 {
		t.Fatalf("factory ran %d times, want once per swap", builds)
	}
	api, ok := client.API().(*facade)
	if !ok || api.version != 20 {
		t.Fatalf("API = %#v, want facade at 20", client.API())
	}
}

func TestClientConcurrentRefreshSerialized(t *testing.T) {
	c := newChain(1, 2, 3, 4, 5, 6, 7, 8, 9)
	ann := &staticAnnouncer{latest: 1}
	client := newTestClient(t, c, ann)
	mustRefresh(t, client)

	var wg sync.WaitGroup
	for v := Version(2); v <= 9; v++ {
		ann.set(v)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = client.Refresh(context.Background())
		}()
	}
	wg.Wait()
	_ = client.Refresh(context.Background())

	if client.CurrentVersion() != 9 {
		t.Fatalf("at %d after concurrent refreshes, want 9", client.CurrentVersion())
	}
	// The live state's history is a consistent chain regardless of refresh
	// interleaving.
	hist := client.State().Engine().(*fakeState).history
	if hist[0] != "snapshot->1" {
		t.Fatalf("history does not start with the initial load: %v", hist)
	}
}

func TestClientRefreshAsyncCoalesces(t *testing.T) {
	c := newChain(10, 20)
	ann := &staticAnnouncer{latest: 20}
	client := newTestClient(t, c, ann)

	for i := 0; i < 10; i++ {
		client.RefreshAsync()
	}
	deadline := time.Now().Add(5 * time.Second)
	for client.CurrentVersion() != 20 {
		if time.Now().After(deadline) {
			t.Fatalf("async refresh never landed, at %d", client.CurrentVersion())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClientNoRouteFails(t *testing.T) {
	c := newChain(10)
	c.versions = nil // announced version has no snapshot either
	ann := &staticAnnouncer{latest: 10}
	client := newTestClient(t, c, ann)

	err := client.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected failure when no blob serves the target")
	}
	if client.CurrentVersion() != VersionNone {
		t.Fatalf("version moved to %d", client.CurrentVersion())
	}
}

func TestClientConfigValidation(t *testing.T) {
	c := newChain(10)
	base := Config{Retriever: c, Graph: c, Announcer: &staticAnnouncer{}, NewState: newFakeState}

	for name, mutate := range map[string]func(*Config){
		"retriever": func(cfg *Config) { cfg.Retriever = nil },
		"graph":     func(cfg *Config) { cfg.Graph = nil },
		"announcer": func(cfg *Config) { cfg.Announcer = nil },
		"state":     func(cfg *Config) { cfg.NewState = nil },
	} {
		cfg := base
		mutate(&cfg)
		if _, err := New(cfg); err == nil {
			t.Fatalf("missing %s accepted", name)
		}
	}
	if _, err := New(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestClientRefreshIgnoresLowerAnnouncement(t *testing.T) {
	c := newChain(10, 20, 30)
	ann := &staticAnnouncer{latest: 30}
	lis := &recordingListener{}
	client := newTestClient(t, c, ann, func(cfg *Config) {
		cfg.Listeners = []Listener{lis}
	})
	mustRefresh(t, client)
	if client.CurrentVersion() != 30 {
		t.Fatalf("version %d, want 30", client.CurrentVersion())
	}

	ann.set(10)
	fetches := len(c.fetched())
	events := len(lis.all())
	mustRefresh(t, client)
	if client.CurrentVersion() != 30 {
		t.Fatalf("lower announcement moved version to %d", client.CurrentVersion())
	}
	if got := len(c.fetched()); got != fetches {
		t.Fatalf("lower announcement fetched blobs: %v", c.fetched()[fetches:])
	}
	if got := len(lis.all()); got != events {
		t.Fatalf("lower announcement notified listeners: %v", lis.all()[events:])
	}
}

// errAnnouncer fails every Latest call.
type errAnnouncer struct{ err error }

func (a *errAnnouncer) Latest(context.Context) (Version, error) { return VersionNone, a.err }

func TestClientAnnouncerFailureNotifiesListeners(t *testing.T) {
	c := newChain(10)
	lis := &recordingListener{}
	client := newTestClient(t, c, &errAnnouncer{err: errors.New("oracle down")}, func(cfg *Config) {
		cfg.Listeners = []Listener{lis}
	})

	err := client.Refresh(context.Background())
	var rerr *RefreshError
	if !errors.As(err, &rerr) || rerr.Kind != KindTransport {
		t.Fatalf("Refresh: %v", err)
	}
	got := lis.all()
	if len(got) != 1 || got[0] != "failed 0 0 0" {
		t.Fatalf("listener events %v, want one failure", got)
	}
	if len(c.fetched()) != 0 {
		t.Fatal("announcer failure fetched blobs")
	}
}

func mustRefresh(t *testing.T, c *Client) {
	t.Helper()
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
}
