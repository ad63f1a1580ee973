package feed

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// DefaultMaxDeltas is the delta budget applied when Config leaves it unset.
const DefaultMaxDeltas = 32

// Config assembles the collaborators for a Client. Retriever, Graph,
// Announcer, and NewState are required; everything else has a default.
type Config struct {
	Retriever BlobRetriever
	Graph     TransitionGraph
	Announcer Announcer
	// NewState allocates an empty state engine, used to seed snapshot loads.
	NewState func() StateEngine
	// APIFactory builds the typed facade published after each successful
	// swap. Defaults to exposing the state engine itself.
	APIFactory APIFactory
	// Listeners are notified synchronously, in order, at refresh lifecycle
	// points.
	Listeners []Listener
	// MaxDeltas caps the number of delta steps per plan (default 32).
	MaxDeltas int
	// DoubleSnapshotDisabled forbids discarding current state for a fresh
	// reload when incremental catch-up would exceed MaxDeltas.
	DoubleSnapshotDisabled bool
}

// Client coordinates refreshes of the local dataset copy: it serializes
// refresh requests, plans and executes transitions against a staged state,
// swaps the result into the live position atomically, and notifies listeners.
// Readers never block on an in-flight refresh.
type Client struct {
	retriever  BlobRetriever
	announcer  Announcer
	newState   func() StateEngine
	apiFactory APIFactory
	listeners  []Listener

	planner  *Planner
	executor *Executor
	failed   *FailedTransitions
	stale    *StaleTracker

	// refreshMu serializes plan -> execute -> swap; at most one transition
	// sequence is active at a time.
	refreshMu sync.Mutex
	flight    singleflight.Group

	// cfgMu guards the mutable configuration consulted at plan time.
	cfgMu  sync.Mutex
	cons   Constraints
	filter FilterSpec

	live atomic.Pointer[Handle]
	api  atomic.Pointer[any]
}

// New constructs a Client. The live state starts empty at VersionNone; no
// blob is fetched until the first refresh.
func New(cfg Config) (*Client, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("feed: retriever required")
	}
	if cfg.Graph == nil {
		return nil, fmt.Errorf("feed: transition graph required")
	}
	if cfg.Announcer == nil {
		return nil, fmt.Errorf("feed: announcer required")
	}
	if cfg.NewState == nil {
		return nil, fmt.Errorf("feed: state engine constructor required")
	}
	apiFactory := cfg.APIFactory
	if apiFactory == nil {
		apiFactory = APIFactoryFunc(func(state StateEngine, _ Version) any { return state })
	}
	maxDeltas := cfg.MaxDeltas
	if maxDeltas <= 0 {
		maxDeltas = DefaultMaxDeltas
	}
	failed := NewFailedTransitions()
	c := &Client{
		retriever:  cfg.Retriever,
		announcer:  cfg.Announcer,
		newState:   cfg.NewState,
		apiFactory: apiFactory,
		listeners:  append([]Listener(nil), cfg.Listeners...),
		planner:    NewPlanner(cfg.Graph),
		failed:     failed,
		stale:      NewStaleTracker(),
		cons: Constraints{
			MaxDeltas:             maxDeltas,
			DoubleSnapshotAllowed: !cfg.DoubleSnapshotDisabled,
		},
	}
	c.executor = NewExecutor(cfg.Retriever, failed, cfg.NewState)
	c.live.Store(c.stale.Track(cfg.NewState(), VersionNone))
	return c, nil
}

// Refresh moves the client to the latest announced version. Already-current
// and lower-than-current announcements are no-ops: no fetch, no swap, no
// listener notification; downgrades require RefreshTo. This is a blocking
// call; a concurrent Refresh waits for the in-flight sequence to finish
// before starting its own.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refresh(ctx, false)
}

func (c *Client) refresh(ctx context.Context, pinned bool) error {
	desired, err := c.announcer.Latest(ctx)
	if err != nil {
		current := c.CurrentVersion()
		rerr := &RefreshError{Kind: KindTransport, Reached: current, Err: fmt.Errorf("announced version: %w", err)}
		c.notifyFailed(current, current, VersionNone, rerr)
		return rerr
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx, desired, pinned)
}

// RefreshAsync schedules a refresh on a background goroutine. Overlapping
// triggers coalesce into the in-flight sequence; two update sequences never
// mutate state concurrently. Errors are reported through listeners only.
func (c *Client) RefreshAsync() {
	go func() {
		_, _, _ = c.flight.Do("refresh", func() (any, error) {
			return nil, c.Refresh(context.Background())
		})
	}()
}

// RefreshTo pins the announced version to v and refreshes to it. It fails
// with a KindUnsupported error when the announcer does not support pinning.
func (c *Client) RefreshTo(ctx context.Context, v Version) error {
	pinner, ok := c.announcer.(Pinner)
	if !ok {
		return &RefreshError{Kind: KindUnsupported, Desired: v, Reached: c.CurrentVersion(), Err: ErrUnsupported}
	}
	if err := pinner.Pin(v); err != nil {
		return &RefreshError{Kind: KindUnsupported, Desired: v, Reached: c.CurrentVersion(), Err: err}
	}
	return c.refresh(ctx, true)
}

// refreshLocked runs one plan -> execute -> swap sequence. Callers hold
// refreshMu. Unexpected faults are wrapped into a single reported error; the
// staging discipline guarantees the live state is untouched in that case.
func (c *Client) refreshLocked(ctx context.Context, desired Version, pinned bool) (err error) {
	liveHandle := c.live.Load()
	current := liveHandle.Version()
	if desired == current || desired == VersionNone {
		return nil
	}
	// The visible version never rolls back on an announcement; downgrades
	// happen only through an explicit pin.
	if desired < current && !pinned {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = &RefreshError{Kind: KindInternal, Desired: desired, Reached: c.CurrentVersion(), Err: fmt.Errorf("refresh panic: %v", r)}
			c.notifyFailed(current, c.CurrentVersion(), desired, err)
		}
	}()

	cons, filter := c.planConfig()
	c.notifyStarted(current, desired)

	plan, planErr := c.planner.Plan(ctx, current, desired, cons, c.failed)
	if planErr != nil {
		err = &RefreshError{Kind: KindInternal, Desired: desired, Reached: current, Err: planErr}
		c.notifyFailed(current, current, desired, err)
		return err
	}
	if len(plan.Steps) == 0 {
		err = &RefreshError{Kind: KindInternal, Desired: desired, Reached: current, Err: fmt.Errorf("no transition route from %d to %d", current, desired)}
		c.notifyFailed(current, current, desired, err)
		return err
	}

	working, reached, execErr := c.executor.Apply(ctx, plan, liveHandle.state, filter, c.notifyStep)

	// Publish any progress: the staged copy becomes live with a single
	// atomic swap, superseding the previous handle.
	if reached != current && reached != VersionNone {
		next := c.stale.Track(working, reached)
		c.live.Store(next)
		liveHandle.supersede()
		api := c.apiFactory.Build(working, reached)
		c.api.Store(&api)
	} else {
		reached = current
	}

	if execErr != nil {
		err = &RefreshError{Kind: KindOf(execErr), Desired: desired, Reached: reached, Err: execErr}
		c.notifyFailed(current, reached, desired, err)
		return err
	}
	c.notifyCompleted(current, reached, desired)
	return nil
}

// planConfig snapshots the mutable configuration for one planning cycle and
// consumes the force-snapshot flag.
func (c *Client) planConfig() (Constraints, FilterSpec) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	cons := c.cons
	c.cons.ForceSnapshotOnce = false
	return cons, c.filter
}

// ForceSnapshotNextRefresh makes the next refresh perform a full reload
// instead of an incremental update. The flag self-resets once planned.
func (c *Client) ForceSnapshotNextRefresh() {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.cons.ForceSnapshotOnce = true
}

// SetFilter replaces the load-time exclusion filter. It takes effect from the
// next planning cycle and fully applies at the next snapshot.
func (c *Client) SetFilter(filter FilterSpec) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.filter = filter
}

// SetMaxDeltas adjusts the delta budget for subsequent plans.
func (c *Client) SetMaxDeltas(n int) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	if n > 0 {
		c.cons.MaxDeltas = n
	}
}

// ClearFailedTransitions wipes the failure history so known-bad steps may be
// reattempted on the next refresh.
func (c *Client) ClearFailedTransitions() { c.failed.Clear() }

// CurrentVersion returns the version of the live dataset state.
func (c *Client) CurrentVersion() Version { return c.live.Load().Version() }

// State returns the guarded handle to the live dataset state. Holding a
// handle across refreshes is safe; accesses through a superseded handle are
// recorded by the stale tracker.
func (c *Client) State() *Handle { return c.live.Load() }

// API returns the facade built at the last successful swap, or nil before
// any data has loaded.
func (c *Client) API() any {
	if p := c.api.Load(); p != nil {
		return *p
	}
	return nil
}

// StaleTracker returns the diagnostic handle for stale reference usage.
func (c *Client) StaleTracker() *StaleTracker { return c.stale }

// FailedTransitions returns the failure tracker for diagnostics.
func (c *Client) FailedTransitions() *FailedTransitions { return c.failed }

func (c *Client) notifyStarted(current, desired Version) {
	for _, l := range c.listeners {
		l.RefreshStarted(current, desired)
	}
}

func (c *Client) notifyStep(step Step, err error) {
	for _, l := range c.listeners {
		if err != nil {
			l.StepFailed(step, err)
		} else {
			l.StepCompleted(step)
		}
	}
}

func (c *Client) notifyCompleted(before, reached, desired Version) {
	for _, l := range c.listeners {
		l.RefreshCompleted(before, reached, desired)
	}
}

func (c *Client) notifyFailed(before, reached, desired Version, err error) {
	for _, l := range c.listeners {
		l.RefreshFailed(before, reached, desired, err)
	}
}
