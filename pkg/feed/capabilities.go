package feed

import (
	"context"
	"io"
)

// BlobRetriever resolves and streams the bytes of transition blobs. Both
// not-found and transport errors are treated as step failures by the executor.
type BlobRetriever interface {
	FetchSnapshot(ctx context.Context, to Version) (io.ReadCloser, error)
	FetchDelta(ctx context.Context, from, to Version) (io.ReadCloser, error)
	FetchReverseDelta(ctx context.Context, from, to Version) (io.ReadCloser, error)
}

// TransitionGraph exposes which adjacent version transitions exist. The
// planner's hop-count logic is decoupled from how the graph is discovered.
type TransitionGraph interface {
	// NextVersion returns the destination of the delta departing from, or
	// false when no forward transition is known.
	NextVersion(ctx context.Context, from Version) (Version, bool, error)
	// PrevVersion returns the destination of the reverse delta departing
	// from, or false when no backward transition is known.
	PrevVersion(ctx context.Context, from Version) (Version, bool, error)
}

// Announcer exposes the latest known published version.
type Announcer interface {
	Latest(ctx context.Context) (Version, error)
}

// Pinner is an optional Announcer capability: pinning the announced version
// to an explicit value. Announcers without it cause RefreshTo to fail with
// ErrUnsupported.
type Pinner interface {
	Pin(v Version) error
}

// Watcher is an optional Announcer capability: invoking fn whenever a new
// version is announced, until ctx is done.
type Watcher interface {
	Watch(ctx context.Context, fn func(Version)) error
}

// StateEngine is the mutable in-memory dataset representation. It owns the
// content for exactly one version at a time; the refresh engine only ever
// mutates staged copies that are not yet visible to readers.
type StateEngine interface {
	// Load fully (re)populates the engine from a snapshot blob.
	Load(r io.Reader, filter FilterSpec) error
	// ApplyDelta mutates the engine forward between two adjacent versions.
	// On error the engine's visible version must be unchanged.
	ApplyDelta(r io.Reader, filter FilterSpec) error
	// ApplyReverseDelta mutates the engine backward between two adjacent
	// versions, with the same atomicity guarantee as ApplyDelta.
	ApplyReverseDelta(r io.Reader, filter FilterSpec) error
	// Version returns the version of the currently held dataset state.
	Version() Version
	// Copy returns an independent copy used to seed a staging state.
	Copy() StateEngine
}

// APIFactory builds a typed facade over a live state engine. It is invoked
// once per successful swap.
type APIFactory interface {
	Build(state StateEngine, version Version) any
}

// APIFactoryFunc adapts a function to the APIFactory interface.
type APIFactoryFunc func(state StateEngine, version Version) any

// Build implements APIFactory.
func (f APIFactoryFunc) Build(state StateEngine, version Version) any { return f(state, version) }

// Listener observes refresh lifecycle events. Listeners are passed to the
// client at construction and invoked synchronously in registration order.
type Listener interface {
	RefreshStarted(current, desired Version)
	StepCompleted(step Step)
	StepFailed(step Step, err error)
	// RefreshCompleted fires after a successful refresh; reached may stop
	// short of desired when the plan was capped.
	RefreshCompleted(before, reached, desired Version)
	// RefreshFailed fires once per failed refresh with the terminal error;
	// reached reflects any partial progress kept.
	RefreshFailed(before, reached, desired Version, err error)
}

// NoopListener implements Listener with empty methods, for embedding.
type NoopListener struct{}

func (NoopListener) RefreshStarted(current, desired Version)                    {}
func (NoopListener) StepCompleted(step Step)                                    {}
func (NoopListener) StepFailed(step Step, err error)                            {}
func (NoopListener) RefreshCompleted(before, reached, desired Version)          {}
func (NoopListener) RefreshFailed(before, reached, desired Version, err error)  {}
