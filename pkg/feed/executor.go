package feed

import (
	"context"
	"fmt"
	"io"
)

// Executor runs a plan step by step against a staging state copy. It never
// swaps the result into the live position; only the coordinator knows about
// listener notification and readers in flight.
type Executor struct {
	retriever BlobRetriever
	failed    *FailedTransitions
	newState  func() StateEngine
}

// NewExecutor returns an executor fetching blobs from retriever and recording
// step failures in failed.
func NewExecutor(retriever BlobRetriever, failed *FailedTransitions, newState func() StateEngine) *Executor {
	return &Executor{retriever: retriever, failed: failed, newState: newState}
}

// Apply executes the plan strictly in order against a working copy seeded
// from base, or freshly allocated for a snapshot-first plan. On a step
// failure it records the failure, aborts the remainder, and returns the
// partially applied copy with the version it did reach. notify, when non-nil,
// fires after each step with its outcome.
func (e *Executor) Apply(ctx context.Context, plan Plan, base StateEngine, filter FilterSpec, notify func(Step, error)) (StateEngine, Version, error) {
	var working StateEngine
	if len(plan.Steps) > 0 && plan.Steps[0].Kind == StepSnapshot {
		working = e.newState()
	} else {
		working = base.Copy()
	}
	reached := working.Version()
	for _, st := range plan.Steps {
		if err := e.applyStep(ctx, st, working, filter); err != nil {
			e.failed.Record(st, err)
			if notify != nil {
				notify(st, err)
			}
			return working, reached, err
		}
		reached = st.To
		if notify != nil {
			notify(st, nil)
		}
	}
	return working, reached, nil
}

// applyStep fetches one blob and applies it to the working copy. Fetch and
// apply form an atomic unit: a failure leaves the copy's visible version
// unchanged (the state engine contract guarantees the apply side).
func (e *Executor) applyStep(ctx context.Context, st Step, working StateEngine, filter FilterSpec) error {
	var (
		rc  io.ReadCloser
		err error
	)
	switch st.Kind {
	case StepSnapshot:
		rc, err = e.retriever.FetchSnapshot(ctx, st.To)
	case StepDelta:
		rc, err = e.retriever.FetchDelta(ctx, st.From, st.To)
	case StepReverseDelta:
		rc, err = e.retriever.FetchReverseDelta(ctx, st.From, st.To)
	default:
		return &StepError{Step: st, Kind: KindInternal, Err: fmt.Errorf("unknown step kind %q", st.Kind)}
	}
	if err != nil {
		return &StepError{Step: st, Kind: KindTransport, Err: err}
	}
	defer func() { _ = rc.Close() }()

	switch st.Kind {
	case StepSnapshot:
		err = working.Load(rc, filter)
	case StepDelta:
		err = working.ApplyDelta(rc, filter)
	case StepReverseDelta:
		err = working.ApplyReverseDelta(rc, filter)
	}
	if err != nil {
		return &StepError{Step: st, Kind: KindApply, Err: err}
	}
	if got := working.Version(); got != st.To {
		return &StepError{Step: st, Kind: KindApply, Err: fmt.Errorf("engine reports version %d after step", got)}
	}
	return nil
}
