package feed

import "context"

// Planner computes transition plans over an externally discovered transition
// graph. For identical inputs (graph, versions, constraints, failure set) it
// produces the same plan every call.
type Planner struct {
	graph TransitionGraph
}

// NewPlanner returns a planner querying the supplied graph.
func NewPlanner(graph TransitionGraph) *Planner { return &Planner{graph: graph} }

// Plan produces the ordered steps moving current toward desired under the
// supplied constraints. The plan may stop short of desired when the delta
// budget caps the walk; a later refresh continues from there. Steps whose key
// appears in failed are routed around when an alternative exists, and
// included anyway when none does, so the caller observes the failure again
// rather than being silently stuck.
func (p *Planner) Plan(ctx context.Context, current, desired Version, cons Constraints, failed *FailedTransitions) (Plan, error) {
	plan := Plan{Desired: desired}
	if desired == current || desired == VersionNone {
		return plan, nil
	}
	snap := Step{To: desired, Kind: StepSnapshot}
	if current == VersionNone || cons.ForceSnapshotOnce {
		plan.Steps = []Step{snap}
		return plan, nil
	}
	steps, reached, err := p.walk(ctx, current, desired, cons.MaxDeltas)
	if err != nil {
		return Plan{}, err
	}
	if reached != desired {
		// Capped by the budget or dead-ended in the graph: reload fresh at
		// the target when permitted, otherwise make partial progress.
		if cons.DoubleSnapshotAllowed && !failed.Has(snap) {
			plan.Steps = []Step{snap}
			return plan, nil
		}
	}
	plan.Steps = steps
	return p.avoidFailed(plan, snap, cons, failed), nil
}

// walk follows the transition graph from current toward desired, spending at
// most max hops. It stops early when the graph has no further transition or
// when the chain would skip past the target.
func (p *Planner) walk(ctx context.Context, current, desired Version, max int) ([]Step, Version, error) {
	forward := desired > current
	var steps []Step
	at := current
	for at != desired && len(steps) < max {
		var (
			next Version
			ok   bool
			err  error
		)
		if forward {
			next, ok, err = p.graph.NextVersion(ctx, at)
		} else {
			next, ok, err = p.graph.PrevVersion(ctx, at)
		}
		if err != nil {
			return nil, VersionNone, err
		}
		if !ok {
			break
		}
		if (forward && next > desired) || (!forward && next < desired) {
			break
		}
		kind := StepDelta
		if !forward {
			kind = StepReverseDelta
		}
		steps = append(steps, Step{From: at, To: next, Kind: kind})
		at = next
	}
	return steps, at, nil
}

// avoidFailed reroutes a delta plan around the first known-failed step. The
// alternatives, in order: a full reload at the target, or stopping the plan
// just before the failed step. A failed first step with no snapshot
// alternative stays in the plan so the failure surfaces at least once more.
func (p *Planner) avoidFailed(plan Plan, snap Step, cons Constraints, failed *FailedTransitions) Plan {
	for i, st := range plan.Steps {
		if !failed.Has(st) {
			continue
		}
		if cons.DoubleSnapshotAllowed && !failed.Has(snap) {
			return Plan{Desired: plan.Desired, Steps: []Step{snap}}
		}
		if i > 0 {
			return Plan{Desired: plan.Desired, Steps: plan.Steps[:i:i]}
		}
		return plan
	}
	return plan
}
