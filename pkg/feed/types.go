// Package feed keeps a local, read-only, in-memory copy of a centrally
// published versioned dataset current by consuming immutable snapshot and
// delta blobs. The engine decides between a full reload and an incremental
// patch sequence, applies the chosen transitions to a staged state copy, and
// publishes the result atomically while concurrent readers keep using the
// previous state.
package feed

import "fmt"

// Version identifies one immutable dataset state. Versions are totally
// ordered and announced versions are monotonically non-decreasing.
type Version int64

// VersionNone is the sentinel meaning no data has been loaded yet.
const VersionNone Version = 0

// StepKind identifies the blob type a transition step consumes.
type StepKind string

const (
	// StepSnapshot fully reloads the dataset at the step's To version.
	StepSnapshot StepKind = "snapshot"
	// StepDelta moves the dataset forward between two adjacent versions.
	StepDelta StepKind = "delta"
	// StepReverseDelta moves the dataset backward between two adjacent versions.
	StepReverseDelta StepKind = "reversedelta"
)

// Step is a directed edge in the transition graph. Snapshot steps ignore From
// (it is VersionNone). Steps are immutable values and act as the key for
// failure tracking.
type Step struct {
	From Version
	To   Version
	Kind StepKind
}

func (s Step) String() string {
	if s.Kind == StepSnapshot {
		return fmt.Sprintf("snapshot->%d", s.To)
	}
	return fmt.Sprintf("%s %d->%d", s.Kind, s.From, s.To)
}

// Plan is an ordered sequence of steps toward a desired version. The last
// step may stop short of Desired when the delta budget caps the walk.
type Plan struct {
	Steps   []Step
	Desired Version
}

// Target returns the version the plan reaches when fully applied, or
// VersionNone for an empty plan.
func (p Plan) Target() Version {
	if len(p.Steps) == 0 {
		return VersionNone
	}
	return p.Steps[len(p.Steps)-1].To
}

// Constraints bound a single planning cycle. Each refresh takes an immutable
// snapshot of these at plan time, so concurrent mutation cannot corrupt an
// in-progress plan.
type Constraints struct {
	// MaxDeltas is the maximum number of delta steps a single plan may carry.
	MaxDeltas int
	// ForceSnapshotOnce requests a full reload on the next plan. It resets
	// once consumed by a plan, regardless of execution outcome.
	ForceSnapshotOnce bool
	// DoubleSnapshotAllowed permits discarding current state and reloading
	// fresh at the target when incremental catch-up would exceed MaxDeltas.
	DoubleSnapshotAllowed bool
}

// FilterSpec excludes types and fields at load time. It shrinks both snapshot
// and delta application and stays sticky across updates until replaced. A
// replacement takes full effect starting with the next snapshot; a delta
// cannot retroactively drop already-loaded fields it does not touch.
type FilterSpec struct {
	Types  []string            // excluded type names
	Fields map[string][]string // excluded field names per type
}

// ExcludesType reports whether records of the named type are dropped.
func (f FilterSpec) ExcludesType(name string) bool {
	for _, t := range f.Types {
		if t == name {
			return true
		}
	}
	return false
}

// ExcludesField reports whether the named field is dropped for the type.
func (f FilterSpec) ExcludesField(typeName, field string) bool {
	for _, fl := range f.Fields[typeName] {
		if fl == field {
			return true
		}
	}
	return false
}

// IsZero reports whether the filter excludes nothing.
func (f FilterSpec) IsZero() bool {
	return len(f.Types) == 0 && len(f.Fields) == 0
}
