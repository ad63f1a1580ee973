package feed

import (
	"errors"
	"testing"
)

func TestFailedTransitionsRecordAndClear(t *testing.T) {
	tr := NewFailedTransitions()
	st := Step{From: 10, To: 20, Kind: StepDelta}

	if tr.Has(st) {
		t.Fatal("empty tracker reports a failure")
	}
	tr.Record(st, errors.New("first"))
	tr.Record(st, errors.New("second"))
	if !tr.Has(st) {
		t.Fatal("recorded step not reported")
	}
	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1 distinct step", tr.Len())
	}

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot has %d entries", len(snap))
	}
	f := snap[0]
	if f.Attempts != 2 || f.LastErr != "second" || f.LastAt.IsZero() {
		t.Fatalf("unexpected failure record %+v", f)
	}

	tr.Clear()
	if tr.Has(st) || tr.Len() != 0 {
		t.Fatal("Clear left entries behind")
	}
}

func TestFailedTransitionsNilSafe(t *testing.T) {
	var tr *FailedTransitions
	if tr.Has(Step{To: 1, Kind: StepSnapshot}) {
		t.Fatal("nil tracker reports a failure")
	}
}

func TestFailedTransitionsKeyedByStepIdentity(t *testing.T) {
	tr := NewFailedTransitions()
	tr.Record(Step{From: 10, To: 20, Kind: StepDelta}, errors.New("boom"))

	if tr.Has(Step{From: 10, To: 20, Kind: StepReverseDelta}) {
		t.Fatal("failure leaked across step kinds")
	}
	if tr.Has(Step{From: 10, To: 21, Kind: StepDelta}) {
		t.Fatal("failure leaked across destinations")
	}
}
