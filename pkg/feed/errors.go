package feed

import (
	"errors"
	"fmt"
)

// Kind classifies refresh failures so callers can branch without inspecting
// message strings.
type Kind string

const (
	// KindTransport marks a blob fetch failure (network, not-found, corrupt
	// bytes).
	KindTransport Kind = "transport"
	// KindApply marks a blob that was fetched but could not be structurally
	// applied.
	KindApply Kind = "apply"
	// KindUnsupported marks a request for a capability an injected
	// collaborator does not implement.
	KindUnsupported Kind = "unsupported"
	// KindInternal marks an unexpected condition not attributable to a
	// specific step.
	KindInternal Kind = "internal"
)

// ErrUnsupported is returned when an optional collaborator capability is not
// available.
var ErrUnsupported = errors.New("feed: unsupported capability")

// StepError describes the failure of a single transition step.
type StepError struct {
	Step Step
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %s: %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RefreshError is the single reported error type for a failed refresh. When
// Reached differs from the pre-refresh version, partial progress was kept.
type RefreshError struct {
	Kind    Kind
	Desired Version
	Reached Version
	Err     error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh toward %d reached %d: %s: %v", e.Desired, e.Reached, e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to KindInternal for
// errors raised outside the refresh taxonomy.
func KindOf(err error) Kind {
	var re *RefreshError
	if errors.As(err, &re) {
		return re.Kind
	}
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, ErrUnsupported) {
		return KindUnsupported
	}
	return KindInternal
}
