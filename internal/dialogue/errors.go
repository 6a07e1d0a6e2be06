package dialogue

import (
	"errors"
	"fmt"
)

// FailureKind classifies backend failures for logging and metrics. None of
// these are propagated to the user; a failed start degrades the session and a
// failed turn is silently dropped.
type FailureKind string

const (
	FailureStart    FailureKind = "start"
	FailureTurn     FailureKind = "turn"
	FailureTeardown FailureKind = "teardown"
)

// Failure wraps a backend error with its lifecycle position.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("dialogue %s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(kind FailureKind, err error) error {
	if err == nil {
		return nil
	}
	return &Failure{Kind: kind, Err: err}
}

// KindOf extracts the failure classification, defaulting to turn.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return FailureTurn
}
