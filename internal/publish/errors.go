package publish

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a variant failed.
type ErrorKind string

const (
	KindCredential ErrorKind = "credential"
	KindBuild      ErrorKind = "build"
	KindTest       ErrorKind = "test"
	KindPush       ErrorKind = "push"
	KindTimeout    ErrorKind = "timeout"
	KindCanceled   ErrorKind = "canceled"
)

// ErrPreempted is the cancellation cause of a run superseded by a newer one
// in the same concurrency group.
var ErrPreempted = errors.New("superseded by a newer run")

// StepError is the failure of one step of one variant.
type StepError struct {
	Kind    ErrorKind
	Step    string
	Variant string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Variant, e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first StepError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// stepError wraps err, reclassifying it when ctx ended: an expired unit
// budget becomes a timeout, a canceled run becomes canceled.
func stepError(ctx context.Context, kind ErrorKind, step, variantID string, err error) *StepError {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		kind = KindCanceled
		if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
	}
	return &StepError{Kind: kind, Step: step, Variant: variantID, Err: err}
}
