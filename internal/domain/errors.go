package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks malformed input. Nothing was changed.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a lost race or a duplicate write. Retry with fresh state.
	ErrConflict = errors.New("conflict")
)

var (
	ErrEmptyBatch        = fmt.Errorf("%w: batch has no candidates", ErrValidation)
	ErrAlreadyQueued     = fmt.Errorf("%w: posting already belongs to an open batch", ErrValidation)
	ErrUnknownBatch      = fmt.Errorf("%w: unknown batch", ErrValidation)
	ErrUnknownPosting    = fmt.Errorf("%w: unknown posting", ErrValidation)
	ErrUnknownPlan       = fmt.Errorf("%w: unknown plan", ErrValidation)
	ErrBatchClosed       = fmt.Errorf("%w: batch is closed", ErrValidation)
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrValidation)
	ErrNotApproved       = fmt.Errorf("%w: posting is not approved", ErrValidation)
	ErrPlanNotPending    = fmt.Errorf("%w: plan already ran", ErrValidation)
	ErrUnknownFollowUp   = fmt.Errorf("%w: unknown follow-up", ErrValidation)
	ErrNotExecuted       = fmt.Errorf("%w: posting has no successful execution", ErrValidation)
	ErrStaleRevision     = fmt.Errorf("%w: posting changed since it was read", ErrConflict)
)

// ProfileIncompleteError is returned by scoring when required profile fields
// are empty.
type ProfileIncompleteError struct {
	Missing []string
}

func (e *ProfileIncompleteError) Error() string {
	return "profile incomplete: missing " + strings.Join(e.Missing, ", ")
}

func (e *ProfileIncompleteError) Unwrap() error { return ErrValidation }

// CapabilityError wraps a failure of an external capability such as a
// discovery source, a draft generator or an execution sink.
type CapabilityError struct {
	Capability string
	Op         string
	Err        error
}

func (e *CapabilityError) Error() string {
	if e.Timeout() {
		return fmt.Sprintf("%s %s: timed out: %v", e.Capability, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Capability, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Timeout reports whether the capability call ran out of time.
func (e *CapabilityError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
