package core

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParameters is returned when a create request carries an
	// unusable duration or an inverted validity window.
	ErrInvalidParameters = errors.New("invalid resource parameters")

	// ErrUnknownResource is returned when the referenced resource does
	// not exist in storage.
	ErrUnknownResource = errors.New("unknown resource")

	// ErrAlreadyInProgress is returned when an activation races with a
	// ring already in flight, either observed directly or lost at the
	// storage compare-and-swap.
	ErrAlreadyInProgress = errors.New("a ring is already in progress")

	// ErrResourceInUse is returned when a resource cannot be deleted
	// because a ring is in flight for it.
	ErrResourceInUse = errors.New("resource is in use")
)

// NotActivatableReason names the predicate that rejected an activation.
type NotActivatableReason string

const (
	ReasonBeforePeriod NotActivatableReason = "before-period"
	ReasonAfterPeriod  NotActivatableReason = "after-period"
	ReasonAlreadyUsed  NotActivatableReason = "already-used"
)

// NotActivatableError rejects an activation whose resource exists but
// fails a validity predicate. The reason is safe to surface to callers.
type NotActivatableError struct {
	Reason NotActivatableReason
}

func (e *NotActivatableError) Error() string {
	return fmt.Sprintf("resource is not activatable: %s", e.Reason)
}

// IsNotActivatable unwraps err into a NotActivatableError if one is
// present in its chain.
func IsNotActivatable(err error) (*NotActivatableError, bool) {
	var naErr *NotActivatableError
	if errors.As(err, &naErr) {
		return naErr, true
	}
	return nil, false
}
