package core

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a bell resource.
type Status string

const (
	// StatusUnused means the resource has never rung, or is a sticky
	// resource that has been returned after a completed ring.
	StatusUnused Status = "UNUSED"

	// StatusUsing means a ring is in flight for the resource. At most
	// one resource holds this status per admission; it is the exclusion
	// witness for the physical bell.
	StatusUsing Status = "USING"

	// StatusUsed means the resource has been consumed and can never
	// ring again.
	StatusUsed Status = "USED"
)

func (s Status) valid() bool {
	switch s {
	case StatusUnused, StatusUsing, StatusUsed:
		return true
	}
	return false
}

// Resource is a single-use (or sticky, reusable) token that authorizes
// ringing the bell for a fixed duration inside an optional validity
// window.
type Resource struct {
	ID           string     `json:"id"`
	Milliseconds int64      `json:"milliseconds"`
	NotBefore    *time.Time `json:"not_before,omitempty"`
	NotAfter     *time.Time `json:"not_after,omitempty"`
	Sticky       bool       `json:"sticky"`
	API          bool       `json:"api"`
	Status       Status     `json:"status"`
	FailedCount  int        `json:"failed_count"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (r *Resource) IsUnused() bool { return r.Status == StatusUnused }
func (r *Resource) IsUsing() bool  { return r.Status == StatusUsing }
func (r *Resource) IsUsed() bool   { return r.Status == StatusUsed }

// IsBeforePeriod reports whether now falls before the validity window.
func (r *Resource) IsBeforePeriod(now time.Time) bool {
	return r.NotBefore != nil && now.Before(*r.NotBefore)
}

// IsAfterPeriod reports whether now falls after the validity window.
func (r *Resource) IsAfterPeriod(now time.Time) bool {
	return r.NotAfter != nil && r.NotAfter.Before(now)
}

// IsWithinPeriod reports whether now falls inside the validity window.
// Unset bounds are open.
func (r *Resource) IsWithinPeriod(now time.Time) bool {
	return !r.IsBeforePeriod(now) && !r.IsAfterPeriod(now)
}

// IsValid reports whether the resource can be activated at now. Only an
// UNUSED resource inside its validity window is activatable.
func (r *Resource) IsValid(now time.Time) bool {
	return r.IsUnused() && r.IsWithinPeriod(now)
}

// Clone returns a deep copy so callers can hand resources across
// goroutines without sharing the window pointers.
func (r *Resource) Clone() *Resource {
	out := *r
	if r.NotBefore != nil {
		t := *r.NotBefore
		out.NotBefore = &t
	}
	if r.NotAfter != nil {
		t := *r.NotAfter
		out.NotAfter = &t
	}
	return &out
}

func (r *Resource) validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidParameters)
	}
	if r.Milliseconds <= 0 {
		return fmt.Errorf("%w: milliseconds must be positive", ErrInvalidParameters)
	}
	if r.NotBefore != nil && r.NotAfter != nil && !r.NotBefore.Before(*r.NotAfter) {
		return fmt.Errorf("%w: not_before must precede not_after", ErrInvalidParameters)
	}
	if !r.Status.valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidParameters, r.Status)
	}
	return nil
}
