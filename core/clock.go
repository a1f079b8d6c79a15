package core

import "time"

// Clock supplies the current time. Validity checks and lifecycle
// timestamps go through a Clock so tests can pin the time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SystemClock returns a Clock backed by the wall clock in UTC.
func SystemClock() Clock {
	return systemClock{}
}
