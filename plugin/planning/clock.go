package planning

import "time"

// Clock abstracts time so timer behavior is testable without real delays.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules f to run once after d and returns a stoppable handle.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable single-shot timer handle.
type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

type realClock struct{}

// NewRealClock returns a Clock backed by the runtime timers.
func NewRealClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
