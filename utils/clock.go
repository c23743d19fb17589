package utils

import "time"

// Clock is injected wherever wall-clock time or timers drive behavior.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// ClockOrReal returns c, or the wall clock when c is nil.
func ClockOrReal(c Clock) Clock {
	if c == nil {
		return RealClock
	}
	return c
}
