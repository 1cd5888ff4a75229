// Package system provides clock implementations for the aggregator.
package system

import "time"

// Clock implements aggregator.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC at second precision, which is the
// resolution article timestamps are compared at.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Fixed is a clock that always reports the same instant. Advance moves it.
type Fixed struct {
	T time.Time
}

// Now returns the fixed instant.
func (f *Fixed) Now() time.Time {
	return f.T
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.T = f.T.Add(d)
}
