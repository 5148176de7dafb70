// Package system provides the wall clock used to time render requests.
package system

import "time"

// Clock implements api.Clock using time.Now. Readings keep the monotonic
// component so elapsed times are immune to wall clock steps.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now()
}

// Since returns the time elapsed since t.
func (Clock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
