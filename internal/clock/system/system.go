// Package system provides the wall clock used for job and page timestamps.
package system

import "time"

// Clock implements crawler.Clock. Readings are UTC and truncated to
// microseconds, the finest precision every job archive backend keeps.
type Clock struct{}

// New creates a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
