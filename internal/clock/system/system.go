// Package system provides the wall-clock implementation of checker.Clock.
package system

import "time"

// Clock reads time.Now. The zero value is ready to use.
type Clock struct{}

// New returns a Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current local time. Callers that persist timestamps
// convert to UTC themselves.
func (Clock) Now() time.Time {
	return time.Now()
}
