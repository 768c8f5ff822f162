// Package system provides a real clock implementation.
package system

import "time"

// Clock implements monitor.Clock using time.Now.
type Clock struct {
	precision time.Duration
}

// New creates a Clock that truncates to microseconds, the precision every
// snapshot store persists.
func New() *Clock {
	return &Clock{precision: time.Microsecond}
}

// Now returns the current UTC time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
