// Package system provides the real clock implementation.
package system

import "time"

// Clock implements notices.Clock using time.Now. Delivery timestamps are
// always UTC so the dedup ledger is timezone-independent.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
