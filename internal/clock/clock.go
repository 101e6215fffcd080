package clock

import "time"

// Clock provides current time abstraction for deterministic tests.
// Params: none.
// Returns: current wall-clock time.
type Clock interface {
	Now() time.Time
}

// RealClock reads current local time from system clock. Alarms match
// against local hour/minute, so the clock stays in the process zone.
// Params: none.
// Returns: current local timestamp.
type RealClock struct{}

// Now returns current local time.
// Params: none.
// Returns: current local timestamp.
func (RealClock) Now() time.Time {
	return time.Now()
}
