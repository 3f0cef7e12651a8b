package cancellation

import "time"

// Clock supplies the timestamps stamped on cancelled pointers.
type Clock interface {
	UtcNow() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// UtcNow returns the current time in UTC.
func (SystemClock) UtcNow() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// UtcNow calls f.
func (f ClockFunc) UtcNow() time.Time { return f() }
