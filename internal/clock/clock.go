// Package clock lets services read the current time through an interface.
package clock

import "time"

// Clock returns the current instant.
type Clock interface {
	Now() time.Time
}

// Func adapts a function to Clock.
type Func func() time.Time

// Now calls f.
func (f Func) Now() time.Time { return f() }

// System returns a Clock backed by time.Now in UTC.
func System() Clock {
	return Func(func() time.Time { return time.Now().UTC() })
}

// Fixed returns a Clock that always reports t.
func Fixed(t time.Time) Clock {
	return Func(func() time.Time { return t })
}
