// Package clock provides the monotonic nanosecond time source used to
// stamp ticks and to measure their latency on the consuming side.
package clock

// Clock returns monotonic time in nanoseconds.
type Clock interface {
	Now() int64
}

// Func adapts a plain function to Clock.
type Func func() int64

// Now calls f.
func (f Func) Now() int64 {
	return f()
}

// Monotonic returns the host monotonic clock.
func Monotonic() Clock {
	return Func(monotonicNow)
}
