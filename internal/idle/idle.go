// Package idle holds the strategies a busy loop uses between attempts.
// The publisher calls them while a transport reports backpressure and the
// poller calls them at the end of each iteration.
package idle

import (
	"fmt"
	"runtime"
	"time"
)

// Strategy is invoked by a busy loop between attempts. workCount is the
// amount of work done by the last attempt; zero means the loop is idle.
type Strategy interface {
	Idle(workCount int)
	Reset()
}

// BusySpin never gives up the processor.
type BusySpin struct{}

func (BusySpin) Idle(int) {}
func (BusySpin) Reset()   {}

// Yield hands the processor to the scheduler when there was no work.
type Yield struct{}

func (Yield) Idle(workCount int) {
	if workCount > 0 {
		return
	}
	runtime.Gosched()
}

func (Yield) Reset() {}

// Sleep parks for a fixed period when there was no work.
type Sleep struct {
	Period time.Duration
}

func (s Sleep) Idle(workCount int) {
	if workCount > 0 {
		return
	}
	time.Sleep(s.Period)
}

func (Sleep) Reset() {}

// Backoff spins, then yields, then parks with a doubling period capped at
// MaxPark. Any work resets it to spinning.
type Backoff struct {
	MaxSpins  int
	MaxYields int
	MinPark   time.Duration
	MaxPark   time.Duration

	spins  int
	yields int
	park   time.Duration
}

// NewBackoff returns a backoff strategy with the given limits.
func NewBackoff(maxSpins, maxYields int, minPark, maxPark time.Duration) *Backoff {
	return &Backoff{
		MaxSpins:  maxSpins,
		MaxYields: maxYields,
		MinPark:   minPark,
		MaxPark:   maxPark,
	}
}

func (b *Backoff) Idle(workCount int) {
	if workCount > 0 {
		b.Reset()
		return
	}

	switch {
	case b.spins < b.MaxSpins:
		b.spins++
	case b.yields < b.MaxYields:
		b.yields++
		runtime.Gosched()
	default:
		if b.park == 0 {
			b.park = b.MinPark
		}
		time.Sleep(b.park)
		b.park *= 2
		if b.park > b.MaxPark {
			b.park = b.MaxPark
		}
	}
}

func (b *Backoff) Reset() {
	b.spins = 0
	b.yields = 0
	b.park = 0
}

// Counting records how many times Idle was called and never blocks.
type Counting struct {
	Calls int
}

func (c *Counting) Idle(int) { c.Calls++ }
func (c *Counting) Reset()   {}

// Parse builds a strategy from its configuration name.
func Parse(name string) (Strategy, error) {
	switch name {
	case "busy-spin":
		return BusySpin{}, nil
	case "", "yield":
		return Yield{}, nil
	case "sleep":
		return Sleep{Period: time.Millisecond}, nil
	case "backoff":
		return NewBackoff(100, 100, time.Microsecond, time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unknown idle strategy %q", name)
	}
}
