package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	c := Monotonic()
	prev := c.Now()
	for i := 0; i < 10000; i++ {
		now := c.Now()
		assert.GreaterOrEqual(t, now, prev)
		prev = now
	}
}

func TestFunc(t *testing.T) {
	var n int64
	c := Func(func() int64 {
		n += 5
		return n
	})
	assert.Equal(t, int64(5), c.Now())
	assert.Equal(t, int64(10), c.Now())
}
