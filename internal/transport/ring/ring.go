package ring

import (
	"sync"
)

// buffer is a fixed-capacity FIFO of payload copies. It never grows: a
// full buffer rejects the offer so the publisher sees backpressure.
type buffer struct {
	mu     sync.Mutex
	buf    [][]byte
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	// Stats
	offered  int64
	rejected int64
	polled   int64
}

func newBuffer(capacity int) *buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &buffer{buf: make([][]byte, capacity)}
}

// offer copies payload into the ring. It reports false when full.
func (b *buffer) offer(payload []byte) (ok bool, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false, true
	}
	if b.count == len(b.buf) {
		b.rejected++
		return false, false
	}

	item := make([]byte, len(payload))
	copy(item, payload)

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.offered++
	return true, false
}

// drain removes up to max items in FIFO order.
func (b *buffer) drain(max int) (items [][]byte, closed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, true
	}
	if b.count == 0 {
		return nil, false
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	items = make([][]byte, n)
	for i := 0; i < n; i++ {
		items[i] = b.buf[b.head]
		b.buf[b.head] = nil // Clear reference for GC
		b.head = (b.head + 1) % len(b.buf)
	}
	b.count -= n
	b.polled += int64(n)
	return items, false
}

func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for i := range b.buf {
		b.buf[i] = nil
	}
	b.count = 0
}

func (b *buffer) stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Len:      b.count,
		Capacity: len(b.buf),
		Offered:  b.offered,
		Rejected: b.rejected,
		Polled:   b.polled,
	}
}

// Stats contains ring statistics.
type Stats struct {
	Len      int
	Capacity int
	Offered  int64
	Rejected int64
	Polled   int64
}
