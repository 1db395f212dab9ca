package pipeline

import (
	"context"
	"sync"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
)

// memChannel is an unbounded in-memory channel. It can refuse the first
// fullFor offers with backpressure and fail its closes on demand.
type memChannel struct {
	mu         sync.Mutex
	queue      [][]byte
	fullFor    int
	alwaysFull bool
	offers     int
	pollErr    error

	pubClosed, subClosed, driverClosed       bool
	pubCloseErr, subCloseErr, driverCloseErr error
}

func (m *memChannel) Offer(ctx context.Context, key string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers++
	if m.pubClosed {
		return transport.ErrClosed
	}
	if m.alwaysFull {
		return transport.ErrBackpressure
	}
	if m.fullFor > 0 {
		m.fullFor--
		return transport.ErrBackpressure
	}
	m.queue = append(m.queue, append([]byte(nil), payload...))
	return nil
}

func (m *memChannel) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	m.mu.Lock()
	if m.subClosed {
		m.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if m.pollErr != nil {
		err := m.pollErr
		m.mu.Unlock()
		return 0, err
	}
	n := limit
	if n > len(m.queue) {
		n = len(m.queue)
	}
	batch := m.queue[:n]
	m.queue = m.queue[n:]
	m.mu.Unlock()

	for _, payload := range batch {
		h(payload)
	}
	return n, nil
}

func (m *memChannel) push(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, payload)
}

func (m *memChannel) setPollErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErr = err
}

func (m *memChannel) offerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offers
}

func (m *memChannel) closed() (pub, sub, driver bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pubClosed, m.subClosed, m.driverClosed
}

func (m *memChannel) conn() transport.Conn {
	return transport.NewConn("mem", memPublication{m}, memSubscription{m}, transport.CloserFunc(func() error {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.driverClosed = true
		return m.driverCloseErr
	}))
}

type memPublication struct{ *memChannel }

func (p memPublication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pubClosed = true
	return p.pubCloseErr
}

type memSubscription struct{ *memChannel }

func (s memSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subClosed = true
	return s.subCloseErr
}
