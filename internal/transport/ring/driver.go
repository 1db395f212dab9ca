// Package ring is the in-process shared-memory transport. A Driver owns
// one bounded ring per (channel, stream id) address; publications and
// subscriptions attached to the same address share that ring.
package ring

import (
	"context"
	"fmt"
	"sync"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/zap"
)

// DefaultChannel uses the connection-string style of shared-memory
// media driver endpoints.
const DefaultChannel = "ring:ipc?term-length=64k"

// Config holds ring driver configuration
type Config struct {
	Channel  string
	StreamID int32
	Capacity int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Channel:  DefaultChannel,
		StreamID: 100,
		Capacity: 4096,
	}
}

type address struct {
	channel  string
	streamID int32
}

// Driver owns the rings. Closing it closes every handle built on it.
type Driver struct {
	mu       sync.Mutex
	capacity int
	rings    map[address]*buffer
	closed   bool
	logger   *zap.Logger
}

// NewDriver creates a driver whose rings hold capacity payloads.
func NewDriver(capacity int, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{
		capacity: capacity,
		rings:    make(map[address]*buffer),
		logger:   logger,
	}
}

func (d *Driver) ring(channel string, streamID int32) (*buffer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, transport.ErrClosed
	}

	addr := address{channel: channel, streamID: streamID}
	b, ok := d.rings[addr]
	if !ok {
		b = newBuffer(d.capacity)
		d.rings[addr] = b
		d.logger.Debug("ring created",
			zap.String("channel", channel),
			zap.Int32("stream_id", streamID),
			zap.Int("capacity", d.capacity),
		)
	}
	return b, nil
}

// AddPublication attaches a sender to the ring at channel/streamID.
func (d *Driver) AddPublication(channel string, streamID int32) (*Publication, error) {
	b, err := d.ring(channel, streamID)
	if err != nil {
		return nil, fmt.Errorf("add publication %s/%d: %w", channel, streamID, err)
	}
	return &Publication{ring: b}, nil
}

// AddSubscription attaches a receiver to the ring at channel/streamID.
func (d *Driver) AddSubscription(channel string, streamID int32) (*Subscription, error) {
	b, err := d.ring(channel, streamID)
	if err != nil {
		return nil, fmt.Errorf("add subscription %s/%d: %w", channel, streamID, err)
	}
	return &Subscription{ring: b}, nil
}

// Stats returns the statistics of the ring at channel/streamID.
func (d *Driver) Stats(channel string, streamID int32) (Stats, bool) {
	d.mu.Lock()
	b, ok := d.rings[address{channel: channel, streamID: streamID}]
	d.mu.Unlock()
	if !ok {
		return Stats{}, false
	}
	return b.stats(), true
}

// Close closes every ring. Calling it again is a no-op.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	for _, b := range d.rings {
		b.close()
	}
	d.logger.Debug("ring driver closed", zap.Int("rings", len(d.rings)))
	return nil
}

// Publication offers payloads into a ring.
type Publication struct {
	ring   *buffer
	mu     sync.RWMutex
	closed bool
}

// Offer implements transport.Publication.
func (p *Publication) Offer(ctx context.Context, key string, payload []byte) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return transport.ErrClosed
	}

	ok, ringClosed := p.ring.offer(payload)
	switch {
	case ringClosed:
		return transport.ErrClosed
	case !ok:
		return transport.ErrBackpressure
	}
	return nil
}

// Close detaches the publication. The ring stays open for other handles.
func (p *Publication) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Subscription drains payloads from a ring.
type Subscription struct {
	ring   *buffer
	mu     sync.RWMutex
	closed bool
}

// Poll implements transport.Subscription.
func (s *Subscription) Poll(ctx context.Context, h transport.Handler, limit int) (int, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, transport.ErrClosed
	}

	items, ringClosed := s.ring.drain(limit)
	if ringClosed {
		return 0, transport.ErrClosed
	}
	for _, item := range items {
		h(item)
	}
	return len(items), nil
}

// Close detaches the subscription.
func (s *Subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Open builds a transport.Conn on a fresh driver.
func Open(cfg Config, logger *zap.Logger) (transport.Conn, *Driver, error) {
	driver := NewDriver(cfg.Capacity, logger)

	pub, err := driver.AddPublication(cfg.Channel, cfg.StreamID)
	if err != nil {
		driver.Close()
		return nil, nil, err
	}
	sub, err := driver.AddSubscription(cfg.Channel, cfg.StreamID)
	if err != nil {
		driver.Close()
		return nil, nil, err
	}

	return transport.NewConn(transport.KindRing, pub, sub, driver), driver, nil
}
