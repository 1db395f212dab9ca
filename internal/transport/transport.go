// Package transport defines the channel boundary encoded ticks cross
// between the publisher and the poller. Implementations live in the
// sub-packages ring, kafka, nats and redis.
package transport

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrBackpressure means the channel cannot accept the payload right
	// now. It is not a failure; the caller retries.
	ErrBackpressure = errors.New("transport: back pressured")

	// ErrClosed means the handle or its underlying driver has been closed.
	ErrClosed = errors.New("transport: closed")
)

// Transport kinds
const (
	KindRing  = "ring"
	KindKafka = "kafka"
	KindNATS  = "nats"
	KindRedis = "redis"
)

// Handler receives one payload. The slice is only valid during the call.
type Handler func(payload []byte)

// Publication is the sending half of a channel.
type Publication interface {
	// Offer attempts a non-blocking send. It returns ErrBackpressure when
	// the channel is full and ErrClosed once the publication is closed.
	Offer(ctx context.Context, key string, payload []byte) error
	Close() error
}

// Subscription is the receiving half of a channel.
type Subscription interface {
	// Poll hands at most limit available payloads to h and returns how
	// many were delivered. It returns ErrClosed once the subscription or
	// its driver is closed.
	Poll(ctx context.Context, h Handler, limit int) (int, error)
	Close() error
}

// Conn bundles the handles of one transport with the driver resource
// underneath them.
type Conn interface {
	Kind() string
	Publication() Publication
	Subscription() Subscription
	Driver() io.Closer
}

// NewConn assembles a Conn from its parts.
func NewConn(kind string, pub Publication, sub Subscription, driver io.Closer) Conn {
	return &conn{kind: kind, pub: pub, sub: sub, driver: driver}
}

type conn struct {
	kind   string
	pub    Publication
	sub    Subscription
	driver io.Closer
}

func (c *conn) Kind() string               { return c.kind }
func (c *conn) Publication() Publication   { return c.pub }
func (c *conn) Subscription() Subscription { return c.sub }
func (c *conn) Driver() io.Closer          { return c.driver }

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
