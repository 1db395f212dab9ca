// Package chaos injects deterministic backpressure and delay into a
// transport publication so the publisher's retry path can be exercised
// against transports that rarely fill up on their own.
package chaos

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/transport"
	"go.uber.org/zap"
)

// Chaos provides deterministic failure injection
type Chaos struct {
	cfg    Config
	logger *zap.Logger
	rng    *rand.Rand
	mu     sync.Mutex
	start  time.Time
	offers int
}

// New creates a new Chaos instance. A profile, if set, overrides the
// individual settings it names.
func New(cfg *Config, logger *zap.Logger) *Chaos {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chaos{
		cfg:    *cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		start:  time.Now(),
	}

	if cfg.Profile != "" {
		p, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if p.BackpressurePct > 0 {
				c.cfg.BackpressurePct = p.BackpressurePct
			}
			if p.FullFirst > 0 {
				c.cfg.FullFirst = p.FullFirst
			}
			if p.DelayUsMin > 0 || p.DelayUsMax > 0 {
				c.cfg.DelayUsMin = p.DelayUsMin
				c.cfg.DelayUsMax = p.DelayUsMax
			}
		}
	}

	return c
}

// Enabled reports whether injection is active right now.
func (c *Chaos) Enabled() bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.cfg.WindowMs > 0 && time.Since(c.start).Milliseconds() > int64(c.cfg.WindowMs) {
		return false
	}
	return true
}

// MaybeBackpressure returns true if the next offer should be refused.
func (c *Chaos) MaybeBackpressure(key string) bool {
	if !c.Enabled() {
		return false
	}

	c.mu.Lock()
	c.offers++
	full := c.offers <= c.cfg.FullFirst
	if !full && c.cfg.BackpressurePct > 0 {
		full = c.rng.Intn(100) < c.cfg.BackpressurePct
	}
	c.mu.Unlock()

	if full {
		c.logger.Debug("chaos backpressure injected", zap.String("key", key))
	}
	return full
}

// MaybeDelay sleeps for a random delay between the configured bounds.
func (c *Chaos) MaybeDelay(ctx context.Context) error {
	if !c.Enabled() || (c.cfg.DelayUsMin == 0 && c.cfg.DelayUsMax == 0) {
		return nil
	}

	c.mu.Lock()
	delayUs := c.cfg.DelayUsMin
	if c.cfg.DelayUsMax > c.cfg.DelayUsMin {
		delayUs += c.rng.Intn(c.cfg.DelayUsMax - c.cfg.DelayUsMin + 1)
	}
	c.mu.Unlock()

	if delayUs <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(delayUs) * time.Microsecond)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Publication wraps a transport.Publication with injected faults.
type Publication struct {
	transport.Publication
	chaos *Chaos
}

// Wrap returns pub unchanged when chaos is disabled.
func Wrap(pub transport.Publication, c *Chaos) transport.Publication {
	if c == nil || !c.cfg.Enabled {
		return pub
	}
	return &Publication{Publication: pub, chaos: c}
}

// Offer refuses the payload with backpressure when chaos decides so, and
// otherwise delays it before handing it on.
func (p *Publication) Offer(ctx context.Context, key string, payload []byte) error {
	if p.chaos.MaybeBackpressure(key) {
		return transport.ErrBackpressure
	}
	if err := p.chaos.MaybeDelay(ctx); err != nil {
		return err
	}
	return p.Publication.Offer(ctx, key, payload)
}

// WrapConn returns conn with its publication wrapped.
func WrapConn(conn transport.Conn, c *Chaos) transport.Conn {
	if c == nil || !c.cfg.Enabled {
		return conn
	}
	c.logger.Info("chaos enabled on publication",
		zap.String("transport", conn.Kind()),
		zap.Int("backpressure_pct", c.cfg.BackpressurePct),
		zap.Int("full_first", c.cfg.FullFirst),
		zap.Int("delay_us_min", c.cfg.DelayUsMin),
		zap.Int("delay_us_max", c.cfg.DelayUsMax),
	)
	return transport.NewConn(conn.Kind(), Wrap(conn.Publication(), c), conn.Subscription(), conn.Driver())
}
