// Package feed streams book-ticker updates from the exchange websocket and
// hands each validated tick to a caller supplied handler.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"go.uber.org/zap"
)

// DefaultURL is the exchange raw stream endpoint.
const DefaultURL = "wss://stream.binance.com:9443/ws"

// ErrNotConnected is returned when a frame is sent without a connection.
var ErrNotConnected = errors.New("feed: not connected")

// Config holds feed configuration
type Config struct {
	URL              string
	Pairs            []string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReconnectMinWait time.Duration
	ReconnectMaxWait time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		Pairs:            []string{"btcusdt"},
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		ReconnectMinWait: 500 * time.Millisecond,
		ReconnectMaxWait: 30 * time.Second,
	}
}

// Handler receives every validated tick. It runs on the read goroutine.
type Handler func(ctx context.Context, t tick.Tick)

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// controlFrame matches command responses such as {"result":null,"id":1}.
type controlFrame struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

// Client keeps one websocket session to the exchange alive and
// re-subscribes every pair after a reconnect.
type Client struct {
	cfg     Config
	subs    *Subscriptions
	handler Handler
	rec     *metrics.Recorder
	logger  *zap.Logger

	writeMu sync.Mutex
	mu      sync.RWMutex
	conn    *websocket.Conn

	nextID   atomic.Int64
	sessions atomic.Int64
}

// NewClient creates a client for cfg.Pairs.
func NewClient(cfg Config, handler Handler, rec *metrics.Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		subs:    NewSubscriptions(cfg.Pairs...),
		handler: handler,
		rec:     rec,
		logger:  logger,
	}
}

// Subscriptions returns the pair set.
func (c *Client) Subscriptions() *Subscriptions {
	return c.subs
}

// Connected reports whether a session is open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Subscribe adds pair and, if a session is open, subscribes to it right
// away. Otherwise the pair is subscribed on the next connect.
func (c *Client) Subscribe(pair string) error {
	normalized := NormalizePair(pair)
	if normalized == "" {
		return fmt.Errorf("%w: %q", ErrInvalidPair, pair)
	}
	if !c.subs.Subscribe(normalized) {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, normalized)
	}

	c.logger.Info("pair subscribed", zap.String("pair", normalized))

	if err := c.sendSubscribe([]string{normalized}); err != nil && !errors.Is(err, ErrNotConnected) {
		c.logger.Warn("failed to send subscribe, will retry on reconnect",
			zap.String("pair", normalized),
			zap.Error(err),
		)
	}
	return nil
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff whenever the session drops.
func (c *Client) Run(ctx context.Context) error {
	wait := c.cfg.ReconnectMinWait

	for {
		connected, err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("feed stopped")
			return nil
		}
		if connected {
			wait = c.cfg.ReconnectMinWait
		}

		c.logger.Warn("feed session ended, reconnecting",
			zap.Error(err),
			zap.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info("feed stopped")
			return nil
		case <-timer.C:
		}

		wait *= 2
		if wait > c.cfg.ReconnectMaxWait {
			wait = c.cfg.ReconnectMaxWait
		}
	}
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (c *Client) session(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, http.Header{})
	if err != nil {
		return false, fmt.Errorf("failed to dial feed: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		return c.writeControl(conn, websocket.PongMessage, []byte(data))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	n := c.sessions.Add(1)

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	c.logger.Info("feed connected",
		zap.String("url", c.cfg.URL),
		zap.Int64("session", n),
		zap.Strings("pairs", c.subs.List()),
	)

	if pairs := c.subs.List(); len(pairs) > 0 {
		if err := c.sendSubscribe(pairs); err != nil {
			return true, err
		}
	}

	stop := make(chan struct{})
	defer close(stop)
	go c.keepAlive(ctx, conn, stop)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("failed to read feed: %w", err)
		}
		c.handleFrame(ctx, data)
	}
}

// keepAlive pings the server and closes conn when ctx is cancelled so
// the blocked read returns.
func (c *Client) keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = c.writeControl(conn, websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case <-ticker.C:
			if err := c.writeControl(conn, websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug("failed to send ping", zap.Error(err))
			}
		}
	}
}

func (c *Client) writeControl(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(messageType, data, time.Now().Add(c.cfg.WriteTimeout))
}

func (c *Client) sendSubscribe(pairs []string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	req := subscribeRequest{
		Method: "SUBSCRIBE",
		Params: make([]string, 0, len(pairs)),
		ID:     c.nextID.Add(1),
	}
	for _, p := range pairs {
		req.Params = append(req.Params, p+"@bookTicker")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal subscribe: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send subscribe: %w", err)
	}

	c.logger.Debug("subscribe sent", zap.Strings("params", req.Params), zap.Int64("id", req.ID))
	return nil
}

func (c *Client) handleFrame(ctx context.Context, data []byte) {
	t, err := tick.DecodeFeed(data)
	if err != nil {
		var ctrl controlFrame
		if jsonErr := json.Unmarshal(data, &ctrl); jsonErr == nil && ctrl.ID != nil {
			if len(ctrl.Error) > 0 && string(ctrl.Error) != "null" {
				c.logger.Warn("feed command rejected",
					zap.Int64("id", *ctrl.ID),
					zap.ByteString("error", ctrl.Error),
				)
				return
			}
			c.logger.Debug("feed command acknowledged", zap.Int64("id", *ctrl.ID))
			return
		}

		c.rec.Inc(metrics.CounterErrors)
		c.logger.Warn("dropping malformed feed frame", zap.Error(err))
		return
	}

	if err := t.Validate(); err != nil {
		c.rec.Inc(metrics.CounterErrors)
		c.logger.Warn("dropping invalid tick",
			zap.String("symbol", t.Symbol),
			zap.Error(err),
		)
		return
	}

	c.rec.Inc(metrics.CounterFeedReceived)
	c.logger.Debug("book ticker received", zap.String("symbol", t.Symbol))

	if c.handler != nil {
		c.handler(ctx, t)
	}
}

// Pairs returns the subscribed pairs.
func (c *Client) Pairs() []string {
	return c.subs.List()
}
