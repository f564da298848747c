package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalsfoundry/araim-monitor/internal/logging"
	"github.com/signalsfoundry/araim-monitor/internal/observability"
	"github.com/signalsfoundry/araim-monitor/kb"
	"github.com/signalsfoundry/araim-monitor/model"
)

const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 2 * time.Minute
	reconnectBackoff      = 2.0
	pingInterval          = 30 * time.Second
	handshakeTimeout      = 30 * time.Second
	writeTimeout          = 10 * time.Second
)

// Message is the JSON envelope read from the integrity feed.
//
//	{"type": "ism", "data": {"epoch": "...", "satellites": {...}, "constellations": {...}}}
type Message struct {
	Type string                         `json:"type"`
	Data *model.IntegritySupportMessage `json:"data"`
}

// Stats are counters for one Client.
type Stats struct {
	Connected  bool
	Received   uint64
	Accepted   uint64
	Rejected   uint64
	Reconnects uint64
}

// Client subscribes to a WebSocket integrity feed, reconnecting with
// exponential backoff, and stores each valid message in a catalog.
type Client struct {
	url     string
	catalog *kb.Catalog
	log     logging.Logger
	metrics *observability.FDECollector
	maxAge  time.Duration

	initialDelay time.Duration
	maxDelay     time.Duration

	connected  atomic.Bool
	received   atomic.Uint64
	accepted   atomic.Uint64
	rejected   atomic.Uint64
	reconnects atomic.Uint64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientLogger attaches a logger.
func WithClientLogger(l logging.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records message and reconnect counts.
func WithMetrics(m *observability.FDECollector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithReconnectDelay overrides the backoff bounds.
func WithReconnectDelay(initial, max time.Duration) ClientOption {
	return func(c *Client) {
		if initial > 0 {
			c.initialDelay = initial
		}
		if max >= c.initialDelay {
			c.maxDelay = max
		}
	}
}

// WithMaxAge makes ISM fail when the held message is older than age
// relative to the requested epoch. Zero disables the check.
func WithMaxAge(age time.Duration) ClientOption {
	return func(c *Client) { c.maxAge = age }
}

// NewClient creates a feed client for url.
func NewClient(url string, catalog *kb.Catalog, opts ...ClientOption) *Client {
	c := &Client{
		url:          url,
		catalog:      catalog,
		log:          logging.Noop(),
		initialDelay: initialReconnectDelay,
		maxDelay:     maxReconnectDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ISM implements Feed with the most recent accepted message.
func (c *Client) ISM(ctx context.Context, epoch time.Time) (*model.IntegritySupportMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ism := c.catalog.ISM()
	if ism == nil {
		return nil, ErrNoISM
	}
	if c.maxAge > 0 && epoch.Sub(ism.Epoch) > c.maxAge {
		return nil, fmt.Errorf("%w: latest message from %s is older than %s", ErrNoISM, ism.Epoch.Format(time.RFC3339), c.maxAge)
	}
	return ism, nil
}

// Stats returns current counters.
func (c *Client) Stats() Stats {
	return Stats{
		Connected:  c.connected.Load(),
		Received:   c.received.Load(),
		Accepted:   c.accepted.Load(),
		Rejected:   c.rejected.Load(),
		Reconnects: c.reconnects.Load(),
	}
}

// Run keeps a subscription open until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	delay := c.initialDelay
	for {
		err := c.connectAndStream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		c.reconnects.Add(1)
		c.metrics.IncFeedReconnects()
		if err != nil {
			c.log.Warn(ctx, "integrity feed disconnected",
				logging.String("url", c.url),
				logging.Duration("retry_in", delay),
				logging.Err(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
			delay = time.Duration(float64(delay) * reconnectBackoff)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}
	}
}

func (c *Client) connectAndStream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info(ctx, "integrity feed connected", logging.String("url", c.url))

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				// Unblocks ReadMessage.
				conn.Close()
				return
			}
		}
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.received.Add(1)
		if err := c.handle(payload); err != nil {
			c.rejected.Add(1)
			c.metrics.ObserveFeedMessage(false)
			c.log.Warn(ctx, "integrity message rejected", logging.Err(err))
			continue
		}
		c.accepted.Add(1)
		c.metrics.ObserveFeedMessage(true)
	}
}

func (c *Client) handle(payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if msg.Type != "ism" {
		return fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if err := ValidateISM(msg.Data); err != nil {
		return err
	}
	return c.catalog.UpdateISM(msg.Data)
}
