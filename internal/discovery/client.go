// Package discovery connects to a board discovery service and turns its
// notifications into boards.Event values for the reconciler.
//
// The service pushes JSON text frames over a websocket. Every
// boards_changed frame carries the full set of attached boards and
// available ports; there are no incremental patches.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/mschirtzinger/sketchd/internal/boards"
)

const (
	// DefaultMinBackoff is the first reconnect delay.
	DefaultMinBackoff = 500 * time.Millisecond
	// DefaultMaxBackoff caps the reconnect delay.
	DefaultMaxBackoff = 30 * time.Second
	// DefaultReadLimit is the largest frame accepted.
	DefaultReadLimit = 4 << 20
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff sets the reconnect delay bounds. The delay doubles after every
// failed attempt and resets after a successful connection.
func WithBackoff(first, limit time.Duration) Option {
	return func(c *Client) {
		if first > 0 {
			c.minBackoff = first
		}
		if limit >= c.minBackoff {
			c.maxBackoff = limit
		}
	}
}

// WithDialOptions sets the websocket dial options (headers, HTTP client).
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Client) { c.dialOpts = opts }
}

// Client streams discovery events from a websocket endpoint.
type Client struct {
	url        string
	logger     *log.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
	dialOpts   *websocket.DialOptions
}

// NewClient creates a client for the discovery endpoint at url
// (ws:// or wss://).
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		logger:     log.New(os.Stderr, "[discovery] ", log.LstdFlags),
		minBackoff: DefaultMinBackoff,
		maxBackoff: DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run connects to the service and sends every decoded event to out. Lost
// connections are re-established with exponential backoff. Run returns when
// ctx is done.
func (c *Client) Run(ctx context.Context, out chan<- boards.Event) error {
	backoff := c.minBackoff
	for {
		connected, err := c.stream(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.minBackoff
		}
		c.logger.Printf("Discovery connection lost: %v (retrying in %s)", err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// Events runs the client in the background and returns its event channel,
// closed when ctx is done.
func (c *Client) Events(ctx context.Context) <-chan boards.Event {
	out := make(chan boards.Event, 16)
	go func() {
		defer close(out)
		_ = c.Run(ctx, out)
	}()
	return out
}

// stream handles one connection. It reports whether the dial succeeded.
func (c *Client) stream(ctx context.Context, out chan<- boards.Event) (bool, error) {
	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
	if err != nil {
		return false, fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(DefaultReadLimit)
	c.logger.Printf("Connected to discovery at %s", c.url)

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return true, errors.New("closed by server")
			}
			return true, err
		}

		event, err := Decode(msg)
		if errors.Is(err, ErrUnknownMessage) {
			continue
		}
		if err != nil {
			c.logger.Printf("Warning: %v", err)
			continue
		}

		select {
		case out <- event:
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return true, ctx.Err()
		}
	}
}
