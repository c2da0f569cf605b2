package upstream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// client owns a single WebSocket connection to the provider's streaming
// endpoint. Frames are binary both ways.
type client struct {
	cfg    clientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPingAt time.Time
	closed     bool
}

func newClient(cfg clientConfig, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection. The authorized endpoint URL
// already carries the provider's session grant; no extra headers are needed.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("upstream websocket connected", "url", c.cfg.URL)

	return nil
}

// Close gracefully closes the connection. Safe to call more than once.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}

	return nil
}

// Send writes one binary frame to the connection.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Messages returns the inbound frame channel. It is closed when the read
// loop exits, whether from a transport error or from Close.
func (c *client) Messages() <-chan TimestampedMessage {
	return c.messages
}

// Errors returns the connection error channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames from the WebSocket into the messages channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.messages)
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errors <- err:
				default:
				}
				return
			}
		}

		msg := TimestampedMessage{
			Data:       data,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// heartbeatLoop pings the provider and flags stale connections. Absence of
// data frames is normal in quiet markets, so staleness is judged on the
// ping/pong exchange, not on frame arrival.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				return
			}
		}
	}
}
