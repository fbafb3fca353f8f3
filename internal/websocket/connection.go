package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ConnectionOptions tunes the per-connection write path
type ConnectionOptions struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// DefaultConnectionOptions matches the production websocket config defaults
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		BufferSize:   100,
		WriteTimeout: 5 * time.Second,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no game logic in connection wrapper
type Connection struct {
	conn         *websocket.Conn
	id           string
	channelKey   string
	participant  string
	writeCh      chan []byte
	writeTimeout time.Duration
	drain        chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	drainOnce    sync.Once
}

// NewConnection wraps an upgraded websocket bound to a channel and
// tagged with the participant it speaks for
func NewConnection(conn *websocket.Conn, channelKey, participant string, opts ConnectionOptions) *Connection {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultConnectionOptions().BufferSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultConnectionOptions().WriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		id:           uuid.NewString(),
		channelKey:   channelKey,
		participant:  participant,
		writeCh:      make(chan []byte, opts.BufferSize),
		writeTimeout: opts.WriteTimeout,
		drain:        make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if !c.write(data) {
				return
			}
		case <-c.drain:
			for {
				select {
				case data := <-c.writeCh:
					if !c.write(data) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, ""),
						time.Now().Add(c.writeTimeout))
					_ = c.Close()
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.cancel()
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// A failed write means the peer is gone; stop accepting writes
		c.cancel()
		return false
	}
	return true
}

// WriteJSON marshals v and queues it for the writer goroutine
func (c *Connection) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close cancels the writer and closes the transport once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// CloseWith queues a final message, then closes the connection once
// everything queued before it has been written
func (c *Connection) CloseWith(v interface{}) error {
	err := c.WriteJSON(v)
	c.drainOnce.Do(func() { close(c.drain) })
	select {
	case <-c.ctx.Done():
	case <-time.After(2 * c.writeTimeout):
		_ = c.Close()
	}
	return err
}

// Done is closed once the connection stops accepting writes
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// ID returns the process-unique connection id
func (c *Connection) ID() string {
	return c.id
}

// ChannelKey returns the channel this connection was opened on
func (c *Connection) ChannelKey() string {
	return c.channelKey
}

// Participant returns the authenticated participant tag
func (c *Connection) Participant() string {
	return c.participant
}
