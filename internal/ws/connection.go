// Package ws handles the WebSocket transport: HTTP upgrade with JWT
// authentication, connection lifecycle, and event dispatch.
package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lahorneada/supportchat/internal/auth"
)

const sendBufferSize = 256

// Connection is an authenticated WebSocket connection. It implements
// room.Subscriber so the room registry can fan pushes out to it without
// knowing about this package.
type Connection struct {
	conn *websocket.Conn

	// ConnectionID uniquely identifies this connection. A user with
	// multiple tabs holds one Connection per tab.
	ConnectionID string

	// Principal is the authenticated identity from the JWT. Immutable for
	// the connection's lifetime.
	Principal *auth.Principal

	// send buffers outbound frames for the write pump.
	send chan []byte

	// closing is set before the send channel is closed so Deliver never
	// sends on a closed channel.
	closing atomic.Bool

	mu sync.Mutex
}

func newConnection(conn *websocket.Conn, p *auth.Principal) *Connection {
	return &Connection{
		conn:         conn,
		ConnectionID: uuid.NewString(),
		Principal:    p,
		send:         make(chan []byte, sendBufferSize),
	}
}

// NewTestConnection creates a Connection without an underlying socket.
// Deliver works against the buffered channel; use Outbound to observe it.
func NewTestConnection(p *auth.Principal) *Connection {
	return &Connection{
		ConnectionID: uuid.NewString(),
		Principal:    p,
		send:         make(chan []byte, sendBufferSize),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string {
	return c.ConnectionID
}

// Deliver enqueues data for the write pump without blocking. It reports
// false when the connection is closing or its buffer is full; the frame is
// dropped in that case.
func (c *Connection) Deliver(data []byte) bool {
	if c.closing.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Outbound exposes the send channel for tests.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Close closes the underlying socket. Safe on test connections.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
