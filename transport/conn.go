package transport

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps a single websocket connection and serializes writes (a
// *websocket.Conn forbids concurrent writers) the way the teacher's
// lifecycleCoordinator serializes a shutdown sequence with a sync.Once —
// here a plain mutex, since Send can be called repeatedly over the
// connection's lifetime.
type Conn struct {
	Identity string

	ws       *websocket.Conn
	writeMu  sync.Mutex
	closed   bool
	closedMu sync.Mutex
}

// NewConn wraps ws, attributing identity to every frame read from or written
// to it. identity plays the role of a ROUTER socket's sender-identity frame.
func NewConn(identity string, ws *websocket.Conn) *Conn {
	return &Conn{Identity: identity, ws: ws}
}

// Send writes env as a single websocket text frame.
func (c *Conn) Send(env Envelope) error {
	if c.isClosed() {
		return ErrClosed
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return ErrUnreachable
	}
	return nil
}

// Recv blocks for the next Envelope. It returns ErrUnreachable once the peer
// drops the connection.
func (c *Conn) Recv() (Envelope, error) {
	if c.isClosed() {
		return Envelope{}, ErrClosed
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Envelope{}, ErrUnreachable
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	env.Sender = c.Identity
	return env, nil
}

func (c *Conn) isClosed() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return c.closed
}

// Close closes the underlying websocket connection. Safe to call more than
// once.
func (c *Conn) Close() error {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return nil
	}
	c.closed = true
	c.closedMu.Unlock()
	return c.ws.Close()
}
