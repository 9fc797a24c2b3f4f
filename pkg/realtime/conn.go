package realtime

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/txn2/karaoke-live/pkg/registry"
)

// Conn is a registered WebSocket connection.
type Conn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

func newConn(id string, ws *websocket.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{id: id, ws: ws, writeTimeout: writeTimeout}
}

// ID returns the connection id.
func (c *Conn) ID() string {
	return c.id
}

// Send writes ev as one JSON text frame. A write that misses the deadline
// closes the socket, which unregisters the connection.
func (c *Conn) Send(ev registry.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := websocket.JSON.Send(c.ws, ev); err != nil {
		_ = c.ws.Close()
		return fmt.Errorf("sending %s: %w", ev.Type, err)
	}
	return nil
}

// Close closes the socket. The read loop then unregisters the connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Verify interface compliance.
var _ registry.Conn = (*Conn)(nil)
