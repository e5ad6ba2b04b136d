package telemetry

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/swiftlens/swiftlens/errors"
)

// wsWriteDeadline bounds one frame write to a dashboard client.
const wsWriteDeadline = 5 * time.Second

// WSObserver streams telemetry entries over a WebSocket connection. One
// observer per connected dashboard client.
type WSObserver struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWSObserver wraps an accepted connection.
func NewWSObserver(conn *websocket.Conn) *WSObserver {
	return &WSObserver{conn: conn}
}

// Send writes one serialized entry as a text frame.
func (o *WSObserver) Send(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errors.New("observer closed")
	}
	if err := o.conn.SetWriteDeadline(time.Now().Add(wsWriteDeadline)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := o.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "write telemetry frame")
	}
	return nil
}

// Close shuts the connection down. Safe to call more than once.
func (o *WSObserver) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.conn.Close()
}
