package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a single established message-oriented connection. Read and write
// may be called from different goroutines; implementations must make writes
// safe against each other.
type Conn interface {
	// ReadMessage blocks until the next full message arrives or the
	// connection fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one full message.
	WriteMessage(data []byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport dials connections to the streaming endpoint. Abstracted so
// tests can substitute a scripted in-memory transport.
type Transport interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketTransport dials real WebSocket connections via gorilla/websocket.
type WebSocketTransport struct {
	HandshakeTimeout time.Duration
}

// NewWebSocketTransport returns a transport with a 10s handshake timeout.
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{HandshakeTimeout: 10 * time.Second}
}

func (t *WebSocketTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts *websocket.Conn to Conn. gorilla allows one concurrent
// writer, so writes are serialized with a mutex (keepalive probes and
// unsubscribe requests can race otherwise).
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
