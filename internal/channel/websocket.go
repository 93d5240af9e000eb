package channel

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/leapstack-labs/leapreport/pkg/core"
)

// WebSocketConn sends frames as JSON text messages.
type WebSocketConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

// NewWebSocketConn wraps ws. A zero writeTimeout disables write deadlines.
func NewWebSocketConn(ws *websocket.Conn, writeTimeout time.Duration) *WebSocketConn {
	return &WebSocketConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *WebSocketConn) Send(f core.Frame) error {
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.ws.WriteJSON(f)
}

func (c *WebSocketConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.ws.Close()
}

func (c *WebSocketConn) Transport() string { return "websocket" }
