package realtime

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// Upgrader is shared by the HTTP handlers that accept game sockets.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced upstream by the session auth check.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WSConn adapts a gorilla websocket to the hub's Conn. Writes are serialized
// because the hub may broadcast from several goroutines.
type WSConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

// NewWSConn wraps an upgraded connection.
func NewWSConn(c *websocket.Conn) *WSConn {
	return &WSConn{c: c}
}

func (w *WSConn) WriteMessage(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return w.c.WriteJSON(msg)
}

func (w *WSConn) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.c.Close()
}
