package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// ConnectionState is the state of the socket connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Connection wraps one physical socket. A new value replaces the previous one
// on every state change.
type Connection struct {
	State ConnectionState
	// Attempt is the consecutive connect attempt this connection belongs to.
	Attempt int

	ws      *websocket.Conn
	writeMu *sync.Mutex
	// closed is closed once the physical socket is gone, nil without a socket.
	closed chan struct{}
}

func newConnection(state ConnectionState, attempt int, ws *websocket.Conn) *Connection {
	c := &Connection{State: state, Attempt: attempt, ws: ws, writeMu: &sync.Mutex{}}
	if ws != nil {
		c.closed = make(chan struct{})
	}
	return c
}

func (c *Connection) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}
