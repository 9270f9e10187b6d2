// Package transport is the abstract WebSocket transport wslink's core
// consumes (spec.md §6.1): a bidirectional frame stream with
// distinguishable TEXT and BINARY frames, close-with-code/reason, and a
// GOING_AWAY close code constant. GorillaTransport is the concrete
// implementation, grounded directly on the read/write deadline and
// ping/pong handling in the teacher's internal/ws/handler.go.
package transport

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
	// PingMessage is a control frame sent by the server to keep an idle
	// connection alive and detect a dead peer (spec.md §6.1).
	PingMessage = websocket.PingMessage
	// GoingAway is the standard close code used on server-initiated
	// shutdown (spec.md §6.1, §4.4).
	GoingAway = websocket.CloseGoingAway
)

// Transport is the frame-level interface the rest of the core depends on.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close(code int, reason string) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
}

// GorillaTransport adapts *websocket.Conn to Transport.
type GorillaTransport struct {
	conn *websocket.Conn
}

// NewGorillaTransport wraps an established connection.
func NewGorillaTransport(conn *websocket.Conn) *GorillaTransport {
	return &GorillaTransport{conn: conn}
}

func (g *GorillaTransport) ReadMessage() (int, []byte, error) {
	return g.conn.ReadMessage()
}

func (g *GorillaTransport) WriteMessage(messageType int, data []byte) error {
	return g.conn.WriteMessage(messageType, data)
}

func (g *GorillaTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(3 * time.Second)
	_ = g.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return g.conn.Close()
}

func (g *GorillaTransport) SetReadDeadline(t time.Time) error { return g.conn.SetReadDeadline(t) }

func (g *GorillaTransport) SetWriteDeadline(t time.Time) error { return g.conn.SetWriteDeadline(t) }

func (g *GorillaTransport) SetPongHandler(h func(appData string) error) {
	g.conn.SetPongHandler(h)
}

func (g *GorillaTransport) WriteControl(messageType int, data []byte, deadline time.Time) error {
	return g.conn.WriteControl(messageType, data, deadline)
}

func (g *GorillaTransport) SetReadLimit(limit int64) { g.conn.SetReadLimit(limit) }

// Upgrade upgrades an incoming HTTP request to a WebSocket connection and
// wraps it as a Transport.
func Upgrade(w http.ResponseWriter, r *http.Request, upgrader websocket.Upgrader) (Transport, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewGorillaTransport(conn), nil
}
