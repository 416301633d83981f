package ws

import (
	"time"

	"github.com/gorilla/websocket"
)

// gorillaTransport applies a write deadline to every frame so a stalled peer
// fails the write instead of blocking the worker.
type gorillaTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func newGorillaTransport(conn *websocket.Conn, writeWait time.Duration) *gorillaTransport {
	return &gorillaTransport{conn: conn, writeWait: writeWait}
}

func (t *gorillaTransport) WriteText(payload []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeWait))
	return t.conn.WriteMessage(websocket.TextMessage, payload)
}

func (t *gorillaTransport) WritePing() error {
	return t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(t.writeWait))
}

func (t *gorillaTransport) WriteClose(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
}

func (t *gorillaTransport) Close() error {
	return t.conn.Close()
}
