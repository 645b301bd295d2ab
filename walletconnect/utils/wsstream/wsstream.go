package wsstream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CloseStatus carries the close frame sent by the remote end.
type CloseStatus struct {
	Code   int
	Reason string
}

func (c *CloseStatus) Error() string {
	return "websocket closed: " + c.Reason
}

// WsConn is a message oriented wrapper over a gorilla connection. Text frames
// are the unit of exchange; reads and writes may proceed concurrently.
type WsConn struct {
	Conn    *websocket.Conn
	writeMu sync.Mutex
	readMu  sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New wraps a connection.
func New(conn *websocket.Conn) *WsConn {
	return &WsConn{Conn: conn}
}

// ReadMessage blocks until the next text or binary frame. A remote close frame
// is reported as *CloseStatus; other terminations as io.EOF or the raw error.
func (g *WsConn) ReadMessage() ([]byte, error) {
	g.readMu.Lock()
	defer g.readMu.Unlock()

	_, data, err := g.Conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseStatus{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

// WriteText sends one text frame. The context deadline, if any, bounds the write.
func (g *WsConn) WriteText(ctx context.Context, p []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = g.Conn.SetWriteDeadline(deadline)
		defer g.Conn.SetWriteDeadline(time.Time{})
	}

	err := g.Conn.WriteMessage(websocket.TextMessage, p)
	if errors.Is(err, websocket.ErrCloseSent) {
		return io.EOF
	}
	return err
}

// Close sends a normal close frame when possible and closes the socket.
func (g *WsConn) Close() error {
	g.closeOnce.Do(func() {
		g.writeMu.Lock()
		_ = g.Conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		g.writeMu.Unlock()
		g.closeErr = g.Conn.Close()
	})
	return g.closeErr
}
