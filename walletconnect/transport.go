package walletconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/utils"
	"gosuda.org/walletconnect/walletconnect/utils/wsstream"
)

// TransportEvents receives notifications from a Transport. Callbacks for one
// transport are invoked one at a time, in arrival order.
type TransportEvents struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnError   func(err error)
	OnClose   func(code int, reason string)
}

// Transport is a duplex text channel to a bridge. It does not retry; the
// orchestrator owns reconnect policy.
type Transport interface {
	SetEvents(events TransportEvents)
	Open(ctx context.Context, url string) error
	SendText(ctx context.Context, raw []byte) error
	Connected() bool
	Close() error
}

var _ Transport = (*RelaySocket)(nil)

// CloseAbnormal is reported when the socket dropped without a close frame.
const CloseAbnormal = websocket.CloseAbnormalClosure

type socketConn struct {
	ws  *wsstream.WsConn
	url string

	closed atomic.Bool // closed locally; suppresses further events
	dead   atomic.Bool // ended by the remote side or a read failure
}

func (c *socketConn) usable() bool {
	return c != nil && !c.closed.Load() && !c.dead.Load()
}

// RelaySocket is the websocket Transport. It may be reopened after Close.
type RelaySocket struct {
	dial utils.WebSocketDialer

	mu     sync.Mutex
	conn   *socketConn
	events TransportEvents
}

// NewRelaySocket creates a socket that dials with dial, or the default
// gorilla dialer when dial is nil.
func NewRelaySocket(dial utils.WebSocketDialer) *RelaySocket {
	if dial == nil {
		dial = utils.NewWebSocketDialer()
	}
	return &RelaySocket{dial: dial}
}

func (r *RelaySocket) SetEvents(events TransportEvents) {
	r.mu.Lock()
	r.events = events
	r.mu.Unlock()
}

// Open dials url. It is a no-op when the socket is already open.
func (r *RelaySocket) Open(ctx context.Context, url string) error {
	r.mu.Lock()
	if r.conn.usable() {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	log.Debug().Str("url", url).Msg("[Transport] Dialing bridge")
	ws, err := r.dial(ctx, url)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", ErrTransport, url, err)
	}

	conn := &socketConn{ws: ws, url: url}
	r.mu.Lock()
	if r.conn.usable() {
		// lost a race with a concurrent Open
		r.mu.Unlock()
		_ = ws.Close()
		return nil
	}
	r.conn = conn
	r.mu.Unlock()

	go r.readLoop(conn)
	return nil
}

func (r *RelaySocket) currentEvents() TransportEvents {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events
}

// deliver runs fn unless conn was closed locally. No event starts after Close returns.
func (r *RelaySocket) deliver(conn *socketConn, fn func(TransportEvents)) {
	if conn.closed.Load() {
		return
	}
	fn(r.currentEvents())
}

func (r *RelaySocket) readLoop(conn *socketConn) {
	r.deliver(conn, func(ev TransportEvents) {
		if ev.OnOpen != nil {
			ev.OnOpen()
		}
	})

	for {
		data, err := conn.ws.ReadMessage()
		if err != nil {
			r.handleReadError(conn, err)
			return
		}
		r.deliver(conn, func(ev TransportEvents) {
			if ev.OnMessage != nil {
				ev.OnMessage(data)
			}
		})
	}
}

func (r *RelaySocket) handleReadError(conn *socketConn, err error) {
	if conn.closed.Load() {
		return
	}
	conn.dead.Store(true)

	code, reason := CloseAbnormal, err.Error()
	var status *wsstream.CloseStatus
	if errors.As(err, &status) {
		code, reason = status.Code, status.Reason
	} else if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
		r.deliver(conn, func(ev TransportEvents) {
			if ev.OnError != nil {
				ev.OnError(fmt.Errorf("%w: read: %w", ErrTransport, err))
			}
		})
	}

	log.Debug().Str("url", conn.url).Int("code", code).Str("reason", reason).Msg("[Transport] Bridge connection closed")
	r.deliver(conn, func(ev TransportEvents) {
		if ev.OnClose != nil {
			ev.OnClose(code, reason)
		}
	})

	_ = conn.ws.Close()
}

// SendText writes one frame. It fails with ErrTransportClosed when not open.
func (r *RelaySocket) SendText(ctx context.Context, raw []byte) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if !conn.usable() {
		return ErrTransportClosed
	}
	if err := conn.ws.WriteText(ctx, raw); err != nil {
		return fmt.Errorf("%w: send: %w", ErrTransport, err)
	}
	return nil
}

func (r *RelaySocket) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn.usable()
}

// Close shuts the socket down. It is idempotent.
func (r *RelaySocket) Close() error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil || !conn.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Debug().Str("url", conn.url).Msg("[Transport] Closing bridge connection")
	return conn.ws.Close()
}
