package utils

import (
	"context"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect/utils/wsstream"
)

// SetTCPNoDelay enables TCP_NODELAY on a TCP connection to disable Nagle's algorithm.
// Returns nil for non-TCP connections.
func SetTCPNoDelay(conn net.Conn) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		return tcpConn.SetNoDelay(true)
	}
	return nil
}

// WebSocketDialer opens a message connection to a bridge.
type WebSocketDialer func(ctx context.Context, url string) (*wsstream.WsConn, error)

// NewWebSocketDialer returns a dialer that normalises the bridge URL, establishes
// a WebSocket connection and wraps it as a wsstream.WsConn. TCP_NODELAY is enabled
// on the underlying TCP connection since envelopes are small and latency bound.
func NewWebSocketDialer() WebSocketDialer {
	dialer := &websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := SetTCPNoDelay(conn); err != nil {
				log.Debug().Err(err).Msg("failed to set TCP_NODELAY on WebSocket connection")
			}
			return conn, nil
		},
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
	}

	return func(ctx context.Context, rawURL string) (*wsstream.WsConn, error) {
		target, err := NormalizeBridgeURL(rawURL)
		if err != nil {
			return nil, err
		}
		wsConn, resp, err := dialer.DialContext(ctx, target, nil)
		if err != nil {
			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}
			return nil, err
		}
		return wsstream.New(wsConn), nil
	}
}
