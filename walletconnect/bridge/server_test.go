package bridge

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

func newTestBridge(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		_ = s.Close()
		srv.Close()
	})
	return s, srv
}

func dialBridge(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):], nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wcproto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env wcproto.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env wcproto.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, env))
}

func waitStats(t *testing.T, s *Server, cond func(Stats) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.Stats()) }, 2*time.Second, 10*time.Millisecond)
}

func TestBridgeRoutesByTopic(t *testing.T) {
	s, srv := newTestBridge(t, Config{})
	wallet := dialBridge(t, srv)
	dapp := dialBridge(t, srv)

	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "wallet-topic", Type: wcproto.TypeSub, Silent: true})
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "dapp-topic", Type: wcproto.TypeSub, Silent: true})
	waitStats(t, s, func(st Stats) bool { return st.Topics == 2 })

	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "wallet-topic", Type: wcproto.TypePub, Payload: `{"data":"aa","nonce":"bb"}`})
	got := readEnvelope(t, wallet)
	assert.Equal(t, "wallet-topic", got.Topic)
	assert.Equal(t, wcproto.TypePub, got.Type)
	assert.Equal(t, `{"data":"aa","nonce":"bb"}`, got.Payload)

	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "dapp-topic", Type: wcproto.TypePub, Payload: "reply"})
	assert.Equal(t, "reply", readEnvelope(t, dapp).Payload)
}

func TestBridgeQueuesUntilSubscribed(t *testing.T) {
	s, srv := newTestBridge(t, Config{})
	dapp := dialBridge(t, srv)

	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "handshake", Type: wcproto.TypePub, Payload: "first"})
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "handshake", Type: wcproto.TypePub, Payload: "second"})
	waitStats(t, s, func(st Stats) bool { return st.Queued == 2 })

	wallet := dialBridge(t, srv)
	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "handshake", Type: wcproto.TypeSub})
	assert.Equal(t, "first", readEnvelope(t, wallet).Payload)
	assert.Equal(t, "second", readEnvelope(t, wallet).Payload)
	waitStats(t, s, func(st Stats) bool { return st.Queued == 0 })
}

func TestBridgePrunesExpired(t *testing.T) {
	s, srv := newTestBridge(t, Config{MaxQueuePerTopic: 2})
	now := time.Unix(1_700_000_000, 0)
	s.mu.Lock()
	s.now = func() time.Time { return now }
	s.mu.Unlock()

	dapp := dialBridge(t, srv)
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "t", Type: wcproto.TypePub, Payload: "short", TTL: 1})
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "t", Type: wcproto.TypePub, Payload: "long"})
	waitStats(t, s, func(st Stats) bool { return st.Queued == 2 })

	s.mu.Lock()
	now = now.Add(2 * time.Second)
	s.mu.Unlock()
	assert.Equal(t, 1, s.Prune())
	assert.Equal(t, 1, s.Stats().Queued)

	// the per-topic bound drops the oldest message
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "t", Type: wcproto.TypePub, Payload: "a"})
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "t", Type: wcproto.TypePub, Payload: "b"})
	waitStats(t, s, func(st Stats) bool { return st.Queued == 2 })

	wallet := dialBridge(t, srv)
	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "t", Type: wcproto.TypeSub})
	assert.Equal(t, "a", readEnvelope(t, wallet).Payload)
	assert.Equal(t, "b", readEnvelope(t, wallet).Payload)
}

func TestBridgeUnsubscribesOnDisconnect(t *testing.T) {
	s, srv := newTestBridge(t, Config{})
	wallet := dialBridge(t, srv)
	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "gone", Type: wcproto.TypeSub})
	waitStats(t, s, func(st Stats) bool { return st.Topics == 1 && st.Peers == 1 })

	wallet.Close(websocket.StatusNormalClosure, "")
	waitStats(t, s, func(st Stats) bool { return st.Topics == 0 && st.Peers == 0 })
}

func TestBridgeHTTPRoutes(t *testing.T) {
	s, srv := newTestBridge(t, Config{})

	resp, err := http.Get(srv.URL + "/hello")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "WalletConnect")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// plain GET on the websocket path lands on /hello
	resp, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Close())
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBridgeThrottlesPublishers(t *testing.T) {
	s, srv := newTestBridge(t, Config{PublishRate: 1, PublishBurst: 2})
	now := time.Unix(1_700_000_000, 0)
	s.mu.Lock()
	s.now = func() time.Time { return now }
	s.mu.Unlock()

	wallet := dialBridge(t, srv)
	sendEnvelope(t, wallet, wcproto.Envelope{Topic: "wallet-topic", Type: wcproto.TypeSub})
	dapp := dialBridge(t, srv)
	waitStats(t, s, func(st Stats) bool { return st.Topics == 1 && st.Peers == 2 })

	for _, payload := range []string{"one", "two", "three"} {
		sendEnvelope(t, dapp, wcproto.Envelope{Topic: "wallet-topic", Type: wcproto.TypePub, Payload: payload})
	}
	assert.Equal(t, "one", readEnvelope(t, wallet).Payload)
	assert.Equal(t, "two", readEnvelope(t, wallet).Payload)
	waitStats(t, s, func(st Stats) bool { return st.Throttled == 1 })

	s.mu.Lock()
	now = now.Add(time.Second)
	s.mu.Unlock()
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "wallet-topic", Type: wcproto.TypePub, Payload: "four"})
	assert.Equal(t, "four", readEnvelope(t, wallet).Payload)

	// subscriptions are not throttled
	sendEnvelope(t, dapp, wcproto.Envelope{Topic: "dapp-topic", Type: wcproto.TypeSub})
	waitStats(t, s, func(st Stats) bool { return st.Topics == 2 })
}
