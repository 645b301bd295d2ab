package sdk

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/walletconnect/internal/walletsim"
	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/bridge"
	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
	"gosuda.org/walletconnect/walletconnect/store"
)

func startBridge(t *testing.T) string {
	t.Helper()
	b := bridge.NewServer(bridge.Config{})
	srv := httptest.NewServer(b.Handler())
	t.Cleanup(func() {
		_ = b.Close()
		srv.Close()
	})
	return srv.URL
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitForSignal[T any](t *testing.T, ch <-chan T, name string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", name)
		var zero T
		return zero
	}
}

type clientHarness struct {
	client *Client
	store  *store.MemoryStore
	wallet *walletsim.Wallet
	uris   chan string
}

func newClientHarness(t *testing.T, bridgeURL string, opts ...Option) *clientHarness {
	t.Helper()
	st := store.NewMemoryStore()
	opts = append([]Option{
		WithBridgeURL(bridgeURL),
		WithStore(st),
		WithBackoff(BackoffConfig{InitialDelay: time.Millisecond}),
	}, opts...)
	c, err := NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	h := &clientHarness{client: c, store: st, uris: make(chan string, 8)}
	c.OnReadyForPrompt(func(uri string) { h.uris <- uri })
	return h
}

// pair runs Connect while a simulated wallet scans the prompted URI.
func (h *clientHarness) pair(t *testing.T, cfg walletsim.Config) *walletconnect.SessionData {
	t.Helper()
	ctx := testContext(t)

	type result struct {
		data *walletconnect.SessionData
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := h.client.Connect(ctx)
		done <- result{data, err}
	}()

	uri := waitForSignal(t, h.uris, "pairing uri")
	h.wallet = walletsim.New(cfg)
	t.Cleanup(func() { _ = h.wallet.Close() })
	require.NoError(t, h.wallet.Pair(ctx, uri))

	res := waitForSignal(t, done, "connect")
	require.NoError(t, res.err)
	require.NotNil(t, res.data)
	return res.data
}

func TestClientFreshConnect(t *testing.T) {
	h := newClientHarness(t, startBridge(t))
	connected := make(chan *walletconnect.SessionData, 1)
	created := make(chan *walletconnect.SessionData, 1)
	h.client.OnConnected(func(d *walletconnect.SessionData) { connected <- d })
	h.client.OnSessionCreated(func(d *walletconnect.SessionData) { created <- d })

	data := h.pair(t, walletsim.Config{Accounts: []string{"0xABC"}, Handler: walletsim.Signer("0xsig")})
	assert.Equal(t, []string{"0xABC"}, data.Accounts)
	assert.Equal(t, 1, data.ChainID)
	waitForSignal(t, connected, "OnConnected")
	waitForSignal(t, created, "OnSessionCreated")

	saved, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.True(t, saved.Connected)
	assert.Equal(t, h.client.Session().KeyData(), saved.Key)

	eth := NewEthHandler(h.client, nil, nil)
	assert.Equal(t, "0xABC", eth.DefaultAccount())
	assert.Equal(t, 1, eth.ChainID())
	sig, err := eth.Sign(testContext(t), "hello")
	require.NoError(t, err)
	assert.Equal(t, "0xsig", sig)

	// a second Connect finds the session live and does nothing
	s := h.client.Session()
	again, err := h.client.Connect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, data.Accounts, again.Accounts)
	assert.Same(t, s, h.client.Session())
}

func TestClientSuspendAndResume(t *testing.T) {
	h := newClientHarness(t, startBridge(t))
	h.pair(t, walletsim.Config{Handler: walletsim.Signer("0xsig")})
	s := h.client.Session()
	key := s.KeyData()

	resumed := make(chan *walletconnect.SessionData, 1)
	h.client.OnSessionResumed(func(d *walletconnect.SessionData) { resumed <- d })

	require.NoError(t, h.client.Suspend(testContext(t)))
	assert.False(t, s.TransportConnected())
	assert.True(t, s.Connected())
	saved, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, key, saved.Key)

	data, err := h.client.Resume(testContext(t))
	require.NoError(t, err)
	require.NotNil(t, data)
	waitForSignal(t, resumed, "OnSessionResumed")
	assert.Same(t, s, h.client.Session())
	assert.Equal(t, key, h.client.Session().KeyData())

	sig, err := s.SignMessage(testContext(t), "after resume", data.DefaultAccount())
	require.NoError(t, err)
	assert.Equal(t, "0xsig", sig)
}

func TestClientRestoresSavedSessionAfterRestart(t *testing.T) {
	bridgeURL := startBridge(t)
	h := newClientHarness(t, bridgeURL)
	h.pair(t, walletsim.Config{Handler: walletsim.Signer("0xsig")})
	key := h.client.Session().KeyData()
	require.NoError(t, h.client.Shutdown(testContext(t)))

	// a new process reads the same store
	restarted, err := NewClient(WithBridgeURL(bridgeURL), WithStore(h.store))
	require.NoError(t, err)
	t.Cleanup(func() { _ = restarted.Shutdown(context.Background()) })
	prompts := make(chan string, 1)
	restarted.OnReadyForPrompt(func(uri string) { prompts <- uri })

	data, err := restarted.Connect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, key, restarted.Session().KeyData())
	assert.Equal(t, walletconnect.StateConnected, restarted.Session().State())
	assert.Empty(t, prompts, "resume must not prompt for pairing")

	sig, err := NewEthHandler(restarted, nil, nil).Sign(testContext(t), "restored")
	require.NoError(t, err)
	assert.Equal(t, "0xsig", sig)
	assert.Equal(t, data.Accounts, restarted.Session().Accounts())
}

func TestClientReplacesSessionWhenSavedKeyDiffers(t *testing.T) {
	bridgeURL := startBridge(t)
	h := newClientHarness(t, bridgeURL)
	h.pair(t, walletsim.Config{})
	old := h.client.Session()

	key, err := cryptoops.NewSessionKey()
	require.NoError(t, err)
	other := &wcproto.SavedSession{
		Connected:      true,
		Accounts:       []string{"0xOTHER"},
		ChainID:        5,
		BridgeURL:      bridgeURL,
		Key:            cryptoops.EncodeKey(key),
		ClientID:       "other-client",
		PeerID:         "other-wallet",
		HandshakeTopic: "other-topic",
	}
	require.NoError(t, h.store.Save(context.Background(), other))

	data, err := h.client.Connect(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"0xOTHER"}, data.Accounts)
	assert.NotSame(t, old, h.client.Session())
	assert.Equal(t, other.Key, h.client.Session().KeyData())
	assert.Equal(t, walletconnect.StateDisconnected, old.State())

	waitForSignal(t, h.wallet.Ended(), "wallet notified of disconnect")

	saved, err := h.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, other.Key, saved.Key, "the resumed session is saved again")
}

func TestClientPeerDisconnectStartsNewSession(t *testing.T) {
	h := newClientHarness(t, startBridge(t))
	h.pair(t, walletsim.Config{})
	first := h.client.Session()
	firstKey := first.KeyData()

	disconnected := make(chan walletconnect.Event, 1)
	h.client.OnDisconnected(func(ev walletconnect.Event) { disconnected <- ev })

	require.NoError(t, h.wallet.Disconnect(testContext(t)))
	ev := waitForSignal(t, disconnected, "OnDisconnected")
	assert.True(t, ev.PeerInitiated)

	uri := waitForSignal(t, h.uris, "new pairing uri")
	parsed, err := walletconnect.ParseURI(uri)
	require.NoError(t, err)
	assert.NotEqual(t, firstKey, cryptoops.EncodeKey(parsed.Key))
	assert.NotSame(t, first, h.client.Session())

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, wcproto.ErrNoSavedSession)

	// the new session pairs with a fresh wallet
	wallet := walletsim.New(walletsim.Config{Accounts: []string{"0xNEW"}})
	t.Cleanup(func() { _ = wallet.Close() })
	require.NoError(t, wallet.Pair(testContext(t), uri))
	require.Eventually(t, func() bool {
		s := h.client.Session()
		return s.State() == walletconnect.StateConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"0xNEW"}, h.client.Session().Accounts())
}

func TestClientPeerDisconnectWithoutNewSession(t *testing.T) {
	h := newClientHarness(t, startBridge(t), WithCreateNewSessionOnDisconnect(false))
	h.pair(t, walletsim.Config{})
	first := h.client.Session()

	disconnected := make(chan walletconnect.Event, 1)
	h.client.OnDisconnected(func(ev walletconnect.Event) { disconnected <- ev })
	require.NoError(t, h.wallet.Disconnect(testContext(t)))
	waitForSignal(t, disconnected, "OnDisconnected")

	time.Sleep(100 * time.Millisecond)
	assert.Same(t, first, h.client.Session())
	assert.Equal(t, walletconnect.StateDisconnected, first.State())
	assert.Empty(t, h.uris)
}

func TestClientSuspendWithoutAutoSaveDisconnects(t *testing.T) {
	h := newClientHarness(t, startBridge(t), WithAutoSaveAndResume(false))
	h.pair(t, walletsim.Config{})
	s := h.client.Session()

	saved, err := h.store.Load(context.Background())
	require.NoError(t, err, "an approved session is saved without auto-save too")
	assert.Equal(t, s.KeyData(), saved.Key)

	require.NoError(t, h.client.Suspend(testContext(t)))
	assert.Equal(t, walletconnect.StateDisconnected, s.State())
	assert.False(t, s.Connected())
	waitForSignal(t, h.wallet.Ended(), "wallet notified of disconnect")

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, wcproto.ErrNoSavedSession)

	data, err := h.client.Resume(testContext(t))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestClientCloseSession(t *testing.T) {
	h := newClientHarness(t, startBridge(t))
	h.pair(t, walletsim.Config{})

	data, err := h.client.CloseSession(testContext(t), false)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.False(t, h.client.Session().Connected())
	waitForSignal(t, h.wallet.Ended(), "wallet notified of disconnect")

	_, err = h.store.Load(context.Background())
	require.ErrorIs(t, err, wcproto.ErrNoSavedSession)
}

func TestClientConnectTwiceWithoutAutoSave(t *testing.T) {
	h := newClientHarness(t, startBridge(t), WithAutoSaveAndResume(false))
	data := h.pair(t, walletsim.Config{Accounts: []string{"0xABC"}})
	s := h.client.Session()
	key := s.KeyData()

	again, err := h.client.Connect(testContext(t))
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, data.Accounts, again.Accounts)
	assert.Same(t, s, h.client.Session())
	assert.Equal(t, key, s.KeyData())
	assert.Equal(t, walletconnect.StateConnected, s.State())
	assert.Empty(t, h.uris, "a live session is not paired again")
}

func TestClientConnectWhileConnecting(t *testing.T) {
	h := newClientHarness(t, startBridge(t))

	ctx := testContext(t)
	done := make(chan error, 1)
	go func() {
		_, err := h.client.Connect(ctx)
		done <- err
	}()
	uri := waitForSignal(t, h.uris, "pairing uri")
	s := h.client.Session()
	assert.True(t, s.Connecting())
	assert.Equal(t, uri, h.client.ConnectURI())

	started := time.Now()
	data, err := h.client.Connect(testContext(t))
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Less(t, time.Since(started), time.Second, "the second call must not wait for the wallet")
	assert.Same(t, s, h.client.Session())
	assert.Empty(t, h.uris, "the second call does not start another pairing")

	wallet := walletsim.New(walletsim.Config{})
	t.Cleanup(func() { _ = wallet.Close() })
	require.NoError(t, wallet.Pair(ctx, uri))
	require.NoError(t, waitForSignal(t, done, "first connect"))
	assert.Equal(t, walletconnect.StateConnected, s.State())
}

func TestClientConnectCancelled(t *testing.T) {
	h := newClientHarness(t, startBridge(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := h.client.Connect(ctx)
		done <- err
	}()
	waitForSignal(t, h.uris, "pairing uri")

	cancel()
	err := waitForSignal(t, done, "connect cancelled")
	require.ErrorIs(t, err, context.Canceled)
}

func TestClientSuspendAbandonsPairing(t *testing.T) {
	h := newClientHarness(t, startBridge(t))

	done := make(chan error, 1)
	go func() {
		_, err := h.client.Connect(testContext(t))
		done <- err
	}()
	waitForSignal(t, h.uris, "pairing uri")

	require.NoError(t, h.client.Suspend(testContext(t)))
	err := waitForSignal(t, done, "connect released")
	require.ErrorIs(t, err, walletconnect.ErrSessionClosed)
	assert.Equal(t, walletconnect.StateDisconnected, h.client.Session().State())
	assert.False(t, h.client.Session().ReadyForUserPrompt())
}

func TestClientCloseSessionWhilePairing(t *testing.T) {
	h := newClientHarness(t, startBridge(t))

	done := make(chan error, 1)
	go func() {
		_, err := h.client.Connect(testContext(t))
		done <- err
	}()
	first := waitForSignal(t, h.uris, "pairing uri")

	ctx := testContext(t)
	result := make(chan error, 1)
	go func() {
		_, err := h.client.CloseSession(ctx, true)
		result <- err
	}()
	require.ErrorIs(t, waitForSignal(t, done, "first connect released"), walletconnect.ErrSessionClosed)

	second := waitForSignal(t, h.uris, "new pairing uri")
	assert.NotEqual(t, first, second)
	wallet := walletsim.New(walletsim.Config{})
	t.Cleanup(func() { _ = wallet.Close() })
	require.NoError(t, wallet.Pair(ctx, second))
	require.NoError(t, waitForSignal(t, result, "close session"))
	assert.Equal(t, walletconnect.StateConnected, h.client.Session().State())
}

func TestClientShutdownDuringNewSessionPairing(t *testing.T) {
	h := newClientHarness(t, startBridge(t), WithRequestTimeout(30*time.Second))
	h.pair(t, walletsim.Config{})

	require.NoError(t, h.wallet.Disconnect(testContext(t)))
	waitForSignal(t, h.uris, "new pairing uri")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	started := time.Now()
	require.NoError(t, h.client.Shutdown(ctx))
	assert.Less(t, time.Since(started), time.Second, "shutdown must not wait for the wallet")

	_, err := h.client.Connect(testContext(t))
	require.ErrorIs(t, err, ErrClientClosed)
}

// failingTransport refuses every dial.
type failingTransport struct {
	opens *atomic.Int32
}

func (f failingTransport) SetEvents(walletconnect.TransportEvents) {}

func (f failingTransport) Open(context.Context, string) error {
	f.opens.Add(1)
	return errors.Join(walletconnect.ErrTransport, errors.New("connection refused"))
}

func (f failingTransport) SendText(context.Context, []byte) error {
	return walletconnect.ErrTransportClosed
}

func (f failingTransport) Connected() bool { return false }
func (f failingTransport) Close() error    { return nil }

func TestClientExhaustsRetries(t *testing.T) {
	var opens atomic.Int32
	c, err := NewClient(
		WithBridgeURL("wss://unreachable.invalid"),
		WithConnectRetryCount(3),
		WithTransportFactory(func() walletconnect.Transport { return failingTransport{opens: &opens} }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	var mu sync.Mutex
	var delays []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return nil
	}
	failed := make(chan error, 1)
	c.OnConnectFailed(func(err error) { failed <- err })

	_, err = c.Connect(testContext(t))
	var exhausted *walletconnect.ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	require.ErrorIs(t, err, walletconnect.ErrExhaustedRetries)
	require.ErrorIs(t, err, walletconnect.ErrTransport)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, int32(3), opens.Load())
	assert.Equal(t, walletconnect.StateDisconnected, c.Session().State())
	assert.False(t, walletconnect.IsRetryable(err))

	mu.Lock()
	assert.Len(t, delays, 2, "no delay after the last attempt")
	mu.Unlock()
	waitForSignal(t, failed, "OnConnectFailed")
}

func TestClientDoesNotRetryProtocolErrors(t *testing.T) {
	h := newClientHarness(t, startBridge(t))
	ctx := testContext(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.client.Connect(ctx)
		done <- err
	}()
	uri := waitForSignal(t, h.uris, "pairing uri")
	wallet := walletsim.New(walletsim.Config{Approve: func(wcproto.SessionRequestParams) bool { return false }})
	t.Cleanup(func() { _ = wallet.Close() })
	require.NoError(t, wallet.Pair(ctx, uri))

	err := waitForSignal(t, done, "connect")
	require.ErrorIs(t, err, walletconnect.ErrPeerRejected)
	assert.NotErrorIs(t, err, walletconnect.ErrExhaustedRetries)
	assert.Equal(t, walletconnect.StateDisconnected, h.client.Session().State())

	select {
	case <-h.uris:
		t.Fatal("a rejected session must not be retried")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientOpenWallet(t *testing.T) {
	opened := make(chan string, 1)
	h := newClientHarness(t, startBridge(t), WithURLOpener(URLOpenerFunc(func(_ context.Context, uri string) error {
		opened <- uri
		return nil
	})))
	require.ErrorIs(t, h.client.OpenWallet(testContext(t)), ErrNoSession)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = h.client.Connect(ctx) }()
	uri := waitForSignal(t, h.uris, "pairing uri")

	require.NoError(t, h.client.OpenWallet(testContext(t)))
	assert.Equal(t, uri, waitForSignal(t, opened, "opened uri"))
}

func TestClientOpenWalletWithoutOpener(t *testing.T) {
	c, err := NewClient()
	require.NoError(t, err)
	require.ErrorIs(t, c.OpenWallet(context.Background()), ErrNoURLOpener)
	assert.Empty(t, c.ConnectURI())
}

func TestClientShutdown(t *testing.T) {
	c, err := NewClient()
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(context.Background()))
	require.NoError(t, c.Shutdown(context.Background()))

	_, err = c.Connect(context.Background())
	require.ErrorIs(t, err, ErrClientClosed)
}
