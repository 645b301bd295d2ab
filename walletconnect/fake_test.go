package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// pipeTransport is an in-memory Transport. Outgoing envelopes are recorded and
// handed to onSend; incoming frames are injected by the test.
type pipeTransport struct {
	mu      sync.Mutex
	events  TransportEvents
	open    bool
	openErr error
	opens   int
	sent    []wcproto.Envelope
	onSend  func(env wcproto.Envelope)

	// dialing, when set, receives once Open starts; Open then blocks until
	// dialGate is closed.
	dialing  chan struct{}
	dialGate chan struct{}

	deliverMu sync.Mutex
}

var _ Transport = (*pipeTransport)(nil)

func (p *pipeTransport) SetEvents(events TransportEvents) {
	p.mu.Lock()
	p.events = events
	p.mu.Unlock()
}

func (p *pipeTransport) Open(context.Context, string) error {
	p.mu.Lock()
	p.opens++
	dialing, gate := p.dialing, p.dialGate
	p.mu.Unlock()
	if dialing != nil {
		dialing <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.openErr != nil {
		return fmt.Errorf("%w: %w", ErrTransport, p.openErr)
	}
	p.open = true
	return nil
}

func (p *pipeTransport) SendText(_ context.Context, raw []byte) error {
	var env wcproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return ErrTransportClosed
	}
	p.sent = append(p.sent, env)
	hook := p.onSend
	p.mu.Unlock()

	if hook != nil {
		go hook(env)
	}
	return nil
}

func (p *pipeTransport) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *pipeTransport) Close() error {
	p.mu.Lock()
	p.open = false
	p.mu.Unlock()
	return nil
}

func (p *pipeTransport) inject(raw []byte) {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()
	p.mu.Lock()
	ev := p.events
	p.mu.Unlock()
	if ev.OnMessage != nil {
		ev.OnMessage(raw)
	}
}

// drop simulates the bridge going away.
func (p *pipeTransport) drop(code int, reason string) {
	p.mu.Lock()
	p.open = false
	ev := p.events
	p.mu.Unlock()
	if ev.OnClose != nil {
		ev.OnClose(code, reason)
	}
}

func (p *pipeTransport) sentTo(topic string) []wcproto.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []wcproto.Envelope
	for _, env := range p.sent {
		if env.Topic == topic {
			out = append(out, env)
		}
	}
	return out
}

func (p *pipeTransport) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

const testWalletID = "wallet-peer"

// fakeWallet answers the session request and wallet calls over a pipeTransport.
type fakeWallet struct {
	t         *testing.T
	transport *pipeTransport
	cipher    *cryptoops.Cipher

	mu       sync.Mutex
	clientID string
	approve  bool
	accounts []string
	chainID  int

	// handshakeID overrides the id of the approval reply when non-zero.
	handshakeID uint64
	// handle answers requests sent to the wallet; a nil response means no reply.
	handle   func(req wcproto.Request) *wcproto.Response
	requests chan wcproto.Request
}

func newFakeWallet(t *testing.T, transport *pipeTransport, keyHex string) *fakeWallet {
	t.Helper()

	key, err := cryptoops.DecodeKey(keyHex)
	require.NoError(t, err)
	c, err := cryptoops.NewCipher(key)
	require.NoError(t, err)

	w := &fakeWallet{
		t:         t,
		transport: transport,
		cipher:    c,
		approve:   true,
		accounts:  []string{"0xABC"},
		chainID:   1,
		requests:  make(chan wcproto.Request, 16),
	}
	w.handle = func(req wcproto.Request) *wcproto.Response {
		if req.Method == wcproto.MethodPersonalSign {
			resp, _ := wcproto.NewResultResponse(req.ID, "0xsig")
			return resp
		}
		return nil
	}
	transport.mu.Lock()
	transport.onSend = w.onEnvelope
	transport.mu.Unlock()
	return w
}

func (w *fakeWallet) onEnvelope(env wcproto.Envelope) {
	if env.Type != wcproto.TypePub {
		return
	}
	var payload wcproto.EncryptedPayload
	if err := json.Unmarshal([]byte(env.Payload), &payload); err != nil {
		return
	}
	plaintext, err := w.cipher.Open(payload)
	if err != nil {
		return
	}
	var req wcproto.Request
	if err := json.Unmarshal(plaintext, &req); err != nil || req.Method == "" {
		return
	}

	if req.Method == wcproto.MethodSessionRequest {
		w.answerSessionRequest(req)
		return
	}

	w.requests <- req
	w.mu.Lock()
	handle := w.handle
	w.mu.Unlock()
	if resp := handle(req); resp != nil {
		w.send(resp)
	}
}

func (w *fakeWallet) answerSessionRequest(req wcproto.Request) {
	var params []wcproto.SessionRequestParams
	if err := json.Unmarshal(req.Params, &params); err != nil || len(params) == 0 {
		return
	}

	w.mu.Lock()
	w.clientID = params[0].PeerID
	id := req.ID
	if w.handshakeID != 0 {
		id = w.handshakeID
	}
	result := wcproto.SessionParams{
		Approved: w.approve,
		ChainID:  w.chainID,
		Accounts: w.accounts,
		PeerID:   testWalletID,
		PeerMeta: &wcproto.ClientMeta{Name: "Test Wallet"},
	}
	w.mu.Unlock()

	resp, err := wcproto.NewResultResponse(id, result)
	if err != nil {
		return
	}
	w.send(resp)
}

// send encrypts msg and delivers it to the dapp's client topic.
func (w *fakeWallet) send(msg any) {
	w.mu.Lock()
	topic := w.clientID
	w.mu.Unlock()
	w.sendTo(topic, msg)
}

func (w *fakeWallet) sendTo(topic string, msg any) {
	plaintext, err := json.Marshal(msg)
	require.NoError(w.t, err)
	sealed, err := w.cipher.Seal(plaintext)
	require.NoError(w.t, err)
	payload, err := json.Marshal(sealed)
	require.NoError(w.t, err)
	raw, err := json.Marshal(wcproto.Envelope{Topic: topic, Type: wcproto.TypePub, Payload: string(payload)})
	require.NoError(w.t, err)
	w.transport.inject(raw)
}

func (w *fakeWallet) nextRequest(t *testing.T) wcproto.Request {
	t.Helper()
	select {
	case req := <-w.requests:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for wallet request")
		return wcproto.Request{}
	}
}

type memoryStore struct {
	mu      sync.Mutex
	session *wcproto.SavedSession
	saves   int
	clears  int
}

func (m *memoryStore) Load(context.Context) (*wcproto.SavedSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, wcproto.ErrNoSavedSession
	}
	return m.session.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, s *wcproto.SavedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s.Clone()
	m.saves++
	return nil
}

func (m *memoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.clears++
	return nil
}

func (m *memoryStore) current() *wcproto.SavedSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// eventRecorder collects session events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	signal chan Event
}

func recordEvents(s *Session) *eventRecorder {
	r := &eventRecorder{signal: make(chan Event, 64)}
	s.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
		r.signal <- ev
	})
	return r
}

func (r *eventRecorder) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.signal:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
			return Event{}
		}
	}
}

func (r *eventRecorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
