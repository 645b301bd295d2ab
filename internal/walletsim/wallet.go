// Package walletsim is a scripted wallet that pairs through a bridge using the
// connection URI. It backs the end-to-end tests and the CLI demo.
package walletsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

var (
	ErrNotPaired = errors.New("wallet not paired")
	ErrRejected  = errors.New("rejected by user")
)

// Handler answers one request from the dapp. Returning a *walletconnect.RPCError
// sends its code, ErrRejected sends the user-rejected code and any other error
// is reported as an internal error.
type Handler func(method string, params json.RawMessage) (any, error)

// Config scripts the wallet's behaviour.
type Config struct {
	Accounts []string
	ChainID  int
	Meta     *wcproto.ClientMeta

	// Approve decides a session request; nil approves everything.
	Approve func(req wcproto.SessionRequestParams) bool
	Handler Handler

	Transport walletconnect.Transport
}

func (c *Config) applyDefaults() {
	if len(c.Accounts) == 0 {
		c.Accounts = []string{"0x5A0b54D5dc17e0AadC383d2db43B0a0D3E029c4c"}
	}
	if c.ChainID == 0 {
		c.ChainID = walletconnect.DefaultChainID
	}
	if c.Meta == nil {
		c.Meta = &wcproto.ClientMeta{Name: "WalletSim", Description: "simulated wallet"}
	}
	if c.Transport == nil {
		c.Transport = walletconnect.NewRelaySocket(nil)
	}
}

// Wallet is the wallet side of one pairing.
type Wallet struct {
	cfg       Config
	transport walletconnect.Transport
	peerID    string
	ids       atomic.Uint64

	mu       sync.Mutex
	cipher   *cryptoops.Cipher
	uri      walletconnect.URI
	dappID   string
	dappMeta *wcproto.ClientMeta
	active   bool
	requests []wcproto.Request

	sessions chan bool
	ended    chan struct{}
	endOnce  sync.Once
}

func New(cfg Config) *Wallet {
	cfg.applyDefaults()
	w := &Wallet{
		cfg:       cfg,
		transport: cfg.Transport,
		peerID:    uuid.NewString(),
		sessions:  make(chan bool, 4),
		ended:     make(chan struct{}),
	}
	w.ids.Store(uint64(time.Now().UnixMilli()) * 1000)
	w.transport.SetEvents(walletconnect.TransportEvents{
		OnMessage: w.onMessage,
		OnClose: func(code int, reason string) {
			log.Debug().Int("code", code).Str("reason", reason).Msg("[WalletSim] bridge closed")
		},
	})
	return w
}

// PeerID is the wallet's own topic.
func (w *Wallet) PeerID() string {
	return w.peerID
}

// Pair connects to the bridge named in the URI and waits for the session request.
func (w *Wallet) Pair(ctx context.Context, rawURI string) error {
	uri, err := walletconnect.ParseURI(rawURI)
	if err != nil {
		return err
	}
	c, err := cryptoops.NewCipher(uri.Key)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.uri = uri
	w.cipher = c
	w.mu.Unlock()

	if err := w.transport.Open(ctx, uri.Bridge); err != nil {
		return err
	}
	for _, topic := range []string{uri.Topic, w.peerID} {
		if err := w.sub(ctx, topic); err != nil {
			return err
		}
	}
	log.Info().Str("topic", uri.Topic).Str("peer_id", w.peerID).Msg("[WalletSim] paired, waiting for session request")
	return nil
}

// WaitSession blocks until a session request was answered and reports whether
// it was approved.
func (w *Wallet) WaitSession(ctx context.Context) (bool, error) {
	select {
	case approved := <-w.sessions:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Ended is closed once the dapp ends the session.
func (w *Wallet) Ended() <-chan struct{} {
	return w.ended
}

// Active reports whether the wallet approved a session that is still open.
func (w *Wallet) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// DappID is the dapp's client id learned from the session request.
func (w *Wallet) DappID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dappID
}

// DappMeta is the metadata the dapp sent with its session request.
func (w *Wallet) DappMeta() *wcproto.ClientMeta {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dappMeta.Clone()
}

// Requests returns the requests received so far, excluding the session request.
func (w *Wallet) Requests() []wcproto.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wcproto.Request(nil), w.requests...)
}

// SendUpdate pushes new accounts and chain to the dapp.
func (w *Wallet) SendUpdate(ctx context.Context, accounts []string, chainID int) error {
	return w.sendUpdate(ctx, wcproto.SessionParams{Approved: true, ChainID: chainID, Accounts: accounts})
}

// Disconnect ends the session from the wallet side and leaves the bridge.
func (w *Wallet) Disconnect(ctx context.Context) error {
	err := w.sendUpdate(ctx, wcproto.SessionParams{Approved: false})
	w.end()
	_ = w.transport.Close()
	return err
}

// DropTransport closes the bridge connection without ending the session.
func (w *Wallet) DropTransport() error {
	return w.transport.Close()
}

// Reconnect reopens the bridge connection and resubscribes to the wallet topic.
func (w *Wallet) Reconnect(ctx context.Context) error {
	w.mu.Lock()
	bridge := w.uri.Bridge
	w.mu.Unlock()
	if bridge == "" {
		return ErrNotPaired
	}
	if err := w.transport.Open(ctx, bridge); err != nil {
		return err
	}
	return w.sub(ctx, w.peerID)
}

// Close leaves the bridge without notifying the dapp.
func (w *Wallet) Close() error {
	return w.transport.Close()
}

func (w *Wallet) sendUpdate(ctx context.Context, params wcproto.SessionParams) error {
	w.mu.Lock()
	dappID, active := w.dappID, w.active
	w.mu.Unlock()
	if !active {
		return ErrNotPaired
	}
	if params.Approved {
		w.mu.Lock()
		w.cfg.Accounts = append([]string(nil), params.Accounts...)
		w.cfg.ChainID = params.ChainID
		w.mu.Unlock()
	}
	req, err := wcproto.NewRequest(w.ids.Add(1), wcproto.MethodSessionUpdate, []wcproto.SessionParams{params})
	if err != nil {
		return err
	}
	return w.publish(ctx, dappID, req)
}

func (w *Wallet) end() {
	w.mu.Lock()
	w.active = false
	w.mu.Unlock()
	w.endOnce.Do(func() { close(w.ended) })
}

func (w *Wallet) onMessage(raw []byte) {
	var env wcproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != wcproto.TypePub {
		return
	}
	var payload wcproto.EncryptedPayload
	if err := json.Unmarshal([]byte(env.Payload), &payload); err != nil {
		log.Warn().Err(err).Msg("[WalletSim] malformed payload")
		return
	}

	w.mu.Lock()
	c := w.cipher
	w.mu.Unlock()
	if c == nil {
		return
	}
	plaintext, err := c.Open(payload)
	if err != nil {
		log.Warn().Err(err).Msg("[WalletSim] cannot decrypt message")
		return
	}

	var msg wcproto.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		log.Warn().Err(err).Msg("[WalletSim] malformed json-rpc message")
		return
	}
	if !msg.IsRequest() {
		log.Debug().Uint64("id", msg.ID).Msg("[WalletSim] response from dapp ignored")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	switch msg.Method {
	case wcproto.MethodSessionRequest:
		w.handleSessionRequest(ctx, &msg)
	case wcproto.MethodSessionUpdate:
		w.handleSessionUpdate(&msg)
	default:
		w.handleRequest(ctx, &msg)
	}
}

func (w *Wallet) handleSessionRequest(ctx context.Context, msg *wcproto.Message) {
	var params []wcproto.SessionRequestParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 || params[0].PeerID == "" {
		log.Warn().Err(err).Msg("[WalletSim] malformed session request")
		return
	}
	req := params[0]
	approved := w.cfg.Approve == nil || w.cfg.Approve(req)

	w.mu.Lock()
	w.dappID = req.PeerID
	w.dappMeta = req.PeerMeta.Clone()
	w.active = approved
	result := wcproto.SessionParams{
		Approved: approved,
		ChainID:  w.cfg.ChainID,
		PeerID:   w.peerID,
		PeerMeta: w.cfg.Meta.Clone(),
	}
	if approved {
		result.Accounts = append([]string(nil), w.cfg.Accounts...)
	}
	w.mu.Unlock()

	resp, err := wcproto.NewResultResponse(msg.ID, result)
	if err != nil {
		return
	}
	if err := w.publish(ctx, req.PeerID, resp); err != nil {
		log.Error().Err(err).Msg("[WalletSim] failed to answer session request")
		return
	}
	name := ""
	if req.PeerMeta != nil {
		name = req.PeerMeta.Name
	}
	log.Info().Bool("approved", approved).Str("dapp", name).Msg("[WalletSim] answered session request")
	select {
	case w.sessions <- approved:
	default:
	}
}

func (w *Wallet) handleSessionUpdate(msg *wcproto.Message) {
	var params []wcproto.SessionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 {
		return
	}
	if !params[0].Approved {
		log.Info().Msg("[WalletSim] dapp ended the session")
		w.end()
	}
}

func (w *Wallet) handleRequest(ctx context.Context, msg *wcproto.Message) {
	w.mu.Lock()
	w.requests = append(w.requests, wcproto.Request{ID: msg.ID, JSONRPC: wcproto.JSONRPCVersion, Method: msg.Method, Params: msg.Params})
	dappID := w.dappID
	w.mu.Unlock()

	var resp *wcproto.Response
	if w.cfg.Handler == nil {
		resp = wcproto.NewErrorResponse(msg.ID, wcproto.CodeMethodNotFound, "method not supported: "+msg.Method)
	} else {
		result, err := w.cfg.Handler(msg.Method, msg.Params)
		var rpcErr *walletconnect.RPCError
		switch {
		case errors.As(err, &rpcErr):
			resp = wcproto.NewErrorResponse(msg.ID, rpcErr.Code, rpcErr.Message)
		case err != nil:
			resp = wcproto.NewErrorResponse(msg.ID, wcproto.CodeInternal, err.Error())
		default:
			resp, err = wcproto.NewResultResponse(msg.ID, result)
			if err != nil {
				resp = wcproto.NewErrorResponse(msg.ID, wcproto.CodeInternal, err.Error())
			}
		}
	}
	if err := w.publish(ctx, dappID, resp); err != nil {
		log.Error().Err(err).Str("method", msg.Method).Msg("[WalletSim] failed to answer request")
	}
}

func (w *Wallet) sub(ctx context.Context, topic string) error {
	raw, err := json.Marshal(wcproto.Envelope{Topic: topic, Type: wcproto.TypeSub, Silent: true})
	if err != nil {
		return err
	}
	return w.transport.SendText(ctx, raw)
}

func (w *Wallet) publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return ErrNotPaired
	}
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	c := w.cipher
	w.mu.Unlock()
	sealed, err := c.Seal(plaintext)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(wcproto.Envelope{Topic: topic, Type: wcproto.TypePub, Payload: string(payload)})
	if err != nil {
		return err
	}
	if err := w.transport.SendText(ctx, raw); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Signer returns a Handler that answers every signing method with signature and
// every transaction with a fake hash.
func Signer(signature string) Handler {
	return func(method string, _ json.RawMessage) (any, error) {
		switch method {
		case wcproto.MethodPersonalSign, wcproto.MethodEthSign, wcproto.MethodSignTypedData, wcproto.MethodSignTransaction:
			return signature, nil
		case wcproto.MethodSendTransaction, wcproto.MethodSendRawTransaction:
			return "0x" + fmt.Sprintf("%064x", len(signature)), nil
		default:
			return nil, &walletconnect.RPCError{Code: wcproto.CodeMethodNotFound, Message: "method not supported: " + method}
		}
	}
}
