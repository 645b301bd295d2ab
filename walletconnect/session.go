package walletconnect

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

	"gosuda.org/walletconnect/walletconnect/core/cryptoops"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// Request ids are process-wide and never reused. Seeding with the clock keeps
// them from colliding with ids issued before a restart.
var requestIDs atomic.Uint64

func init() {
	requestIDs.Store(uint64(time.Now().UnixMilli()) * 1000)
}

func nextRequestID() uint64 {
	return requestIDs.Add(1)
}

// Session is the protocol state machine for one pairing with a wallet.
type Session struct {
	cfg        SessionConfig
	transport  Transport
	correlator *Correlator
	bus        *eventBus

	stopSweep context.CancelFunc
	closeOnce sync.Once

	mu             sync.Mutex
	state          State
	ended          bool
	key            []byte
	cipher         *cryptoops.Cipher
	bridgeURL      string
	clientID       string
	clientMeta     *wcproto.ClientMeta
	peerID         string
	peerMeta       *wcproto.ClientMeta
	chainID        int
	networkID      int
	rpcURL         string
	accounts       []string
	connected      bool
	handshakeID    uint64
	handshakeTopic string
	staleHandshake map[uint64]struct{} // retired handshake ids under the current client id
	readyForPrompt bool
}

// NewSession creates a session with a fresh key and fresh identifiers.
func NewSession(cfg SessionConfig) (*Session, error) {
	cfg = cfg.withDefaults()
	s := newSession(cfg)
	s.bridgeURL = cfg.BridgeURL
	s.chainID = cfg.ChainID
	s.clientMeta = cfg.ClientMeta.Clone()
	if err := s.rotateLocked(); err != nil {
		s.Close()
		return nil, err
	}
	log.Debug().
		Str("client_id", s.clientID).
		Str("bridge", s.bridgeURL).
		Str("key", cryptoops.KeyFingerprint(s.key)).
		Msg("[Session] Created new session")
	return s, nil
}

// RestoreSession rebuilds a session from a saved record. A saved session that
// was connected resumes without a handshake.
func RestoreSession(saved *wcproto.SavedSession, cfg SessionConfig) (*Session, error) {
	if err := saved.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	key, err := cryptoops.DecodeKey(saved.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	c, err := cryptoops.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	cfg = cfg.withDefaults()
	s := newSession(cfg)
	s.key = key
	s.cipher = c
	s.bridgeURL = saved.BridgeURL
	s.clientID = saved.ClientID
	s.clientMeta = saved.ClientMeta.Clone()
	if s.clientMeta == nil {
		s.clientMeta = cfg.ClientMeta.Clone()
	}
	s.peerID = saved.PeerID
	s.peerMeta = saved.PeerMeta.Clone()
	s.chainID = saved.ChainID
	s.accounts = append([]string(nil), saved.Accounts...)
	s.connected = saved.Connected
	s.handshakeTopic = saved.HandshakeTopic
	if s.handshakeTopic == "" {
		s.handshakeTopic = uuid.NewString()
	}
	log.Debug().
		Str("client_id", s.clientID).
		Str("peer_id", s.peerID).
		Bool("connected", s.connected).
		Str("key", cryptoops.KeyFingerprint(key)).
		Msg("[Session] Restored saved session")
	return s, nil
}

func newSession(cfg SessionConfig) *Session {
	sweepCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:            cfg,
		transport:      cfg.Transport,
		correlator:     NewCorrelator(cfg.RequestTimeout),
		bus:            newEventBus(),
		stopSweep:      cancel,
		state:          StateDisconnected,
		staleHandshake: make(map[uint64]struct{}),
	}
	s.transport.SetEvents(TransportEvents{
		OnOpen:    s.onTransportOpen,
		OnMessage: s.onTransportMessage,
		OnError:   s.onTransportError,
		OnClose:   s.onTransportClose,
	})
	go s.correlator.Run(sweepCtx)
	return s
}

// rotateLocked replaces key and identifiers so an ended session pairs again
// under fresh ones. Replies to retired handshakes cannot reach the new client
// topic, so their ids are forgotten.
func (s *Session) rotateLocked() error {
	key, err := cryptoops.NewSessionKey()
	if err != nil {
		return err
	}
	c, err := cryptoops.NewCipher(key)
	if err != nil {
		return err
	}
	s.key = key
	s.cipher = c
	s.clientID = uuid.NewString()
	s.handshakeTopic = uuid.NewString()
	clear(s.staleHandshake)
	s.peerID = ""
	s.peerMeta = nil
	s.accounts = nil
	s.connected = false
	s.ended = false
	return nil
}

// Subscribe registers fn for lifecycle events and returns its unsubscribe func.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.bus.subscribe(fn)
}

// Connect brings the session to Connected. It returns immediately when already
// connected, resumes without a handshake when the descriptor is connected but the
// transport is not, and performs a full handshake otherwise.
func (s *Session) Connect(ctx context.Context) (*SessionData, error) {
	s.mu.Lock()
	switch s.state {
	case StateConnecting, StateHandshaking, StateDisconnecting:
		state := s.state
		s.mu.Unlock()
		log.Debug().Str("state", state.String()).Msg("[Session] Connect ignored, connection in progress")
		return nil, ErrConnectInProgress
	case StateConnected:
		if s.transport.Connected() {
			data := s.dataLocked()
			s.mu.Unlock()
			return data, nil
		}
	}
	s.ended = false
	resume := s.connected
	s.state = StateConnecting
	s.mu.Unlock()

	err := s.openTransport(ctx)
	if s.State() != StateConnecting {
		// Disconnect or CloseTransport ran while the dial was in flight.
		_ = s.transport.Close()
		return nil, ErrSessionClosed
	}
	if err != nil {
		s.fail(err)
		return nil, err
	}

	if resume {
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			return nil, ErrSessionClosed
		}
		s.state = StateConnected
		data := s.dataLocked()
		s.mu.Unlock()

		log.Info().Str("peer_id", data.PeerID).Int("chain_id", data.ChainID).Msg("[Session] Session resumed")
		s.persist()
		s.bus.emit(Event{Kind: EventResumed, Data: data})
		return data, nil
	}
	return s.handshake(ctx)
}

func (s *Session) openTransport(ctx context.Context) error {
	s.mu.Lock()
	bridge, clientID := s.bridgeURL, s.clientID
	s.mu.Unlock()

	if err := s.transport.Open(ctx, bridge); err != nil {
		return err
	}
	if s.State() != StateConnecting {
		return ErrSessionClosed
	}
	return s.subscribe(ctx, clientID)
}

func (s *Session) handshake(ctx context.Context) (*SessionData, error) {
	id := nextRequestID()

	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.state = StateHandshaking
	s.handshakeID = id
	s.readyForPrompt = true
	topic := s.handshakeTopic
	params := []wcproto.SessionRequestParams{{
		PeerID:   s.clientID,
		PeerMeta: s.clientMeta.Clone(),
		ChainID:  s.chainID,
	}}
	s.mu.Unlock()

	req, err := wcproto.NewRequest(id, wcproto.MethodSessionRequest, params)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	pending, err := s.correlator.Register(id, req.Method)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	log.Debug().Uint64("handshake_id", id).Str("topic", topic).Msg("[Session] Sending session request")
	if err := s.publish(ctx, topic, req, false); err != nil {
		s.correlator.Reject(id, err)
		s.fail(err)
		return nil, err
	}
	s.bus.emit(Event{Kind: EventReadyForPrompt})

	raw, err := pending.Wait(ctx)
	if err != nil {
		var rpcErr *RPCError
		switch {
		case errors.Is(err, ErrSessionClosed):
			return nil, err
		case errors.As(err, &rpcErr):
			return nil, s.rejectHandshake(fmt.Errorf("%w: %w", ErrPeerRejected, err))
		default:
			s.fail(err)
			return nil, err
		}
	}

	var result wcproto.SessionParams
	if err := json.Unmarshal(raw, &result); err != nil {
		err = fmt.Errorf("%w: session approval: %w", ErrMalformedMessage, err)
		s.fail(err)
		return nil, err
	}
	if !result.Approved {
		return nil, s.rejectHandshake(ErrPeerRejected)
	}
	if len(result.Accounts) == 0 {
		s.fail(ErrNoAccounts)
		return nil, ErrNoAccounts
	}

	s.mu.Lock()
	if s.state != StateHandshaking || s.handshakeID != id {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.peerID = result.PeerID
	s.peerMeta = result.PeerMeta.Clone()
	s.applyParamsLocked(result)
	s.connected = true
	s.handshakeID = 0
	clear(s.staleHandshake)
	s.readyForPrompt = false
	s.state = StateConnected
	data := s.dataLocked()
	s.mu.Unlock()

	log.Info().
		Str("peer_id", data.PeerID).
		Int("chain_id", data.ChainID).
		Strs("accounts", data.Accounts).
		Msg("[Session] Session approved")
	s.persist()
	s.bus.emit(Event{Kind: EventCreated, Data: data})
	return data, nil
}

func (s *Session) applyParamsLocked(p wcproto.SessionParams) {
	s.accounts = append([]string(nil), p.Accounts...)
	if p.ChainID != 0 {
		s.chainID = p.ChainID
	}
	if p.NetworkID != 0 {
		s.networkID = p.NetworkID
	}
	if p.RPCURL != "" {
		s.rpcURL = p.RPCURL
	}
}

// rejectHandshake handles a wallet refusing the session: back to Disconnected
// with the partial state cleared.
func (s *Session) rejectHandshake(cause error) error {
	log.Warn().Err(cause).Msg("[Session] Session request rejected")
	s.mu.Lock()
	s.retireHandshakeLocked()
	s.peerID = ""
	s.peerMeta = nil
	s.accounts = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	_ = s.transport.Close()
	s.bus.emit(Event{Kind: EventDisconnected, Err: cause, PeerInitiated: true})
	return cause
}

// fail moves a connect attempt to Failed. The descriptor's connected flag is
// kept so a later Connect can still resume.
func (s *Session) fail(err error) {
	log.Debug().Err(err).Msg("[Session] Connect attempt failed")
	s.mu.Lock()
	if s.state == StateDisconnecting || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.retireHandshakeLocked()
	s.state = StateFailed
	s.mu.Unlock()

	s.correlator.DrainAll(err)
	_ = s.transport.Close()
}

func (s *Session) retireHandshakeLocked() {
	if s.handshakeID != 0 {
		s.staleHandshake[s.handshakeID] = struct{}{}
		s.handshakeID = 0
	}
	s.readyForPrompt = false
}

// Send issues a request to the wallet. It requires a connected session and
// performs no I/O otherwise.
func (s *Session) Send(ctx context.Context, method string, params any) (*Pending, error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	peerID := s.peerID
	s.mu.Unlock()

	id := nextRequestID()
	req, err := wcproto.NewRequest(id, method, params)
	if err != nil {
		return nil, err
	}
	pending, err := s.correlator.Register(id, method)
	if err != nil {
		return nil, err
	}
	if s.State() != StateConnected {
		s.correlator.Reject(id, ErrSessionClosed)
		return nil, ErrNotConnected
	}

	log.Debug().Uint64("id", id).Str("method", method).Msg("[Session] Sending request")
	if err := s.publish(ctx, peerID, req, false); err != nil {
		s.correlator.Reject(id, err)
		return nil, err
	}
	return pending, nil
}

// Request sends method and decodes the wallet's result into out.
func (s *Session) Request(ctx context.Context, method string, params any, out any) error {
	pending, err := s.Send(ctx, method, params)
	if err != nil {
		return err
	}
	return pending.Decode(ctx, out)
}

// Disconnect ends the session with the wallet. It always reaches Disconnected
// and is idempotent. A later Connect pairs under a new key and topic.
func (s *Session) Disconnect(ctx context.Context) error {
	s.teardown(ctx, false, nil)
	return nil
}

func (s *Session) teardown(ctx context.Context, peerInitiated bool, cause error) {
	s.mu.Lock()
	prev := s.state
	if prev == StateDisconnecting || (prev == StateDisconnected && s.ended) {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnecting
	notifyPeer := !peerInitiated && prev == StateConnected && s.peerID != ""
	peerID, chainID := s.peerID, s.chainID
	s.mu.Unlock()

	log.Info().Bool("peer_initiated", peerInitiated).Str("from", prev.String()).Msg("[Session] Disconnecting")

	if notifyPeer && s.transport.Connected() {
		update, err := wcproto.NewRequest(nextRequestID(), wcproto.MethodSessionUpdate, []wcproto.SessionParams{{
			Approved: false,
			ChainID:  chainID,
			Accounts: nil,
		}})
		if err == nil {
			if err := s.publish(ctx, peerID, update, false); err != nil {
				log.Debug().Err(err).Msg("[Session] Failed to notify wallet of disconnect")
			}
		}
	}

	closed := ErrSessionClosed
	if cause != nil {
		closed = fmt.Errorf("%w: %w", ErrSessionClosed, cause)
	}
	if n := s.correlator.DrainAll(closed); n > 0 {
		log.Debug().Int("count", n).Msg("[Session] Rejected pending requests")
	}
	_ = s.transport.Close()
	s.clearStore()

	s.mu.Lock()
	s.retireHandshakeLocked()
	if err := s.rotateLocked(); err != nil {
		log.Error().Err(err).Msg("[Session] Failed to rotate session key")
		s.connected = false
		s.accounts = nil
	}
	s.ended = true
	s.state = StateDisconnected
	s.mu.Unlock()

	if prev != StateDisconnected {
		s.bus.emit(Event{Kind: EventDisconnected, Err: cause, PeerInitiated: peerInitiated})
	}
}

// CloseTransport drops the bridge connection but keeps the session resumable.
// Pending requests are rejected.
func (s *Session) CloseTransport() error {
	s.mu.Lock()
	if s.state == StateConnecting || s.state == StateHandshaking {
		s.retireHandshakeLocked()
	}
	if s.state != StateDisconnecting {
		s.state = StateDisconnected
	}
	s.mu.Unlock()

	s.correlator.DrainAll(ErrSessionClosed)
	return s.transport.Close()
}

// Close releases background resources. The session must not be used afterwards.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.stopSweep()
		s.correlator.DrainAll(ErrSessionClosed)
		_ = s.transport.Close()
		s.bus.close()
	})
}

func (s *Session) onTransportOpen() {
	log.Debug().Msg("[Session] Transport open")
}

func (s *Session) onTransportError(err error) {
	log.Warn().Err(err).Msg("[Session] Transport error")
}

func (s *Session) onTransportClose(code int, reason string) {
	err := fmt.Errorf("%w: bridge closed connection (%d %s)", ErrTransportClosed, code, reason)

	s.mu.Lock()
	state := s.state
	handshakeID := s.handshakeID
	if state == StateConnected {
		s.state = StateFailed
	}
	s.mu.Unlock()

	switch state {
	case StateConnected:
		log.Warn().Int("code", code).Str("reason", reason).Msg("[Session] Bridge connection lost")
		s.correlator.DrainAll(err)
		s.bus.emit(Event{Kind: EventTransportClosed, Err: err})
	case StateHandshaking:
		s.correlator.Reject(handshakeID, err)
	}
}

func (s *Session) onTransportMessage(raw []byte) {
	var env wcproto.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.protocolViolation(fmt.Errorf("%w: envelope: %w", ErrMalformedMessage, err))
		return
	}
	if env.Type != wcproto.TypePub {
		return
	}

	s.mu.Lock()
	clientID, c := s.clientID, s.cipher
	s.mu.Unlock()
	if env.Topic != clientID {
		log.Debug().Str("topic", env.Topic).Msg("[Session] Ignoring envelope for another topic")
		return
	}

	var payload wcproto.EncryptedPayload
	if err := json.Unmarshal([]byte(env.Payload), &payload); err != nil {
		s.protocolViolation(fmt.Errorf("%w: payload: %w", ErrMalformedMessage, err))
		return
	}
	plaintext, err := c.Open(payload)
	if err != nil {
		s.protocolViolation(fmt.Errorf("%w: %w", ErrProtocol, err))
		return
	}

	var msg wcproto.Message
	if err := json.Unmarshal(plaintext, &msg); err != nil {
		s.protocolViolation(fmt.Errorf("%w: json-rpc: %w", ErrMalformedMessage, err))
		return
	}

	if msg.IsRequest() {
		s.handleRequest(&msg)
		return
	}
	s.handleResponse(&msg)
}

// protocolViolation fails an in-flight handshake; once connected, the message
// cannot be attributed to a request and is reported in the log.
func (s *Session) protocolViolation(err error) {
	s.mu.Lock()
	state, handshakeID := s.state, s.handshakeID
	s.mu.Unlock()

	log.Error().Err(err).Str("state", state.String()).Msg("[Session] Protocol violation")
	if state == StateHandshaking {
		s.correlator.Reject(handshakeID, err)
	}
}

func (s *Session) handleResponse(msg *wcproto.Message) {
	s.mu.Lock()
	state, handshakeID := s.state, s.handshakeID
	_, stale := s.staleHandshake[msg.ID]
	s.mu.Unlock()

	if stale {
		log.Debug().Uint64("id", msg.ID).Msg("[Session] Ignoring late reply to a retired handshake")
		return
	}
	if state == StateHandshaking && msg.ID != handshakeID {
		s.correlator.Reject(handshakeID, fmt.Errorf("%w: got %d, want %d", ErrHandshakeMismatch, msg.ID, handshakeID))
		return
	}

	if msg.Error != nil {
		s.correlator.Reject(msg.ID, newRPCError(msg.Error))
		return
	}
	s.correlator.Resolve(msg.ID, msg.Result)
}

func (s *Session) handleRequest(msg *wcproto.Message) {
	switch msg.Method {
	case wcproto.MethodSessionUpdate:
		s.handleSessionUpdate(msg)
	default:
		log.Debug().Str("method", msg.Method).Msg("[Session] Unsupported request from wallet")
		s.reply(wcproto.NewErrorResponse(msg.ID, wcproto.CodeMethodNotFound, "method not supported: "+msg.Method))
	}
}

func (s *Session) handleSessionUpdate(msg *wcproto.Message) {
	var params []wcproto.SessionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil || len(params) == 0 {
		log.Warn().Err(err).Msg("[Session] Malformed session update")
		s.reply(wcproto.NewErrorResponse(msg.ID, wcproto.CodeInvalidParams, "invalid session update"))
		return
	}
	update := params[0]

	if !update.Approved {
		log.Info().Msg("[Session] Wallet ended the session")
		// teardown closes the transport, which must not happen on its own callback
		go s.teardown(context.Background(), true, nil)
		return
	}

	if len(update.Accounts) == 0 {
		log.Warn().Msg("[Session] Session update without accounts rejected")
		s.reply(wcproto.NewErrorResponse(msg.ID, wcproto.CodeInvalidParams, "session update without accounts"))
		return
	}

	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.applyParamsLocked(update)
	data := s.dataLocked()
	s.mu.Unlock()

	log.Info().Int("chain_id", data.ChainID).Strs("accounts", data.Accounts).Msg("[Session] Session updated")
	s.persist()
	s.bus.emit(Event{Kind: EventUpdated, Data: data})
}

func (s *Session) reply(resp *wcproto.Response) {
	s.mu.Lock()
	peerID := s.peerID
	s.mu.Unlock()
	if peerID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()
	if err := s.publish(ctx, peerID, resp, true); err != nil {
		log.Debug().Err(err).Uint64("id", resp.ID).Msg("[Session] Failed to reply to wallet")
	}
}

func (s *Session) subscribe(ctx context.Context, topic string) error {
	raw, err := json.Marshal(wcproto.Envelope{Topic: topic, Type: wcproto.TypeSub, Silent: true})
	if err != nil {
		return err
	}
	return s.transport.SendText(ctx, raw)
}

// publish encrypts msg under a fresh nonce and sends it to topic.
func (s *Session) publish(ctx context.Context, topic string, msg any, silent bool) error {
	plaintext, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.mu.Lock()
	c := s.cipher
	s.mu.Unlock()

	sealed, err := c.Seal(plaintext)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(sealed)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(wcproto.Envelope{
		Topic:   topic,
		Type:    wcproto.TypePub,
		Payload: string(payload),
		Silent:  silent,
	})
	if err != nil {
		return err
	}
	return s.transport.SendText(ctx, raw)
}

func (s *Session) persist() {
	if s.cfg.Store == nil {
		return
	}
	saved := s.SavedSession()
	if !saved.Connected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.cfg.Store.Save(ctx, saved); err != nil {
		log.Warn().Err(err).Msg("[Session] Failed to persist session")
	}
}

func (s *Session) clearStore() {
	if s.cfg.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
	defer cancel()
	if err := s.cfg.Store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("[Session] Failed to clear saved session")
	}
}

func (s *Session) dataLocked() *SessionData {
	return &SessionData{
		Accounts:  append([]string(nil), s.accounts...),
		ChainID:   s.chainID,
		NetworkID: s.networkID,
		RPCURL:    s.rpcURL,
		PeerID:    s.peerID,
		PeerMeta:  s.peerMeta.Clone(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the wallet approved this session and has not ended it.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Connecting reports whether a connect attempt is in flight.
func (s *Session) Connecting() bool {
	st := s.State()
	return st == StateConnecting || st == StateHandshaking
}

// TransportConnected reports whether the bridge connection is open.
func (s *Session) TransportConnected() bool {
	return s.transport.Connected()
}

// ReadyForUserPrompt is true while the session request is waiting on the wallet,
// which is when the connection URI should be shown.
func (s *Session) ReadyForUserPrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyForPrompt
}

// Data returns the approved session data.
func (s *Session) Data() *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataLocked()
}

func (s *Session) Accounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.accounts...)
}

func (s *Session) ChainID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chainID
}

// KeyData is the hex session key, used to compare against a saved session.
func (s *Session) KeyData() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cryptoops.EncodeKey(s.key)
}

// URI returns the pairing URI for the wallet.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return URI{
		Topic:   s.handshakeTopic,
		Version: ProtocolVersion,
		Bridge:  s.bridgeURL,
		Key:     s.key,
	}.String()
}

// Descriptor returns a snapshot of the session descriptor.
func (s *Session) Descriptor() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Descriptor{
		State:          s.state,
		KeyFingerprint: cryptoops.KeyFingerprint(s.key),
		BridgeURL:      s.bridgeURL,
		ClientID:       s.clientID,
		PeerID:         s.peerID,
		ChainID:        s.chainID,
		Accounts:       append([]string(nil), s.accounts...),
		Connected:      s.connected,
		HandshakeID:    s.handshakeID,
		HandshakeTopic: s.handshakeTopic,
	}
}

// SavedSession returns the persistable form of the session.
func (s *Session) SavedSession() *wcproto.SavedSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &wcproto.SavedSession{
		Connected:      s.connected,
		Accounts:       append([]string(nil), s.accounts...),
		ChainID:        s.chainID,
		BridgeURL:      s.bridgeURL,
		Key:            cryptoops.EncodeKey(s.key),
		ClientID:       s.clientID,
		ClientMeta:     s.clientMeta.Clone(),
		PeerID:         s.peerID,
		PeerMeta:       s.peerMeta.Clone(),
		HandshakeID:    s.handshakeID,
		HandshakeTopic: s.handshakeTopic,
	}
}
