package wcproto

import "errors"

// Protocol method names.
const (
	MethodSessionRequest = "wc_sessionRequest"
	MethodSessionUpdate  = "wc_sessionUpdate"

	MethodPersonalSign       = "personal_sign"
	MethodEthSign            = "eth_sign"
	MethodSignTypedData      = "eth_signTypedData"
	MethodSendTransaction    = "eth_sendTransaction"
	MethodSignTransaction    = "eth_signTransaction"
	MethodSendRawTransaction = "eth_sendRawTransaction"
)

// SessionRequestParams is the single element of the wc_sessionRequest params array.
type SessionRequestParams struct {
	PeerID   string      `json:"peerId"`
	PeerMeta *ClientMeta `json:"peerMeta"`
	ChainID  int         `json:"chainId"`
}

// SessionParams is the wallet's answer to wc_sessionRequest and the payload of
// wc_sessionUpdate. Approved=false in an update means the wallet ended the session.
type SessionParams struct {
	Approved  bool        `json:"approved"`
	ChainID   int         `json:"chainId"`
	NetworkID int         `json:"networkId,omitempty"`
	Accounts  []string    `json:"accounts"`
	RPCURL    string      `json:"rpcUrl,omitempty"`
	PeerID    string      `json:"peerId,omitempty"`
	PeerMeta  *ClientMeta `json:"peerMeta,omitempty"`
}

// SavedSession is the persisted subset of a session descriptor.
type SavedSession struct {
	Connected      bool        `json:"connected"`
	Accounts       []string    `json:"accounts"`
	ChainID        int         `json:"chainId"`
	BridgeURL      string      `json:"bridge"`
	Key            string      `json:"key"`
	ClientID       string      `json:"clientId"`
	ClientMeta     *ClientMeta `json:"clientMeta"`
	PeerID         string      `json:"peerId"`
	PeerMeta       *ClientMeta `json:"peerMeta"`
	HandshakeID    uint64      `json:"handshakeId"`
	HandshakeTopic string      `json:"handshakeTopic"`
}

var ErrInvalidSavedSession = errors.New("invalid saved session")

// Validate checks the fields required to restore a session.
func (s *SavedSession) Validate() error {
	switch {
	case s == nil:
		return ErrInvalidSavedSession
	case s.Key == "":
		return errors.Join(ErrInvalidSavedSession, errors.New("missing key"))
	case s.ClientID == "":
		return errors.Join(ErrInvalidSavedSession, errors.New("missing client id"))
	case s.BridgeURL == "":
		return errors.Join(ErrInvalidSavedSession, errors.New("missing bridge url"))
	case s.Connected && len(s.Accounts) == 0:
		return errors.Join(ErrInvalidSavedSession, errors.New("connected session without accounts"))
	}
	return nil
}

// Clone returns a deep copy.
func (s *SavedSession) Clone() *SavedSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Accounts = append([]string(nil), s.Accounts...)
	out.ClientMeta = s.ClientMeta.Clone()
	out.PeerMeta = s.PeerMeta.Clone()
	return &out
}

// Clone returns a deep copy.
func (m *ClientMeta) Clone() *ClientMeta {
	if m == nil {
		return nil
	}
	out := *m
	out.Icons = append([]string(nil), m.Icons...)
	return &out
}

// ErrNoSavedSession is returned by stores when the slot is empty.
var ErrNoSavedSession = errors.New("no saved session")
