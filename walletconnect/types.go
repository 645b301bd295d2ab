package walletconnect

import (
	"context"
	"time"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// State is the session engine's lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
	StateDisconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SessionData is what the wallet approved: accounts, chain and its own identity.
type SessionData struct {
	Accounts  []string
	ChainID   int
	NetworkID int
	RPCURL    string
	PeerID    string
	PeerMeta  *wcproto.ClientMeta
}

// DefaultAccount is the first approved account, or "" when there is none.
func (d *SessionData) DefaultAccount() string {
	if d == nil || len(d.Accounts) == 0 {
		return ""
	}
	return d.Accounts[0]
}

// Descriptor is a read-only snapshot of the session descriptor. The key itself
// is never exposed here; KeyFingerprint identifies it.
type Descriptor struct {
	State          State
	KeyFingerprint string
	BridgeURL      string
	ClientID       string
	PeerID         string
	ChainID        int
	Accounts       []string
	Connected      bool
	HandshakeID    uint64
	HandshakeTopic string
}

// SessionStore persists a single saved session. Load returns
// wcproto.ErrNoSavedSession when nothing is stored.
type SessionStore interface {
	Load(ctx context.Context) (*wcproto.SavedSession, error)
	Save(ctx context.Context, session *wcproto.SavedSession) error
	Clear(ctx context.Context) error
}

// SessionConfig configures a Session.
type SessionConfig struct {
	BridgeURL  string
	ChainID    int
	ClientMeta *wcproto.ClientMeta

	// Transport defaults to a RelaySocket with the gorilla dialer.
	Transport Transport
	// Store is optional; without it nothing is persisted.
	Store SessionStore

	RequestTimeout time.Duration
	// PersistTimeout bounds each best-effort store write.
	PersistTimeout time.Duration
}

const (
	DefaultBridgeURL      = "https://testbridge.yartu.io/"
	DefaultChainID        = 1
	defaultPersistTimeout = 5 * time.Second
	defaultPublishTimeout = 10 * time.Second
)

func (cfg SessionConfig) withDefaults() SessionConfig {
	if cfg.BridgeURL == "" {
		cfg.BridgeURL = DefaultBridgeURL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = DefaultChainID
	}
	if cfg.ClientMeta == nil {
		cfg.ClientMeta = &wcproto.ClientMeta{}
	}
	if cfg.Transport == nil {
		cfg.Transport = NewRelaySocket(nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	return cfg
}
