// Package sdk is the connection orchestrator: it owns at most one wallet
// session, decides between resuming and pairing anew, retries transport
// failures and keeps the saved session in step with the lifecycle.
package sdk

import (
	"context"
	"errors"
	"time"

	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
	"gosuda.org/walletconnect/walletconnect/store"
)

var (
	ErrClientClosed        = errors.New("client is closed")
	ErrNoSession           = errors.New("no active session")
	ErrNotReadyForPrompt   = errors.New("session is not waiting for the wallet")
	ErrNoURLOpener         = errors.New("no url opener configured")
	ErrNoTransactionCodec  = errors.New("no transaction codec configured")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrUnknownStoreBackend = errors.New("unknown store backend")
)

const (
	DefaultConnectRetryCount = 3
	DefaultStorageSlot       = store.DefaultSlot
)

// Config is the orchestrator configuration. Build it with DefaultConfig and
// Options; the zero value disables auto-save and new-session-on-disconnect.
type Config struct {
	BridgeURL  string
	ChainID    int
	ClientMeta *wcproto.ClientMeta

	// ConnectRetryCount bounds connect attempts when the bridge is unreachable.
	ConnectRetryCount            int
	// AutoSaveAndResume picks what Suspend and Shutdown do with a live session:
	// save it and close the transport, or disconnect. Approved sessions are
	// saved either way.
	AutoSaveAndResume            bool
	CreateNewSessionOnDisconnect bool

	RequestTimeout time.Duration
	Backoff        BackoffConfig

	// Store defaults to process memory.
	Store walletconnect.SessionStore

	// TransportFactory creates the transport for each new session.
	TransportFactory func() walletconnect.Transport
	URLOpener        URLOpener
}

// DefaultConfig returns the defaults used by NewClient.
func DefaultConfig() Config {
	return Config{
		BridgeURL:                    walletconnect.DefaultBridgeURL,
		ChainID:                      walletconnect.DefaultChainID,
		ConnectRetryCount:            DefaultConnectRetryCount,
		AutoSaveAndResume:            true,
		CreateNewSessionOnDisconnect: true,
		RequestTimeout:               walletconnect.DefaultRequestTimeout,
		Backoff:                      DefaultBackoff(),
	}
}

func (c *Config) applyDefaults() {
	if c.BridgeURL == "" {
		c.BridgeURL = walletconnect.DefaultBridgeURL
	}
	if c.ChainID == 0 {
		c.ChainID = walletconnect.DefaultChainID
	}
	if c.ConnectRetryCount <= 0 {
		c.ConnectRetryCount = 1
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = walletconnect.DefaultRequestTimeout
	}
	if c.ClientMeta == nil {
		c.ClientMeta = &wcproto.ClientMeta{
			Name:        "gosuda walletconnect",
			Description: "WalletConnect session client",
			URL:         "https://gosuda.org",
		}
	}
	if c.Store == nil {
		c.Store = store.NewMemoryStore()
	}
	if c.TransportFactory == nil {
		c.TransportFactory = func() walletconnect.Transport { return walletconnect.NewRelaySocket(nil) }
	}
}

type Option func(*Config)

func WithBridgeURL(url string) Option {
	return func(c *Config) {
		c.BridgeURL = url
	}
}

func WithChainID(chainID int) Option {
	return func(c *Config) {
		c.ChainID = chainID
	}
}

func WithClientMeta(meta *wcproto.ClientMeta) Option {
	return func(c *Config) {
		c.ClientMeta = meta.Clone()
	}
}

func WithConnectRetryCount(n int) Option {
	return func(c *Config) {
		c.ConnectRetryCount = n
	}
}

func WithAutoSaveAndResume(enabled bool) Option {
	return func(c *Config) {
		c.AutoSaveAndResume = enabled
	}
}

func WithCreateNewSessionOnDisconnect(enabled bool) Option {
	return func(c *Config) {
		c.CreateNewSessionOnDisconnect = enabled
	}
}

func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

func WithBackoff(backoff BackoffConfig) Option {
	return func(c *Config) {
		c.Backoff = backoff
	}
}

// WithStore persists saved sessions in s instead of process memory.
func WithStore(s walletconnect.SessionStore) Option {
	return func(c *Config) {
		c.Store = s
	}
}

func WithTransportFactory(factory func() walletconnect.Transport) Option {
	return func(c *Config) {
		c.TransportFactory = factory
	}
}

func WithURLOpener(opener URLOpener) Option {
	return func(c *Config) {
		c.URLOpener = opener
	}
}

// URLOpener hands the connection URI to a wallet, typically as a deep link.
type URLOpener interface {
	OpenURL(ctx context.Context, uri string) error
}

// URLOpenerFunc adapts a function to URLOpener.
type URLOpenerFunc func(ctx context.Context, uri string) error

func (f URLOpenerFunc) OpenURL(ctx context.Context, uri string) error {
	return f(ctx, uri)
}
