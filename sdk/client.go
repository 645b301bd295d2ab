package sdk

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect"
	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

// Client orchestrates one wallet session at a time.
type Client struct {
	config Config
	rng    *rand.Rand
	sleep  func(context.Context, time.Duration) error

	// connectMu serialises the connect decision and the lifecycle hooks. It is
	// never held while waiting on the wallet.
	connectMu sync.Mutex
	inFlight  chan struct{} // closed when the running Connect returns

	mu      sync.Mutex
	session *walletconnect.Session
	closed  bool

	listeners listeners

	ctx       context.Context
	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

// NewClient creates a client from DefaultConfig with opt applied.
func NewClient(opt ...Option) (*Client, error) {
	config := DefaultConfig()
	for _, o := range opt {
		o(&config)
	}
	config.applyDefaults()

	log.Debug().
		Str("bridge", config.BridgeURL).
		Int("chain_id", config.ChainID).
		Int("retries", config.ConnectRetryCount).
		Bool("auto_save", config.AutoSaveAndResume).
		Msg("[SDK] Creating client")

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// Session returns the current session, or nil before the first Connect.
func (c *Client) Session() *walletconnect.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Connect makes sure there is a connected session. An in-memory session whose
// key matches the saved one is resumed; a stale in-memory session is closed and
// replaced; otherwise a saved session is restored or a new one paired.
// It returns (nil, nil) without waiting when a connect is already in flight.
func (c *Client) Connect(ctx context.Context) (*walletconnect.SessionData, error) {
	c.connectMu.Lock()
	if c.inFlight != nil {
		c.connectMu.Unlock()
		log.Debug().Msg("[SDK] Connect already in progress, request ignored")
		return nil, nil
	}
	s, data, err := c.prepareConnect(ctx)
	if s == nil {
		c.connectMu.Unlock()
		return data, err
	}
	done := make(chan struct{})
	c.inFlight = done
	c.connectMu.Unlock()

	defer func() {
		c.connectMu.Lock()
		c.inFlight = nil
		c.connectMu.Unlock()
		close(done)
	}()
	return c.completeConnect(ctx, s)
}

// prepareConnect walks the connect decision table. It returns the session to
// connect, or a nil session when the result is already known.
func (c *Client) prepareConnect(ctx context.Context) (*walletconnect.Session, *walletconnect.SessionData, error) {
	if c.isClosed() {
		return nil, nil, ErrClientClosed
	}

	saved := c.loadSaved(ctx)
	s := c.Session()

	if s != nil {
		switch {
		case saved != nil && saved.Key != s.KeyData():
			log.Info().Msg("[SDK] Saved session differs from the active one, replacing it")
			c.retire(ctx, s)
		case saved != nil:
			switch {
			case s.Connecting():
				log.Debug().Msg("[SDK] Connect already in progress")
				return nil, nil, nil
			case s.State() == walletconnect.StateConnected && s.TransportConnected():
				log.Debug().Msg("[SDK] Session already connected, nothing to do")
				return nil, s.Data(), nil
			default:
				return s, nil, nil
			}
		case s.Connecting():
			log.Debug().Msg("[SDK] Connect already in progress")
			return nil, nil, nil
		default:
			c.retire(ctx, s)
		}
	}

	s, err := c.initializeSession(ctx, saved)
	if err != nil {
		return nil, nil, err
	}
	return s, nil, nil
}

// waitForConnect blocks until the in-flight Connect, if any, has returned.
func (c *Client) waitForConnect(ctx context.Context) error {
	c.connectMu.Lock()
	done := c.inFlight
	c.connectMu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retire ends a session the client is about to replace: a connected session is
// disconnected, a session with only an open transport has it closed.
func (c *Client) retire(ctx context.Context, s *walletconnect.Session) {
	switch {
	case s.State() == walletconnect.StateConnected:
		_ = s.Disconnect(ctx)
	case s.TransportConnected():
		_ = s.CloseTransport()
	}
}

func (c *Client) loadSaved(ctx context.Context) *wcproto.SavedSession {
	saved, err := c.config.Store.Load(ctx)
	switch {
	case errors.Is(err, wcproto.ErrNoSavedSession):
		return nil
	case err != nil:
		log.Warn().Err(err).Msg("[SDK] Ignoring unreadable saved session")
		return nil
	}
	return saved
}

func (c *Client) sessionConfig() walletconnect.SessionConfig {
	return walletconnect.SessionConfig{
		BridgeURL:      c.config.BridgeURL,
		ChainID:        c.config.ChainID,
		ClientMeta:     c.config.ClientMeta,
		Transport:      c.config.TransportFactory(),
		Store:          c.config.Store,
		RequestTimeout: c.config.RequestTimeout,
	}
}

func (c *Client) initializeSession(ctx context.Context, saved *wcproto.SavedSession) (*walletconnect.Session, error) {
	var (
		s   *walletconnect.Session
		err error
	)
	if saved != nil {
		s, err = walletconnect.RestoreSession(saved, c.sessionConfig())
		if err != nil {
			log.Warn().Err(err).Msg("[SDK] Saved session is invalid, starting a new one")
			c.clearSaved(ctx)
		} else {
			log.Info().Str("peer_id", saved.PeerID).Msg("[SDK] Restoring saved session")
		}
	}
	if s == nil {
		s, err = walletconnect.NewSession(c.sessionConfig())
		if err != nil {
			return nil, err
		}
		log.Info().Msg("[SDK] Created new session")
	}

	s.Subscribe(func(ev walletconnect.Event) { c.onSessionEvent(s, ev) })

	c.mu.Lock()
	prev := c.session
	c.session = s
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return s, nil
}

// completeConnect runs Connect on s, retrying transport failures with backoff.
func (c *Client) completeConnect(ctx context.Context, s *walletconnect.Session) (*walletconnect.SessionData, error) {
	attempts := c.config.ConnectRetryCount
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 && c.isClosed() {
			return nil, ErrClientClosed
		}
		data, err := s.Connect(ctx)
		if err == nil {
			log.Info().Strs("accounts", data.Accounts).Int("chain_id", data.ChainID).Msg("[SDK] Connected")
			c.listeners.connected.emit("connected", data)
			return data, nil
		}
		last = err
		if errors.Is(err, walletconnect.ErrSessionClosed) {
			log.Debug().Msg("[SDK] Session closed while connecting")
			return nil, err
		}
		if !walletconnect.IsRetryable(err) {
			log.Warn().Err(err).Msg("[SDK] Connect failed")
			c.listeners.connectFailed.emit("connect_failed", err)
			return nil, err
		}

		log.Warn().Err(err).Int("attempt", attempt).Int("of", attempts).Msg("[SDK] Connect attempt failed")
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, NextBackoffDelay(c.config.Backoff, attempt, c.rng)); err != nil {
			return nil, err
		}
	}

	_ = s.CloseTransport()
	err := &walletconnect.ExhaustedRetriesError{Attempts: attempts, Last: last}
	log.Error().Err(err).Msg("[SDK] Giving up on connect")
	c.listeners.connectFailed.emit("connect_failed", err)
	return nil, err
}

func (c *Client) onSessionEvent(s *walletconnect.Session, ev walletconnect.Event) {
	switch ev.Kind {
	case walletconnect.EventCreated:
		c.listeners.created.emit("session_created", ev.Data)
	case walletconnect.EventResumed:
		c.listeners.resumed.emit("session_resumed", ev.Data)
	case walletconnect.EventUpdated:
		c.listeners.updated.emit("session_updated", ev.Data)
	case walletconnect.EventReadyForPrompt:
		c.listeners.readyForPrompt.emit("ready_for_prompt", s.URI())
	case walletconnect.EventTransportClosed:
		c.listeners.transportClosed.emit("transport_closed", ev.Err)
		if c.config.AutoSaveAndResume && c.isCurrent(s) {
			c.goBackground("resume", func(ctx context.Context) error {
				_, err := c.Connect(ctx)
				return err
			})
		}
	case walletconnect.EventDisconnected:
		c.listeners.disconnected.emit("disconnected", ev)
		if ev.PeerInitiated && ev.Err == nil && c.isCurrent(s) {
			c.onPeerDisconnect()
		}
	}
}

func (c *Client) onPeerDisconnect() {
	log.Info().Msg("[SDK] Wallet ended the session")
	if c.config.AutoSaveAndResume {
		c.clearSaved(c.ctx)
	}
	if c.config.CreateNewSessionOnDisconnect {
		c.goBackground("new session", func(ctx context.Context) error {
			_, err := c.Connect(ctx)
			return err
		})
	}
}

// goBackground runs fn on the client's context until Shutdown.
func (c *Client) goBackground(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.waitGroup.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.waitGroup.Done()
		if err := fn(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("task", name).Msg("[SDK] Background connect failed")
		}
	}()
}

func (c *Client) isCurrent(s *walletconnect.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session == s
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) clearSaved(ctx context.Context) {
	if err := c.config.Store.Clear(ctx); err != nil {
		log.Warn().Err(err).Msg("[SDK] Failed to clear saved session")
	}
}

// Suspend is called when the application goes to the background. With
// auto-save the session is saved and the transport closed so it can resume;
// without it the session is disconnected. A pairing still waiting on the
// wallet is abandoned.
func (c *Client) Suspend(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.saveOrDisconnect(ctx)
}

func (c *Client) saveOrDisconnect(ctx context.Context) error {
	s := c.Session()
	if s == nil {
		return nil
	}
	if !s.Connected() {
		if s.Connecting() {
			// releases the Connect waiting on the wallet
			log.Info().Msg("[SDK] Abandoning pairing in progress")
			return s.CloseTransport()
		}
		return nil
	}
	if !c.config.AutoSaveAndResume {
		log.Info().Msg("[SDK] Suspending without auto-save, disconnecting")
		return s.Disconnect(ctx)
	}

	log.Info().Msg("[SDK] Saving session and closing transport")
	if err := c.config.Store.Save(ctx, s.SavedSession()); err != nil {
		log.Warn().Err(err).Msg("[SDK] Failed to save session")
	}
	return s.CloseTransport()
}

// Resume reconnects after Suspend. Without auto-save there is nothing to
// resume and it returns (nil, nil).
func (c *Client) Resume(ctx context.Context) (*walletconnect.SessionData, error) {
	if !c.config.AutoSaveAndResume {
		return nil, nil
	}
	return c.Connect(ctx)
}

// CloseSession disconnects the current session and, when waitForNewSession is
// set, starts pairing a new one.
func (c *Client) CloseSession(ctx context.Context, waitForNewSession bool) (*walletconnect.SessionData, error) {
	s := c.Session()
	if s == nil {
		return nil, ErrNoSession
	}
	if err := s.Disconnect(ctx); err != nil {
		return nil, err
	}
	if !waitForNewSession {
		return nil, nil
	}
	if err := c.waitForConnect(ctx); err != nil {
		return nil, err
	}
	return c.Connect(ctx)
}

// ConnectURI returns the pairing URI of the current session.
func (c *Client) ConnectURI() string {
	s := c.Session()
	if s == nil {
		return ""
	}
	return s.URI()
}

// OpenWallet hands the pairing URI to the configured URLOpener. It only makes
// sense while the session request is waiting for the wallet.
func (c *Client) OpenWallet(ctx context.Context) error {
	if c.config.URLOpener == nil {
		return ErrNoURLOpener
	}
	s := c.Session()
	if s == nil {
		return ErrNoSession
	}
	if !s.ReadyForUserPrompt() {
		return ErrNotReadyForPrompt
	}
	return c.config.URLOpener.OpenURL(ctx, s.URI())
}

// Shutdown saves or disconnects the session, stops background work and
// releases the store. It is idempotent.
func (c *Client) Shutdown(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		log.Debug().Msg("[SDK] Shutting down client")

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.cancel()

		c.connectMu.Lock()
		err = c.saveOrDisconnect(ctx)
		c.connectMu.Unlock()

		stopped := make(chan struct{})
		go func() {
			c.waitGroup.Wait()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-ctx.Done():
			err = errors.Join(err, ctx.Err())
		}

		if s := c.Session(); s != nil {
			s.Close()
		}
		if closer, ok := c.config.Store.(io.Closer); ok {
			if cerr := closer.Close(); cerr != nil {
				err = errors.Join(err, cerr)
			}
		}
	})
	return err
}
