package sdk

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect"
)

// listenerList holds callbacks of one kind. Callbacks run in registration order.
type listenerList[T any] struct {
	mu     sync.Mutex
	nextID int
	fns    map[int]func(T)
}

func (l *listenerList[T]) add(fn func(T)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	l.nextID++
	id := l.nextID
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.fns, id)
		l.mu.Unlock()
	}
}

func (l *listenerList[T]) emit(name string, v T) {
	l.mu.Lock()
	ids := make([]int, 0, len(l.fns))
	for id := range l.fns {
		ids = append(ids, id)
	}
	l.mu.Unlock()
	slices.Sort(ids)

	for _, id := range ids {
		l.mu.Lock()
		fn, ok := l.fns[id]
		l.mu.Unlock()
		if ok {
			callListener(name, fn, v)
		}
	}
}

func callListener[T any](name string, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("listener", name).Msg("[SDK] listener panicked")
		}
	}()
	fn(v)
}

type listeners struct {
	connected       listenerList[*walletconnect.SessionData]
	created         listenerList[*walletconnect.SessionData]
	resumed         listenerList[*walletconnect.SessionData]
	updated         listenerList[*walletconnect.SessionData]
	disconnected    listenerList[walletconnect.Event]
	transportClosed listenerList[error]
	readyForPrompt  listenerList[string]
	connectFailed   listenerList[error]
}

// OnConnected fires after every successful Connect, whether paired or resumed.
func (c *Client) OnConnected(fn func(*walletconnect.SessionData)) (remove func()) {
	return c.listeners.connected.add(fn)
}

// OnSessionCreated fires when a wallet approves a new session.
func (c *Client) OnSessionCreated(fn func(*walletconnect.SessionData)) (remove func()) {
	return c.listeners.created.add(fn)
}

// OnSessionResumed fires when a saved session reconnects without a handshake.
func (c *Client) OnSessionResumed(fn func(*walletconnect.SessionData)) (remove func()) {
	return c.listeners.resumed.add(fn)
}

// OnSessionUpdated fires when the wallet changes accounts or chain.
func (c *Client) OnSessionUpdated(fn func(*walletconnect.SessionData)) (remove func()) {
	return c.listeners.updated.add(fn)
}

// OnDisconnected fires when a session ends; Event.PeerInitiated tells who ended it.
func (c *Client) OnDisconnected(fn func(walletconnect.Event)) (remove func()) {
	return c.listeners.disconnected.add(fn)
}

// OnTransportClosed fires when the bridge connection drops under a live session.
func (c *Client) OnTransportClosed(fn func(error)) (remove func()) {
	return c.listeners.transportClosed.add(fn)
}

// OnReadyForPrompt receives the connection URI once the session request is
// waiting for the wallet.
func (c *Client) OnReadyForPrompt(fn func(uri string)) (remove func()) {
	return c.listeners.readyForPrompt.add(fn)
}

// OnConnectFailed fires when a connect attempt gives up.
func (c *Client) OnConnectFailed(fn func(error)) (remove func()) {
	return c.listeners.connectFailed.add(fn)
}
