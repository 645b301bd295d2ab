package walletconnect

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// EventKind identifies a session lifecycle notification.
type EventKind int

const (
	EventCreated EventKind = iota + 1
	EventResumed
	EventUpdated
	EventDisconnected
	EventTransportClosed
	EventReadyForPrompt
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventResumed:
		return "resumed"
	case EventUpdated:
		return "updated"
	case EventDisconnected:
		return "disconnected"
	case EventTransportClosed:
		return "transport_closed"
	case EventReadyForPrompt:
		return "ready_for_prompt"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers. Data is set for created, resumed and updated;
// Err is set for disconnects caused by a failure; PeerInitiated marks disconnects
// the wallet started.
type Event struct {
	Kind          EventKind
	Data          *SessionData
	Err           error
	PeerInitiated bool
}

// eventBus delivers events one at a time, in the order they were emitted, on a
// dedicated goroutine. Handlers may call back into the session.
type eventBus struct {
	mu     sync.Mutex
	subs   map[uint64]func(Event)
	nextID uint64

	queue  []Event
	wake   chan struct{}
	stopch chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newEventBus() *eventBus {
	b := &eventBus{
		subs:   make(map[uint64]func(Event)),
		wake:   make(chan struct{}, 1),
		stopch: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *eventBus) subscribe(fn func(Event)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *eventBus) emit(ev Event) {
	b.mu.Lock()
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *eventBus) run() {
	defer close(b.done)
	for {
		select {
		case <-b.wake:
		case <-b.stopch:
			b.flush()
			return
		}
		b.flush()
	}
}

func (b *eventBus) flush() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		ids := make([]uint64, 0, len(b.subs))
		for id := range b.subs {
			ids = append(ids, id)
		}
		b.mu.Unlock()

		slices.Sort(ids)
		for _, id := range ids {
			b.mu.Lock()
			fn, ok := b.subs[id]
			b.mu.Unlock()
			if !ok {
				continue
			}
			b.deliver(fn, ev)
		}
	}
}

func (b *eventBus) deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("[Session] event handler panicked")
		}
	}()
	fn(ev)
}

// close stops the dispatcher once whatever is queued has been delivered.
// It does not wait, so it is safe to call from inside a handler.
func (b *eventBus) close() {
	b.once.Do(func() { close(b.stopch) })
}
