// Package bridge implements a relay that routes encrypted envelopes between a
// dapp and a wallet by topic. It never sees plaintext: payloads are opaque.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"gosuda.org/walletconnect/walletconnect/core/wcproto"
)

var ErrServerClosed = errors.New("bridge server closed")

// Config controls message retention and per-connection limits.
type Config struct {
	// QueueTTL is how long a message waits for a subscriber when the
	// envelope carries no ttl.
	QueueTTL time.Duration
	// MaxQueuePerTopic bounds the backlog of one topic; the oldest message is dropped.
	MaxQueuePerTopic int
	WriteTimeout     time.Duration
	// PruneInterval is how often expired messages are dropped.
	PruneInterval time.Duration
	// PublishRate bounds the envelopes per second a single peer may publish,
	// with bursts up to PublishBurst. Zero disables the limit.
	PublishRate  int
	PublishBurst int
}

func (c *Config) applyDefaults() {
	if c.QueueTTL <= 0 {
		c.QueueTTL = 24 * time.Hour
	}
	if c.MaxQueuePerTopic <= 0 {
		c.MaxQueuePerTopic = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Minute
	}
}

type queued struct {
	env     wcproto.Envelope
	expires time.Time
}

type peer struct {
	conn    *websocket.Conn
	remote  string
	topics  map[string]struct{}
	limiter *bucket
}

// Stats is a point-in-time view of the bridge.
type Stats struct {
	Peers  int `json:"peers"`
	Topics int `json:"topics"`
	Queued int `json:"queued"`
	// Throttled counts publishes dropped by the per-peer rate limit.
	Throttled int `json:"throttled"`
}

// Server routes envelopes between websocket peers.
type Server struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	peers     map[*peer]struct{}
	subs      map[string]map[*peer]struct{}
	queues    map[string][]queued
	closed    bool
	throttled int

	stopch    chan struct{}
	waitGroup sync.WaitGroup
	closeOnce sync.Once
}

// NewServer creates a bridge and starts its prune loop.
func NewServer(cfg Config) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:    cfg,
		now:    time.Now,
		peers:  make(map[*peer]struct{}),
		subs:   make(map[string]map[*peer]struct{}),
		queues: make(map[string][]queued),
		stopch: make(chan struct{}),
	}
	s.waitGroup.Add(1)
	go s.pruneLoop()
	return s
}

// Handler returns the bridge HTTP routes. The websocket endpoint is the root path.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Hello World, this is WalletConnect"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.isClosed() {
			http.Error(w, "closed", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.Stats())
	})
	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Redirect(w, r, "/hello", http.StatusFound)
		return
	}
	s.ServeWS(w, r)
}

// ServeWS upgrades the request and serves the peer until it disconnects.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	if s.isClosed() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Debug().Err(err).Msg("[Bridge] websocket accept failed")
		return
	}

	p := &peer{
		conn:    conn,
		remote:  r.RemoteAddr,
		topics:  make(map[string]struct{}),
		limiter: newBucket(int64(s.cfg.PublishRate), int64(s.cfg.PublishBurst), s.clock()),
	}
	if !s.addPeer(p) {
		conn.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	log.Debug().Str("remote", p.remote).Msg("[Bridge] peer connected")

	// connection-scoped context, not tied to the HTTP request lifecycle
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		s.removePeer(p)
		conn.Close(websocket.StatusNormalClosure, "")
		log.Debug().Str("remote", p.remote).Msg("[Bridge] peer disconnected")
	}()

	for {
		var env wcproto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			var ce websocket.CloseError
			if !errors.As(err, &ce) && !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("remote", p.remote).Msg("[Bridge] read failed")
			}
			return
		}
		s.handleEnvelope(ctx, p, env)
	}
}

func (s *Server) handleEnvelope(ctx context.Context, p *peer, env wcproto.Envelope) {
	if env.Topic == "" {
		log.Debug().Str("remote", p.remote).Msg("[Bridge] envelope without topic dropped")
		return
	}
	switch env.Type {
	case wcproto.TypeSub:
		s.subscribe(ctx, p, env.Topic)
	case wcproto.TypePub:
		if !p.limiter.allow(s.clock()) {
			s.mu.Lock()
			s.throttled++
			s.mu.Unlock()
			log.Warn().Str("remote", p.remote).Str("topic", env.Topic).Msg("[Bridge] publish rate exceeded, envelope dropped")
			return
		}
		s.publish(ctx, env)
	case wcproto.TypeAck:
	default:
		log.Debug().Str("type", env.Type).Msg("[Bridge] unknown envelope type dropped")
	}
}

func (s *Server) subscribe(ctx context.Context, p *peer, topic string) {
	s.mu.Lock()
	now := s.now()
	set, ok := s.subs[topic]
	if !ok {
		set = make(map[*peer]struct{})
		s.subs[topic] = set
	}
	set[p] = struct{}{}
	p.topics[topic] = struct{}{}
	backlog := s.queues[topic]
	delete(s.queues, topic)
	s.mu.Unlock()

	log.Debug().Str("topic", topic).Int("backlog", len(backlog)).Msg("[Bridge] subscribed")
	for _, q := range backlog {
		if now.After(q.expires) {
			continue
		}
		s.write(ctx, p, q.env)
	}
}

func (s *Server) publish(ctx context.Context, env wcproto.Envelope) {
	s.mu.Lock()
	targets := make([]*peer, 0, len(s.subs[env.Topic]))
	for p := range s.subs[env.Topic] {
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		ttl := s.cfg.QueueTTL
		if env.TTL > 0 {
			ttl = time.Duration(env.TTL) * time.Second
		}
		q := append(s.queues[env.Topic], queued{env: env, expires: s.now().Add(ttl)})
		if len(q) > s.cfg.MaxQueuePerTopic {
			q = q[len(q)-s.cfg.MaxQueuePerTopic:]
		}
		s.queues[env.Topic] = q
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		log.Debug().Str("topic", env.Topic).Msg("[Bridge] no subscriber, message queued")
		return
	}
	for _, p := range targets {
		s.write(ctx, p, env)
	}
}

func (s *Server) write(ctx context.Context, p *peer, env wcproto.Envelope) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, p.conn, env); err != nil {
		log.Debug().Err(err).Str("remote", p.remote).Str("topic", env.Topic).Msg("[Bridge] write failed")
	}
}

func (s *Server) addPeer(p *peer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.peers[p] = struct{}{}
	return true
}

func (s *Server) removePeer(p *peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, p)
	for topic := range p.topics {
		if set, ok := s.subs[topic]; ok {
			delete(set, p)
			if len(set) == 0 {
				delete(s.subs, topic)
			}
		}
	}
}

func (s *Server) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) pruneLoop() {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopch:
			return
		case <-ticker.C:
			if n := s.Prune(); n > 0 {
				log.Debug().Int("count", n).Msg("[Bridge] pruned expired messages")
			}
		}
	}
}

// Prune drops expired queued messages and returns how many it dropped.
func (s *Server) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dropped := 0
	for topic, q := range s.queues {
		kept := q[:0]
		for _, m := range q {
			if now.After(m.expires) {
				dropped++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.queues, topic)
		} else {
			s.queues[topic] = kept
		}
	}
	return dropped
}

// Stats reports connected peers, subscribed topics and queued messages.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Peers: len(s.peers), Topics: len(s.subs), Throttled: s.throttled}
	for _, q := range s.queues {
		st.Queued += len(q)
	}
	return st
}

// Close disconnects every peer and stops the prune loop. It is idempotent.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		peers := make([]*peer, 0, len(s.peers))
		for p := range s.peers {
			peers = append(peers, p)
		}
		s.mu.Unlock()

		close(s.stopch)
		for _, p := range peers {
			p.conn.Close(websocket.StatusGoingAway, "server closing")
		}
		s.waitGroup.Wait()
		log.Info().Int("peers", len(peers)).Msg("[Bridge] server closed")
	})
	return nil
}
