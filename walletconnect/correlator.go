package walletconnect

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultRequestTimeout bounds how long a request waits for the wallet. Wallet
// prompts need a human, so this is deliberately long.
const DefaultRequestTimeout = 5 * time.Minute

// Pending is an outstanding request awaiting its correlated response.
// It completes exactly once.
type Pending struct {
	id        uint64
	method    string
	createdAt time.Time

	done   chan struct{}
	result json.RawMessage
	err    error

	owner *Correlator
}

func (p *Pending) ID() uint64           { return p.id }
func (p *Pending) Method() string       { return p.method }
func (p *Pending) CreatedAt() time.Time { return p.createdAt }

// Done is closed once the request resolved or was rejected.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Valid only after Done is closed.
func (p *Pending) Result() (json.RawMessage, error) {
	return p.result, p.err
}

// Wait blocks until the request completes. If ctx ends first the request is
// rejected with the context error and removed from the pending set.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if p.owner != nil {
			p.owner.Reject(p.id, ctx.Err())
		}
		<-p.done
	}
	return p.result, p.err
}

// Decode waits for the result and unmarshals it into out.
func (p *Pending) Decode(ctx context.Context, out any) error {
	raw, err := p.Wait(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", ErrProtocol, p.method, err)
	}
	return nil
}

func (p *Pending) complete(result json.RawMessage, err error) {
	p.result, p.err = result, err
	close(p.done)
}

// Correlator matches responses to pending requests by id.
type Correlator struct {
	mu      sync.Mutex
	pending map[uint64]*Pending
	timeout time.Duration
	now     func() time.Time
}

// NewCorrelator creates a correlator; timeout <= 0 selects DefaultRequestTimeout.
func NewCorrelator(timeout time.Duration) *Correlator {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Correlator{
		pending: make(map[uint64]*Pending),
		timeout: timeout,
		now:     time.Now,
	}
}

// Timeout returns the per-request deadline.
func (c *Correlator) Timeout() time.Duration {
	return c.timeout
}

// Register stores a pending request under id. Expired requests are swept first.
func (c *Correlator) Register(id uint64, method string) (*Pending, error) {
	c.Sweep()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return nil, fmt.Errorf("%w: id=%d", ErrDuplicateRequest, id)
	}
	p := &Pending{
		id:        id,
		method:    method,
		createdAt: c.now(),
		done:      make(chan struct{}),
		owner:     c,
	}
	c.pending[id] = p
	return p, nil
}

func (c *Correlator) take(id uint64) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// Resolve completes the request with a result. Unknown ids are logged and ignored.
func (c *Correlator) Resolve(id uint64, result json.RawMessage) bool {
	p := c.take(id)
	if p == nil {
		log.Warn().Uint64("id", id).Msg("[Correlator] response for unknown request ignored")
		return false
	}
	p.complete(result, nil)
	return true
}

// Reject completes the request with an error. Unknown ids are logged and ignored.
func (c *Correlator) Reject(id uint64, err error) bool {
	p := c.take(id)
	if p == nil {
		log.Debug().Uint64("id", id).Err(err).Msg("[Correlator] reject for unknown request ignored")
		return false
	}
	p.complete(nil, err)
	return true
}

// Sweep rejects every request older than the timeout and returns how many it rejected.
func (c *Correlator) Sweep() int {
	now := c.now()

	c.mu.Lock()
	var expired []*Pending
	for id, p := range c.pending {
		if now.Sub(p.createdAt) >= c.timeout {
			expired = append(expired, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, p := range expired {
		log.Debug().Uint64("id", p.id).Str("method", p.method).Msg("[Correlator] request timed out")
		p.complete(nil, fmt.Errorf("%w: %s (id=%d) after %s", ErrTimeout, p.method, p.id, c.timeout))
	}
	return len(expired)
}

// DrainAll rejects every pending request with err.
func (c *Correlator) DrainAll(err error) int {
	c.mu.Lock()
	drained := make([]*Pending, 0, len(c.pending))
	for id, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()

	for _, p := range drained {
		p.complete(nil, err)
	}
	return len(drained)
}

// Len returns the number of pending requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run sweeps periodically until ctx is done.
func (c *Correlator) Run(ctx context.Context) {
	interval := c.timeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
