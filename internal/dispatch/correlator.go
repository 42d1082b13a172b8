package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wbridge/internal/envelope"
)

// ErrTimeout is returned when a correlated reply does not arrive in time.
var ErrTimeout = errors.New("timed out waiting for reply")

// Correlator matches client replies to requests the bridge sent, by request id.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan *envelope.Envelope
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan *envelope.Envelope)}
}

// Expect registers id and returns the channel its reply is delivered on.
func (c *Correlator) Expect(id string) <-chan *envelope.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.pending[id]
	if !ok {
		ch = make(chan *envelope.Envelope, 1)
		c.pending[id] = ch
	}
	return ch
}

// Resolve delivers env to the request it answers. The id is taken from the
// envelope itself or from its ack. It reports whether a request was waiting.
func (c *Correlator) Resolve(env *envelope.Envelope) bool {
	id := env.ID
	if id == "" && env.Ack != nil {
		id = env.Ack.ID
	}
	return c.ResolveID(id, env)
}

// ResolveID delivers env to the request registered under id.
func (c *Correlator) ResolveID(id string, env *envelope.Envelope) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- env:
	default:
	}
	return true
}

// Cancel forgets id.
func (c *Correlator) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Len returns the number of requests waiting for a reply.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Wait blocks until the reply on ch, obtained from Expect(id), arrives or the
// timeout passes or ctx ends. id is forgotten in every case.
func (c *Correlator) Wait(ctx context.Context, id string, ch <-chan *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	defer c.Cancel(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-ch:
		return env, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s: %w", id, ErrTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
