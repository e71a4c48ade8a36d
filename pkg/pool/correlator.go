package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
)

// PendingResult is a write-once slot for the reply to one request.
type PendingResult struct {
	done chan struct{}

	mu      sync.Mutex
	settled bool
	payload []byte
	err     error
}

func newPendingResult() *PendingResult {
	return &PendingResult{done: make(chan struct{})}
}

func (p *PendingResult) settle(payload []byte, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settled {
		return constants.ErrAlreadyResolved
	}
	p.settled = true
	p.payload, p.err = payload, err
	close(p.done)

	return nil
}

// Done is closed once the result has been settled.
func (p *PendingResult) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the result is settled or ctx is done. Giving up on ctx
// does not cancel the request.
func (p *PendingResult) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.payload, p.err
}

// Correlator maps outstanding request ids to their pending results.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*PendingResult
}

// NewCorrelator returns an empty Correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*PendingResult)}
}

// Register creates the pending result for id.
func (c *Correlator) Register(id string) (*PendingResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return nil, fmt.Errorf("%w: %s", constants.ErrIDInUse, id)
	}
	p := newPendingResult()
	c.pending[id] = p

	return p, nil
}

// Resolve settles id with payload and forgets it.
func (c *Correlator) Resolve(id string, payload []byte) error {
	return c.settle(id, payload, nil)
}

// Fail settles id with err and forgets it.
func (c *Correlator) Fail(id string, err error) error {
	return c.settle(id, nil, err)
}

func (c *Correlator) settle(id string, payload []byte, err error) error {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if !ok {
		return &connection.ProtocolError{
			Message: fmt.Sprintf("no pending request with id %q", id),
			Err:     constants.ErrUnknownID,
		}
	}
	return p.settle(payload, err)
}

// Discard forgets id without settling it. It is used when the request never
// reached the queue.
func (c *Correlator) Discard(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// Len returns the number of outstanding requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
