// Package pool dispatches queries over a fixed set of authenticated
// connections.
//
// A Pool starts one worker per connection. Workers share a single FIFO
// queue; each takes one request at a time, sends it, waits for the reply and
// hands the raw reply back to the submitter through a Correlator. There is no
// ordering guarantee between requests handled by different workers.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sblgo/sbl/internal/queue"
	"github.com/sblgo/sbl/internal/rand"
	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/transport"
)

// DialFunc opens the transport of one worker.
type DialFunc func(ctx context.Context, cfg *connection.Config) (transport.Transport, error)

// Option configures a Pool.
type Option func(p *Pool)

// WithRegisterer registers the pool metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.registerer = reg
	}
}

// WithRespawn reopens the connection of a dead worker according to policy.
func WithRespawn(policy RespawnPolicy) Option {
	return func(p *Pool) {
		p.respawn = policy
	}
}

// WithDialer replaces connection.Dial.
func WithDialer(dial DialFunc) Option {
	return func(p *Pool) {
		p.dial = dial
	}
}

// WithLogger sets the logger of the pool and its workers.
func WithLogger(l logger.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// Pool multiplexes requests over a fixed set of authenticated workers.
type Pool struct {
	cfg        *connection.Config
	logger     logger.Logger
	queue      *queue.Queue[workItem]
	correlator *Correlator
	metrics    *metrics
	registerer prometheus.Registerer
	registered []prometheus.Collector
	respawn    RespawnPolicy
	dial       DialFunc

	// ctx bounds every worker I/O; it is cancelled once the pool is closed.
	ctx    context.Context
	cancel context.CancelFunc
	// stop interrupts respawn backoffs.
	stop chan struct{}
	wg   sync.WaitGroup

	mu           sync.Mutex
	live         int
	respawning   int
	closing      bool
	exhausted    bool
	nextWorkerID int
}

// New opens cfg.PoolSize connections concurrently and starts a worker on
// each. If any connection fails to open, the ones already open are closed
// and the error is returned.
func New(ctx context.Context, cfg *connection.Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:        cfg,
		logger:     cfg.Log(),
		queue:      queue.New[workItem](),
		correlator: NewCorrelator(),
		metrics:    newMetrics(),
		dial:       connection.Dial,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.registerer != nil {
		registered, err := p.metrics.register(p.registerer)
		p.registered = registered
		if err != nil {
			p.unregister()
			return nil, fmt.Errorf("register pool metrics: %w", err)
		}
	}

	workers := make([]*worker, cfg.PoolSize)
	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			w, err := p.openWorker(gctx)
			if err != nil {
				return err
			}
			workers[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, w := range workers {
			if w != nil {
				w.close(p.logger)
			}
		}
		p.unregister()
		return nil, err
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	for _, w := range workers {
		p.startWorkerLocked(w)
	}
	p.mu.Unlock()

	p.logger.Info("pool started", "workers", cfg.PoolSize, "url", cfg.URL)

	return p, nil
}

// Submit queues sql for execution and waits for the reply.
//
// The reply is returned as received: a top-level error or a failed statement
// inside it is not reported as an error. Use Query for that. When ctx ends
// first, Submit returns ctx.Err() but the request is still executed and its
// reply discarded.
func (p *Pool) Submit(ctx context.Context, sql string, vars map[string]any) (*connection.RawResponse, error) {
	if err := p.unavailable(); err != nil {
		return nil, err
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	pending, err := p.correlator.Register(id)
	if err != nil {
		return nil, err
	}

	item := workItem{
		id:      id,
		request: connection.NewRequest(id, connection.Query, connection.QueryParams(sql, vars)...),
	}
	if err := p.queue.Put(item); err != nil {
		p.correlator.Discard(id)
		if uerr := p.unavailable(); uerr != nil {
			return nil, uerr
		}
		return nil, err
	}
	p.metrics.submitted.Inc()

	payload, err := pending.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			p.metrics.completed.WithLabelValues(outcomeCancelled).Inc()
		} else {
			p.metrics.completed.WithLabelValues(outcomeError).Inc()
		}
		return nil, err
	}

	res, err := connection.ParseRawResponse(payload)
	if err != nil {
		p.metrics.completed.WithLabelValues(outcomeError).Inc()
		return nil, err
	}
	if replyID, ok := res.ID(); ok && replyID != id {
		p.logger.Warn("reply id does not match request", "request", id, "reply", replyID)
	}

	p.metrics.completed.WithLabelValues(outcomeOK).Inc()
	return res, nil
}

// Query submits sql and decodes the first statement's result into a T.
// Unlike Submit it reports a top-level error as *connection.RPCError and a
// failed statement as *connection.StatementError.
func Query[T any](ctx context.Context, p *Pool, sql string, vars map[string]any) (T, error) {
	var zero T

	res, err := p.Submit(ctx, sql, vars)
	if err != nil {
		return zero, err
	}

	stmts, err := res.Statements()
	if err != nil {
		return zero, err
	}
	return connection.DecodeFirst[T](stmts)
}

// Statements submits sql and returns every statement's result, discriminated
// like Query.
func (p *Pool) Statements(ctx context.Context, sql string, vars map[string]any) ([]connection.QueryResult[json.RawMessage], error) {
	res, err := p.Submit(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	return res.Statements()
}

// Workers returns the number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Pending returns the number of requests awaiting a reply.
func (p *Pool) Pending() int {
	return p.correlator.Len()
}

// Close stops the pool. Requests queued before Close are still executed;
// every live worker then receives exactly one shutdown item. If ctx ends
// before the workers are done, in-flight requests are aborted. Items left in
// the queue fail with constants.ErrPoolClosed. Close is idempotent.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	live := p.live
	close(p.stop)
	p.mu.Unlock()

	for range live {
		if err := p.queue.Put(workItem{shutdown: true}); err != nil {
			break
		}
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		p.logger.Warn("pool close timed out, aborting in-flight requests", "error", err)
		p.cancel()
		<-done
	}
	p.cancel()

	p.drain(constants.ErrPoolClosed)
	p.unregister()

	p.logger.Info("pool closed")

	return err
}

func (p *Pool) unavailable() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.closing:
		return constants.ErrPoolClosed
	case p.exhausted:
		return constants.ErrPoolExhausted
	}
	return nil
}

// drain closes the queue and fails every request still in it.
func (p *Pool) drain(cause error) {
	for _, item := range p.queue.Close() {
		if item.shutdown {
			continue
		}
		p.fail(item.id, cause)
	}
}

func (p *Pool) fail(id string, cause error) {
	if err := p.correlator.Fail(id, cause); err != nil {
		p.logger.Error("failed to fail request", "id", id, "cause", cause, "error", err)
	}
}

func (p *Pool) unregister() {
	if p.registerer == nil {
		return
	}
	for _, c := range p.registered {
		p.registerer.Unregister(c)
	}
	p.registered = nil
}

// isTransportFailure reports whether err came from the websocket rather than
// from preparing the request.
func isTransportFailure(err error) bool {
	var transportErr *connection.TransportError
	return errors.As(err, &transportErr)
}
