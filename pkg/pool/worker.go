package pool

import (
	"context"
	"time"

	"github.com/sblgo/sbl/internal/codec"
	"github.com/sblgo/sbl/pkg/connection"
	"github.com/sblgo/sbl/pkg/constants"
	"github.com/sblgo/sbl/pkg/logger"
	"github.com/sblgo/sbl/pkg/transport"
)

type workItem struct {
	id      string
	request *connection.RPCRequest
	// shutdown marks the item that tells one worker to exit.
	shutdown bool
}

type worker struct {
	id      int
	t       transport.Transport
	session *connection.Session
}

func (w *worker) close(log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultCloseTimeout)
	defer cancel()
	if err := w.t.Close(ctx); err != nil {
		log.Debug("failed to close worker connection", "worker", w.id, "error", err)
	}
}

// openWorker dials and authenticates one connection.
func (p *Pool) openWorker(ctx context.Context) (*worker, error) {
	t, err := p.dial(ctx, p.cfg)
	if err != nil {
		return nil, err
	}

	id, err := connection.NewConnectionID()
	if err != nil {
		w := &worker{t: t}
		w.close(p.logger)
		return nil, err
	}

	session, err := connection.Handshake(ctx, t, p.cfg, id)
	if err != nil {
		w := &worker{t: t}
		w.close(p.logger)
		return nil, err
	}

	return &worker{t: t, session: session}, nil
}

// startWorkerLocked must be called with p.mu held.
func (p *Pool) startWorkerLocked(w *worker) {
	p.nextWorkerID++
	w.id = p.nextWorkerID
	p.live++
	p.metrics.workers.Set(float64(p.live))

	p.wg.Add(1)
	go p.runWorker(w)
}

func (p *Pool) runWorker(w *worker) {
	defer p.wg.Done()

	p.logger.Debug("worker started", "worker", w.id, "session", w.session.ID)

	for {
		item, err := p.queue.Get(p.ctx)
		if err != nil {
			p.retire(w, nil)
			return
		}
		if item.shutdown {
			p.retire(w, nil)
			return
		}
		if err := p.process(w, item); err != nil {
			p.retire(w, err)
			return
		}
	}
}

// process runs one request. It returns an error only when the connection
// can no longer be used.
func (p *Pool) process(w *worker, item workItem) error {
	data, err := codec.JSON.Marshal(item.request)
	if err != nil {
		p.fail(item.id, err)
		return nil
	}

	ctx := p.ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	p.metrics.inFlight.Inc()
	defer p.metrics.inFlight.Dec()
	start := time.Now()

	if err := w.t.Send(ctx, data); err != nil {
		terr := &connection.TransportError{Op: "send", Err: err}
		p.fail(item.id, terr)
		return terr
	}

	reply, err := w.t.Receive(ctx)
	if err != nil {
		// without the reply the connection can no longer be realigned
		terr := &connection.TransportError{Op: "receive", Err: err}
		p.fail(item.id, terr)
		return terr
	}
	p.metrics.duration.Observe(time.Since(start).Seconds())

	if err := p.correlator.Resolve(item.id, reply); err != nil {
		p.logger.Error("reply for unknown request", "worker", w.id, "id", item.id, "error", err)
	}

	return nil
}

// retire closes the worker's connection. A worker that died on a transport
// failure is respawned if a policy is set; otherwise the pool shrinks and,
// once no worker is left, every queued request fails with ErrPoolExhausted.
func (p *Pool) retire(w *worker, cause error) {
	w.close(p.logger)

	p.mu.Lock()
	p.live--
	p.metrics.workers.Set(float64(p.live))

	if cause == nil || p.closing {
		p.mu.Unlock()
		p.logger.Debug("worker stopped", "worker", w.id)
		return
	}

	p.logger.Error("worker terminated", "worker", w.id, "session", w.session.ID, "error", cause)

	if p.respawn != nil && isTransportFailure(cause) {
		p.respawning++
		p.wg.Add(1)
		p.mu.Unlock()
		go p.respawnWorker(cause)
		return
	}

	exhausted := p.markExhaustedLocked()
	p.mu.Unlock()

	if exhausted {
		p.drain(constants.ErrPoolExhausted)
	}
}

func (p *Pool) respawnWorker(lastErr error) {
	defer p.wg.Done()

	for attempt := 0; ; attempt++ {
		delay, ok := p.respawn.NextDelay(attempt, lastErr)
		if !ok {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-p.stop:
			timer.Stop()
			p.mu.Lock()
			p.respawning--
			p.mu.Unlock()
			return
		case <-timer.C:
		}

		w, err := p.openWorker(p.ctx)
		if err != nil {
			lastErr = err
			p.metrics.respawns.WithLabelValues(outcomeError).Inc()
			p.logger.Warn("worker respawn failed", "attempt", attempt+1, "error", err)
			continue
		}
		p.metrics.respawns.WithLabelValues(outcomeOK).Inc()

		p.mu.Lock()
		p.respawning--
		if p.closing {
			p.mu.Unlock()
			w.close(p.logger)
			return
		}
		p.startWorkerLocked(w)
		p.mu.Unlock()

		p.logger.Info("worker respawned", "worker", w.id, "attempts", attempt+1)
		return
	}

	p.logger.Error("giving up on worker respawn", "error", lastErr)

	p.mu.Lock()
	p.respawning--
	exhausted := p.markExhaustedLocked()
	p.mu.Unlock()

	if exhausted {
		p.drain(constants.ErrPoolExhausted)
	}
}

// markExhaustedLocked must be called with p.mu held.
func (p *Pool) markExhaustedLocked() bool {
	if p.live > 0 || p.respawning > 0 || p.closing || p.exhausted {
		return false
	}
	p.exhausted = true
	p.logger.Error("no workers left, pool exhausted")
	return true
}
