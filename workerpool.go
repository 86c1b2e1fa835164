package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/essandess/gojobqueue/adapter"
	"github.com/essandess/gojobqueue/rpc"
)

// WorkerConnection is one live link to a sibling worker process that has
// dialled in to this node's controller (spec.md §4.5). currentLoad counts
// PerformJob commands outstanding on this connection.
type WorkerConnection struct {
	ID          string
	conn        *rpc.Conn
	currentLoad atomic.Int64
	logger      adapter.Logger

	mu      sync.Mutex
	pending map[uint64]chan performResult
	closed  bool
}

type performResult struct {
	err error
}

func newWorkerConnection(id string, conn *rpc.Conn, logger adapter.Logger) *WorkerConnection {
	wc := &WorkerConnection{
		ID:      id,
		conn:    conn,
		logger:  logger,
		pending: make(map[uint64]chan performResult),
	}
	go wc.readLoop()
	return wc
}

// CurrentLoad returns the number of PerformJob commands outstanding on this
// connection.
func (w *WorkerConnection) CurrentLoad() int64 {
	return w.currentLoad.Load()
}

// performJob sends a PerformJob command to this specific worker and waits
// for its reply.
func (w *WorkerConnection) performJob(ctx context.Context, jobID int64) error {
	corrID := w.conn.NextCorrelationID()
	replyCh := make(chan performResult, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrConnectionLost
	}
	w.pending[corrID] = replyCh
	w.mu.Unlock()

	w.currentLoad.Inc()
	defer w.currentLoad.Dec()

	if err := w.conn.Write(rpc.KindPerformJob, corrID, rpc.PerformJob{JobID: jobID}); err != nil {
		w.removePending(corrID)
		return fmt.Errorf("jobqueue: send PerformJob to worker %s: %w", w.ID, err)
	}

	select {
	case res := <-replyCh:
		return res.err
	case <-ctx.Done():
		w.removePending(corrID)
		return ctx.Err()
	}
}

func (w *WorkerConnection) removePending(corrID uint64) {
	w.mu.Lock()
	delete(w.pending, corrID)
	w.mu.Unlock()
}

func (w *WorkerConnection) readLoop() {
	for {
		frame, err := w.conn.Read()
		if err != nil {
			w.failAllPending(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}

		switch frame.Kind {
		case rpc.KindPerformJobReply:
			w.resolve(frame.CorrelationID, performResult{})
		case rpc.KindPerformJobError:
			w.resolve(frame.CorrelationID, performResult{err: fmt.Errorf("jobqueue: worker %s: %s", w.ID, string(frame.Body))})
		default:
			w.logger.Error("unexpected frame from worker", adapter.F("worker_id", w.ID), adapter.F("kind", frame.Kind))
		}
	}
}

func (w *WorkerConnection) resolve(corrID uint64, res performResult) {
	w.mu.Lock()
	ch, ok := w.pending[corrID]
	if ok {
		delete(w.pending, corrID)
	}
	w.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (w *WorkerConnection) failAllPending(err error) {
	w.mu.Lock()
	w.closed = true
	pending := w.pending
	w.pending = make(map[uint64]chan performResult)
	w.mu.Unlock()

	for _, ch := range pending {
		ch <- performResult{err: err}
	}
}

func (w *WorkerConnection) close() error {
	return w.conn.Close()
}

// WorkerConnectionPool is, per node, the set of connections from sibling
// worker processes that have dialled in (spec.md §4.5). It implements
// Performer by dispatching to the worker with the minimum current load.
type WorkerConnectionPool struct {
	mu         sync.Mutex
	workers    []*WorkerConnection
	maxPerConn int64
	logger     adapter.Logger
}

// NewWorkerConnectionPool creates an empty pool. maxPerConn is the maximum
// number of outstanding jobs any one worker connection may carry before it
// is considered at capacity.
func NewWorkerConnectionPool(maxPerConn int64, logger adapter.Logger) *WorkerConnectionPool {
	if logger == nil {
		logger = adapter.NoOpLogger{}
	}
	return &WorkerConnectionPool{maxPerConn: maxPerConn, logger: logger}
}

// addConnection registers a newly connected worker, in arrival order (ties
// in load are broken by this order, per spec.md §4.5).
func (p *WorkerConnectionPool) addConnection(wc *WorkerConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, wc)
}

// removeConnection drops a worker connection, e.g. on disconnect.
func (p *WorkerConnectionPool) removeConnection(wc *WorkerConnection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w == wc {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
	}
}

// HasAvailableCapacity reports whether at least one worker is connected and
// at least one worker's load is below the configured maximum (spec.md
// §4.5).
func (p *WorkerConnectionPool) HasAvailableCapacity() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if w.CurrentLoad() < p.maxPerConn {
			return true
		}
	}
	return false
}

// leastLoaded returns the worker with the minimum current load, ties broken
// by connection insertion order.
func (p *WorkerConnectionPool) leastLoaded() *WorkerConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *WorkerConnection
	for _, w := range p.workers {
		if best == nil || w.CurrentLoad() < best.CurrentLoad() {
			best = w
		}
	}
	return best
}

// PerformJob implements Performer: it selects the least-loaded worker and
// dispatches PerformJob to it (spec.md §4.5).
func (p *WorkerConnectionPool) PerformJob(ctx context.Context, jobID int64) error {
	w := p.leastLoaded()
	if w == nil {
		return fmt.Errorf("jobqueue: no worker connections available")
	}
	return w.performJob(ctx, jobID)
}
