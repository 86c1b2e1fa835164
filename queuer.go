package jobqueue

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/essandess/gojobqueue/adapter"
	"github.com/essandess/gojobqueue/rpc"
)

// Queuer is the top-level service (spec.md §4.7, "Queuer / Peer Connection
// Pool"): it is the sole public entry point for enqueue, it decides which
// performer runs each job, it runs the periodic lost-work scan, and it
// registers this node's presence in NODE_INFO.
type Queuer struct {
	base baseQueuer

	txFactory           TxFactory
	concurrentTxFactory ConcurrentTxFactory
	registry            *Registry
	clock               Clock
	logger              adapter.Logger

	hostname            string
	listenPort          int
	queueProcessTimeout time.Duration
	workerMaxLoad       int64
	drainTimeout        time.Duration
	idGenerator         IDGenerator

	workerPool     *WorkerConnectionPool
	peers          *peerFabric
	localPerformer *LocalPerformer

	mu        sync.Mutex
	started   bool
	listener  net.Listener
	scanTimer Timer
	stopCh    chan struct{}
	group     *errgroup.Group

	// activeNodesGroup collapses concurrent ActiveNodes reads (the discovery
	// loop's own tick racing a caller's direct ActiveNodes call) into one
	// underlying query, per SPEC_FULL.md's domain-stack wiring.
	activeNodesGroup singleflight.Group

	inFlight sync.WaitGroup
}

// NewQueuer builds a Queuer around txFactory (used both for enqueue-time
// row inserts when the caller asks Queuer.Begin for a transaction, and for
// the performer's own transactions) and registry. Defaults match the
// teacher's pattern of sensible zero-config construction, overridden by
// Option values (spec.md §6 "Configuration").
func NewQueuer(txFactory TxFactory, registry *Registry, opts ...Option) *Queuer {
	q := &Queuer{
		txFactory:           txFactory,
		registry:            registry,
		clock:               NewRealClock(),
		logger:              adapter.NoOpLogger{},
		queueProcessTimeout: defaultQueueProcessTimeout,
		workerMaxLoad:       defaultWorkerMaxLoad,
		drainTimeout:        defaultDrainTimeout,
		idGenerator:         NewLocalIDGenerator(0),
		peers:               newPeerFabric(),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.workerPool = NewWorkerConnectionPool(q.workerMaxLoad, q.logger)
	q.localPerformer = NewLocalPerformer(q.txFactory, q.concurrentTxFactory, q.registry, q.logger)
	return q
}

// Begin opens a new transaction suitable for passing to EnqueueWork: it is
// the caller's transaction to commit or roll back on its own schedule, but
// wrapped so the Proposal's whenCommitted/whenExecuted latches can observe
// that outcome (spec.md §4.3).
func (q *Queuer) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := q.txFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: begin enqueue transaction: %w", err)
	}
	return wrapTx(tx), nil
}

// EnqueueWork inserts a Job row and its work-type row via the registered
// work type's Factory, inside the caller's transaction (obtained from
// Queuer.Begin), and returns a Proposal bound to that job (spec.md §4.7).
// attrs must match the work type's domain columns exactly; an unrecognized
// key is a schema error, surfaced synchronously (spec.md §7).
func (q *Queuer) EnqueueWork(ctx context.Context, tx adapter.Tx, workType string, attrs map[string]interface{}) (*Proposal, error) {
	ht, ok := tx.(*hookTx)
	if !ok {
		return nil, fmt.Errorf("jobqueue: EnqueueWork requires a transaction obtained from Queuer.Begin")
	}

	cfg, err := q.registry.Lookup(workType)
	if err != nil {
		return nil, err
	}

	jobID, err := q.idGenerator(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: generate job id: %w", err)
	}

	job, _, err := cfg.Factory(ctx, ht, jobID, attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}

	proposal := newProposal(q, job)
	q.base.notifyNewProposal(proposal)
	proposal.fireProposed(nil)

	ht.addOnCommit(func() {
		proposal.fireCommitted(nil)
		q.scheduleExecution(proposal)
	})
	ht.addOnRollback(func() {
		proposal.fireCommitted(ErrEnqueueAborted)
		proposal.fireExecuted(ErrEnqueueAborted)
	})

	return proposal, nil
}

// scheduleExecution arms the in-process timer that fires ChoosePerformer at
// max(notBefore-now, 0) (spec.md §4.7).
func (q *Queuer) scheduleExecution(p *Proposal) {
	now := q.clock.Now()
	delay := p.Job.notBeforeOrNow(now).Sub(now)
	if delay < 0 {
		delay = 0
	}

	timer, err := q.clock.AfterFunc(delay, func() {
		q.inFlight.Add(1)
		defer q.inFlight.Done()

		// Re-enters the queuer through the proposal's own back-reference
		// rather than a captured closure variable (spec.md §9: "ownership
		// runs queuer -> proposal"; ChoosePerformer's result depends on
		// this queuer's live worker/peer state at fire time, not at
		// schedule time).
		performer := p.queuer.ChoosePerformer(false)
		execErr := performer.PerformJob(context.Background(), p.Job.JobID)
		p.fireExecuted(execErr)
	})
	if err != nil {
		p.fireExecuted(err)
		return
	}
	_ = timer
}

// ChoosePerformer implements spec.md §4.7's decision order: local worker
// pool capacity first, then (unless onlyLocally) the least-loaded peer,
// else the controller's own LocalPerformer.
func (q *Queuer) ChoosePerformer(onlyLocally bool) Performer {
	if q.workerPool.HasAvailableCapacity() {
		return q.workerPool
	}
	if !onlyLocally {
		if peer := q.peers.leastLoadedPeer(); peer != nil {
			return peer
		}
	}
	return q.localPerformer
}

// AddWorkerConnection registers a newly dialled-in worker process
// connection (spec.md §4.5). The master<->worker spawning handshake itself
// is out of scope (spec.md §1); callers hand this method the accepted
// net.Conn once their own handshake completes. An empty id is replaced with
// a generated one, for handshakes that don't themselves assign a worker
// identity.
func (q *Queuer) AddWorkerConnection(id string, nc net.Conn) *WorkerConnection {
	if id == "" {
		id = uuid.NewString()
	}
	wc := newWorkerConnection(id, rpc.NewConn(nc), q.logger)
	q.workerPool.addConnection(wc)
	return wc
}

// RemoveWorkerConnection tears down and forgets a worker connection.
func (q *Queuer) RemoveWorkerConnection(wc *WorkerConnection) {
	q.workerPool.removeConnection(wc)
	_ = wc.close()
}

// AddPeerConnection registers a connection to a sibling controller, dialled
// either by discoverPeers or accepted on this node's peer listener.
func (q *Queuer) AddPeerConnection(id, address string, nc net.Conn) *PeerConnection {
	pc := newPeerConnection(id, address, rpc.NewConn(nc), q.logger, func(ctx context.Context, onlyLocally bool) Performer {
		return q.ChoosePerformer(onlyLocally)
	})
	q.peers.addPeerConnection(pc)
	return pc
}

// RemovePeerConnection tears down and forgets a peer connection.
func (q *Queuer) RemovePeerConnection(pc *PeerConnection) {
	q.peers.removePeerConnection(pc)
	_ = pc.close()
}

// StartService registers this node in NODE_INFO, starts the periodic
// lost-work scan with period queueProcessTimeout, and starts the peer
// discovery loop. Calling it twice on the same instance is an error
// (spec.md §6 "Lifecycle").
func (q *Queuer) StartService(ctx context.Context) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return ErrServiceAlreadyStarted
	}
	q.started = true
	stopCh := make(chan struct{})
	q.stopCh = stopCh
	group, _ := errgroup.WithContext(ctx)
	q.group = group
	q.mu.Unlock()

	if err := q.registerNodeInfo(ctx); err != nil {
		return err
	}

	if q.listenPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", q.listenPort))
		if err != nil {
			return fmt.Errorf("jobqueue: listen on port %d: %w", q.listenPort, err)
		}
		q.mu.Lock()
		q.listener = ln
		q.mu.Unlock()
		group.Go(func() error {
			q.acceptPeers(ln, stopCh)
			return nil
		})
	}

	q.armLostWorkScan()
	group.Go(func() error {
		q.discoverPeers(stopCh)
		return nil
	})

	return nil
}

func (q *Queuer) registerNodeInfo(ctx context.Context) error {
	_, err := inTransaction(ctx, q.txFactory, func(ctx context.Context, tx adapter.Tx) (interface{}, error) {
		return nil, upsertNodeInfo(ctx, tx, NodeInfo{
			Hostname: q.hostname,
			PID:      os.Getpid(),
			Port:     q.listenPort,
			Time:     q.clock.Now(),
		})
	})
	return err
}

// acceptPeers takes stopCh as a parameter, captured once by StartService
// under q.mu, rather than re-reading the mutable q.stopCh field on every
// iteration: StopService nils that field before closing the channel, so a
// direct read here could observe nil and block forever on a channel that
// will never fire.
func (q *Queuer) acceptPeers(ln net.Listener, stopCh <-chan struct{}) {
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
				q.logger.Error("peer accept failed", adapter.F("error", err.Error()))
				return
			}
		}
		q.AddPeerConnection(nc.RemoteAddr().String(), nc.RemoteAddr().String(), nc)
	}
}

// armLostWorkScan schedules the next lost-work tick, re-arming unconditionally
// after each run regardless of outcome (spec.md §4.7).
func (q *Queuer) armLostWorkScan() {
	timer, err := q.clock.AfterFunc(q.queueProcessTimeout, func() {
		if err := q.periodicLostWorkCheck(context.Background()); err != nil {
			q.logger.Error("lost-work scan reported failures", adapter.F("error", err.Error()))
		}

		q.mu.Lock()
		stopped := q.stopCh == nil
		q.mu.Unlock()
		if !stopped {
			q.armLostWorkScan()
		}
	})
	if err != nil {
		q.logger.Error("failed to arm lost-work scan", adapter.F("error", err.Error()))
		return
	}
	q.mu.Lock()
	q.scanTimer = timer
	q.mu.Unlock()
}

// periodicLostWorkCheck selects JOB rows whose notBefore predates
// now-queueProcessTimeout, ordered (priority desc, notBefore asc, jobID asc),
// and re-drives each through the LocalPerformer. A failing row is logged and
// does not stop the scan; the whole transaction still commits
// (spec.md §4.7, §7, scenario 5).
func (q *Queuer) periodicLostWorkCheck(ctx context.Context) error {
	var combined error

	_, err := inTransaction(ctx, q.txFactory, func(ctx context.Context, tx adapter.Tx) (interface{}, error) {
		threshold := q.clock.Now().Add(-q.queueProcessTimeout)
		jobs, err := selectPastDueJobs(ctx, tx, threshold)
		if err != nil {
			return nil, err
		}

		for _, job := range jobs {
			// Each job is driven through its own transaction inside
			// LocalPerformer.PerformJob; this outer transaction only reads
			// the past-due set and always commits, per spec.md §4.7 ("the
			// whole transaction commits at end" regardless of per-job
			// outcome).
			if err := q.localPerformer.PerformJob(ctx, job.JobID); err != nil {
				q.logger.Error("lost-work job failed", adapter.F("job_id", job.JobID), adapter.F("error", err.Error()))
				combined = multierr.Append(combined, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	return combined
}

// discoverPeers resolves spec.md §9 Open Question (ii): it polls
// ActiveNodes every queueProcessTimeout, dials newly-seen, non-stale nodes,
// and drops connections to nodes that have vanished (SPEC_FULL.md
// "Supplemented features"). stopCh is captured once by StartService under
// q.mu and passed in, not re-read from the mutable q.stopCh field: see
// acceptPeers for why that would race with StopService nilling it.
func (q *Queuer) discoverPeers(stopCh <-chan struct{}) {
	ticker := time.NewTicker(q.queueProcessTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			q.reconcilePeers()
		}
	}
}

func (q *Queuer) reconcilePeers() {
	nodes, err := q.ActiveNodes(context.Background())
	if err != nil {
		q.logger.Error("discoverPeers: ActiveNodes failed", adapter.F("error", err.Error()))
		return
	}

	stale := 2 * q.queueProcessTimeout
	now := q.clock.Now()
	seen := make(map[string]bool)

	for _, node := range nodes {
		if node.Hostname == q.hostname && node.Port == q.listenPort {
			continue
		}
		if now.Sub(node.Time) > stale {
			continue
		}
		address := fmt.Sprintf("%s:%d", node.Hostname, node.Port)
		seen[address] = true
		if q.peers.byAddress(address) != nil {
			continue
		}
		nc, err := net.Dial("tcp", address)
		if err != nil {
			q.logger.Debug("discoverPeers: dial failed", adapter.F("address", address), adapter.F("error", err.Error()))
			continue
		}
		q.AddPeerConnection(address, address, nc)
	}

	for _, pc := range q.peers.snapshot() {
		if !seen[pc.Address] {
			q.RemovePeerConnection(pc)
		}
	}
}

// ActiveNodes returns the raw NODE_INFO rows (spec.md §4.7); it does not
// apply the staleness filter discoverPeers uses internally. Concurrent
// callers (a direct caller racing discoverPeers' own tick) collapse onto a
// single underlying query via activeNodesGroup.
func (q *Queuer) ActiveNodes(ctx context.Context) ([]NodeInfo, error) {
	v, err, _ := q.activeNodesGroup.Do("active-nodes", func() (interface{}, error) {
		return inTransaction(ctx, q.txFactory, func(ctx context.Context, tx adapter.Tx) (interface{}, error) {
			return selectNodeInfos(ctx, tx)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]NodeInfo), nil
}

// StopService removes this node's NODE_INFO row, tears down peer and worker
// connections, and waits up to drainTimeout for in-flight executions before
// abandoning them (spec.md §6 "Lifecycle").
func (q *Queuer) StopService(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	q.started = false
	stopCh := q.stopCh
	q.stopCh = nil
	ln := q.listener
	scanTimer := q.scanTimer
	group := q.group
	q.mu.Unlock()

	close(stopCh)
	if scanTimer != nil {
		scanTimer.Stop()
	}
	if ln != nil {
		_ = ln.Close()
	}

	for _, pc := range q.peers.snapshot() {
		q.RemovePeerConnection(pc)
	}

	q.workerPool.mu.Lock()
	workers := make([]*WorkerConnection, len(q.workerPool.workers))
	copy(workers, q.workerPool.workers)
	q.workerPool.mu.Unlock()
	for _, wc := range workers {
		q.RemoveWorkerConnection(wc)
	}

	if group != nil {
		if err := group.Wait(); err != nil {
			q.logger.Error("stopService: listener goroutine failed", adapter.F("error", err.Error()))
		}
	}

	_, err := inTransaction(ctx, q.txFactory, func(ctx context.Context, tx adapter.Tx) (interface{}, error) {
		return nil, deleteNodeInfoRow(ctx, tx, NodeInfo{Hostname: q.hostname, Port: q.listenPort})
	})

	drained := make(chan struct{})
	go func() {
		q.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(q.drainTimeout):
		q.logger.Error("stopService: drain timeout exceeded, abandoning in-flight executions")
	}

	return err
}
