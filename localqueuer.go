package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/essandess/gojobqueue/adapter"
)

// baseQueuer implements the proposal-callback mechanism shared by Queuer,
// LocalQueuer, and NonPerformingQueuer (spec.md §4.8: "both inherit the
// proposal callback mechanism"), grounded on original_source's
// `_BaseQueuer`. Composition, not inheritance: each concrete queuer embeds
// one.
type baseQueuer struct {
	mu        sync.Mutex
	callbacks []func(*Proposal)
}

// callWithNewProposals registers cb to be invoked with every Proposal this
// queuer creates from now on.
func (b *baseQueuer) callWithNewProposals(cb func(*Proposal)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

func (b *baseQueuer) notifyNewProposal(p *Proposal) {
	b.mu.Lock()
	callbacks := make([]func(*Proposal), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb(p)
	}
}

// LocalQueuer has the same EnqueueWork surface as Queuer, but
// ChoosePerformer always returns a LocalPerformer — used in single-process
// mode (spec.md §4.8).
type LocalQueuer struct {
	base baseQueuer

	txFactory           TxFactory
	concurrentTxFactory ConcurrentTxFactory
	registry            *Registry
	idGenerator         IDGenerator
	localPerformer      *LocalPerformer
}

// NewLocalQueuer builds a LocalQueuer around txFactory and registry.
func NewLocalQueuer(txFactory TxFactory, concurrentTxFactory ConcurrentTxFactory, registry *Registry, idGenerator IDGenerator) *LocalQueuer {
	if idGenerator == nil {
		idGenerator = NewLocalIDGenerator(0)
	}
	return &LocalQueuer{
		txFactory:           txFactory,
		concurrentTxFactory: concurrentTxFactory,
		registry:            registry,
		idGenerator:         idGenerator,
		localPerformer:      NewLocalPerformer(txFactory, concurrentTxFactory, registry, nil),
	}
}

// Begin opens a hook-wrapped transaction, same contract as Queuer.Begin.
func (q *LocalQueuer) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := q.txFactory(ctx)
	if err != nil {
		return nil, err
	}
	return wrapTx(tx), nil
}

// EnqueueWork inserts the job and immediately executes it inline via the
// LocalPerformer once the caller's transaction commits — there is no
// worker pool or peer fabric to defer to.
func (q *LocalQueuer) EnqueueWork(ctx context.Context, tx adapter.Tx, workType string, attrs map[string]interface{}) (*Proposal, error) {
	ht, ok := tx.(*hookTx)
	if !ok {
		return nil, fmt.Errorf("jobqueue: EnqueueWork requires a transaction obtained from Begin")
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

	proposal := newProposal(nil, job)
	q.base.notifyNewProposal(proposal)
	proposal.fireProposed(nil)

	ht.addOnCommit(func() {
		proposal.fireCommitted(nil)
		execErr := q.localPerformer.PerformJob(context.Background(), job.JobID)
		proposal.fireExecuted(execErr)
	})
	ht.addOnRollback(func() {
		proposal.fireCommitted(ErrEnqueueAborted)
		proposal.fireExecuted(ErrEnqueueAborted)
	})

	return proposal, nil
}

// CallWithNewProposals registers a proposal-created callback.
func (q *LocalQueuer) CallWithNewProposals(cb func(*Proposal)) {
	q.base.callWithNewProposals(cb)
}

// ChoosePerformer always returns this queuer's LocalPerformer, whatever
// onlyLocally says.
func (q *LocalQueuer) ChoosePerformer(onlyLocally bool) Performer {
	return q.localPerformer
}

// NonPerformingQueuer has the same enqueue surface, but performJob is
// always a no-op that succeeds immediately — used in test fixtures and by
// read-only clients that only ever enqueue (spec.md §4.8).
type NonPerformingQueuer struct {
	base baseQueuer

	txFactory   TxFactory
	registry    *Registry
	idGenerator IDGenerator
}

// NewNonPerformingQueuer builds a NonPerformingQueuer.
func NewNonPerformingQueuer(txFactory TxFactory, registry *Registry, idGenerator IDGenerator) *NonPerformingQueuer {
	if idGenerator == nil {
		idGenerator = NewLocalIDGenerator(0)
	}
	return &NonPerformingQueuer{txFactory: txFactory, registry: registry, idGenerator: idGenerator}
}

// Begin opens a hook-wrapped transaction, same contract as Queuer.Begin.
func (q *NonPerformingQueuer) Begin(ctx context.Context) (adapter.Tx, error) {
	tx, err := q.txFactory(ctx)
	if err != nil {
		return nil, err
	}
	return wrapTx(tx), nil
}

// EnqueueWork inserts the job, then immediately fires whenExecuted with a
// nil error on commit without ever invoking doWork.
func (q *NonPerformingQueuer) EnqueueWork(ctx context.Context, tx adapter.Tx, workType string, attrs map[string]interface{}) (*Proposal, error) {
	ht, ok := tx.(*hookTx)
	if !ok {
		return nil, fmt.Errorf("jobqueue: EnqueueWork requires a transaction obtained from Begin")
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

	proposal := newProposal(nil, job)
	q.base.notifyNewProposal(proposal)
	proposal.fireProposed(nil)

	ht.addOnCommit(func() {
		proposal.fireCommitted(nil)
		proposal.fireExecuted(nil)
	})
	ht.addOnRollback(func() {
		proposal.fireCommitted(ErrEnqueueAborted)
		proposal.fireExecuted(ErrEnqueueAborted)
	})

	return proposal, nil
}

// CallWithNewProposals registers a proposal-created callback.
func (q *NonPerformingQueuer) CallWithNewProposals(cb func(*Proposal)) {
	q.base.callWithNewProposals(cb)
}

// PerformJob implements Performer as a no-op that always succeeds.
func (q *NonPerformingQueuer) PerformJob(ctx context.Context, jobID int64) error {
	return nil
}
