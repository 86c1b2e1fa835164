package jobqueue

import "sync"

// latch is a one-shot broadcast of a (result, error) pair. Fire is safe to
// call more than once; only the first call's outcome is recorded. Wait may
// be called before or after Fire and always observes the recorded outcome
// once it has happened.
type latch struct {
	mu     sync.Mutex
	cond   *sync.Cond
	fired  bool
	result interface{}
	err    error
}

func newLatch() *latch {
	l := &latch{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Fire records the outcome and wakes any waiters. Only the first call has
// effect, matching spec.md §4.3 ("each latch fires at most once").
func (l *latch) Fire(result interface{}, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fired {
		return
	}
	l.result, l.err, l.fired = result, err, true
	l.cond.Broadcast()
}

// Wait blocks until Fire has been called (subscribing after it fires yields
// the recorded outcome immediately, per spec.md §4.3).
func (l *latch) Wait() (interface{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for !l.fired {
		l.cond.Wait()
	}
	return l.result, l.err
}

// Proposal is the handle returned by EnqueueWork. It exposes three
// independently awaitable lifecycle events (spec.md §4.3, §9 "Proposal as
// multi-event handle"): Proposed, Committed, Executed.
type Proposal struct {
	Job Job

	proposed  *latch
	committed *latch
	executed  *latch

	// queuer is a back-reference used only to re-enter ChoosePerformer when
	// the notBefore timer fires (spec.md §9: "ownership runs queuer ->
	// proposal").
	queuer *Queuer
}

func newProposal(queuer *Queuer, job Job) *Proposal {
	return &Proposal{
		Job:       job,
		proposed:  newLatch(),
		committed: newLatch(),
		executed:  newLatch(),
		queuer:    queuer,
	}
}

// WhenProposed blocks until the INSERTs for the job and work rows have
// completed (the caller's transaction may still abort afterward).
func (p *Proposal) WhenProposed() (*Proposal, error) {
	_, err := p.proposed.Wait()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WhenCommitted blocks until the enclosing transaction commits, or fails if
// it aborts.
func (p *Proposal) WhenCommitted() (*Proposal, error) {
	_, err := p.committed.Wait()
	if err != nil {
		return nil, err
	}
	return p, nil
}

// WhenExecuted blocks until the performer's transaction commits the
// deletion of the job. If the enclosing transaction aborted, this fails
// with ErrEnqueueAborted (spec.md §4.3).
func (p *Proposal) WhenExecuted() (*Proposal, error) {
	_, err := p.executed.Wait()
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Proposal) fireProposed(err error)  { p.proposed.Fire(p, err) }
func (p *Proposal) fireCommitted(err error) { p.committed.Fire(p, err) }
func (p *Proposal) fireExecuted(err error)  { p.executed.Fire(p, err) }
