package jobqueue

import (
	"time"

	"github.com/essandess/gojobqueue/adapter"
)

// Default configuration values, in the same spirit as the teacher's
// defaultPollInterval/defaultQueueName constants.
const (
	defaultQueueProcessTimeout = 60 * time.Second
	defaultWorkerMaxLoad       = 4
	defaultDrainTimeout        = 30 * time.Second
)

// Option configures a Queuer at construction time, the same functional
// option pattern as the teacher's WorkerOption/WorkerPoolOption.
type Option func(*Queuer)

// WithQueueProcessTimeout overrides the default queueProcessTimeout — both
// the lost-work scan period and the staleness horizon (spec.md §6).
func WithQueueProcessTimeout(d time.Duration) Option {
	return func(q *Queuer) {
		q.queueProcessTimeout = d
	}
}

// WithHostname sets the hostname this node advertises in NODE_INFO.
func WithHostname(hostname string) Option {
	return func(q *Queuer) {
		q.hostname = hostname
	}
}

// WithListenPort sets the port this node advertises in NODE_INFO and binds
// its peer listener to.
func WithListenPort(port int) Option {
	return func(q *Queuer) {
		q.listenPort = port
	}
}

// WithClock overrides the default real-time Clock, e.g. with a FakeClock in
// tests (spec.md §9).
func WithClock(clock Clock) Option {
	return func(q *Queuer) {
		q.clock = clock
	}
}

// WithLogger sets the Logger implementation used by this Queuer and
// everything it constructs (worker pool, peer fabric).
func WithLogger(logger adapter.Logger) Option {
	return func(q *Queuer) {
		q.logger = logger
	}
}

// WithConcurrentTxFactory stores the "concurrently" capability (spec.md §9)
// on the Queuer, which hands it to its LocalPerformer. It is not passed on
// to work-type Loaders.
func WithConcurrentTxFactory(f ConcurrentTxFactory) Option {
	return func(q *Queuer) {
		q.concurrentTxFactory = f
	}
}

// WithIDGenerator overrides the default in-process JobID generator, e.g.
// with one backed by a database sequence in production.
func WithIDGenerator(gen IDGenerator) Option {
	return func(q *Queuer) {
		q.idGenerator = gen
	}
}

// WithWorkerMaxLoad overrides the per-connection capacity the worker pool
// uses for HasAvailableCapacity (spec.md §4.5).
func WithWorkerMaxLoad(max int64) Option {
	return func(q *Queuer) {
		q.workerMaxLoad = max
	}
}

// WithDrainTimeout overrides how long StopService waits for in-flight
// executions before abandoning them (spec.md §6 Lifecycle).
func WithDrainTimeout(d time.Duration) Option {
	return func(q *Queuer) {
		q.drainTimeout = d
	}
}

// WithProposalCallback registers a callback invoked with every new Proposal
// this Queuer creates (spec.md §4.8).
func WithProposalCallback(cb func(*Proposal)) Option {
	return func(q *Queuer) {
		q.base.callWithNewProposals(cb)
	}
}
