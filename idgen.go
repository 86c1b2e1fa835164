package jobqueue

import (
	"context"

	"go.uber.org/atomic"
)

// IDGenerator produces a fresh, cluster-unique JobID (spec.md §3 invariant
// iii). The default implementation is process-local and only cluster-safe
// when paired with a DB sequence (e.g. a Postgres SERIAL JOB_ID column whose
// nextval() backs the generator supplied to a production Queuer); tests use
// the in-process counter directly.
type IDGenerator func(ctx context.Context) (int64, error)

// NewLocalIDGenerator returns an IDGenerator backed by an in-process atomic
// counter starting at start+1. It is cluster-unique only for a
// single-node/test deployment; production deployments should supply an
// IDGenerator backed by the database's own sequence.
func NewLocalIDGenerator(start int64) IDGenerator {
	counter := atomic.NewInt64(start)
	return func(context.Context) (int64, error) {
		return counter.Inc(), nil
	}
}
