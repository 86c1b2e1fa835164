package jobqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/essandess/gojobqueue/adapter"
)

// WorkItem is one domain row tied 1:1 to a Job by JobID. Work authors
// implement DoWork; the registry's Factory and Loader functions produce and
// fetch the concrete type (spec.md §4.1).
type WorkItem interface {
	// JobID returns the Job this work item belongs to.
	JobID() int64

	// DoWork performs the unit of work inside the performer's transaction.
	// A returned error is treated as a domain failure: it is logged and the
	// job is still consumed (deleted); re-execution is the work author's
	// responsibility, e.g. by enqueuing a replacement (spec.md §4.1, §7).
	DoWork(ctx context.Context, tx adapter.Tx) error
}

// Factory inserts a new Job row and a new work-type row sharing jobID,
// inside the caller's transaction. attrs must match the work type's domain
// columns; an unknown key is a schema error, surfaced synchronously to the
// enqueuer (spec.md §4.7, §7). jobID is assigned by the Queuer before the
// Factory runs (via its IDGenerator), so every registered work type shares
// one source of cluster-unique ids instead of each minting its own.
type Factory func(ctx context.Context, tx adapter.Tx, jobID int64, attrs map[string]interface{}) (Job, WorkItem, error)

// Loader fetches the work-type row for a job, taking a row-level lock
// against concurrent loaders. A Loader that opens a second, concurrent
// transaction (spec.md §9, "concurrently" transaction hook) uses a
// ConcurrentTxFactory it was built with, e.g. captured when the work type
// is registered; it never discovers that capability on tx at runtime. The
// Queuer does not pass its own ConcurrentTxFactory to Loaders.
type Loader func(ctx context.Context, tx adapter.Tx, jobID int64) (WorkItem, error)

// WorkConfig is the function-pointer record used in place of a work-type
// class hierarchy: compose, don't inherit. It holds the Factory and the
// Loader; the doer is the DoWork method of the WorkItem the Loader returns.
type WorkConfig struct {
	Factory Factory
	Loader  Loader
}

// Registry maps WORK_TYPE strings to WorkConfigs. The zero value is ready
// to use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]WorkConfig
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]WorkConfig)}
}

// Register adds a work type under the given name, which must match its
// backing table name exactly (spec.md §6).
func (r *Registry) Register(workType string, cfg WorkConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[workType] = cfg
}

// Lookup returns the WorkConfig registered for workType.
func (r *Registry) Lookup(workType string) (WorkConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.types[workType]
	if !ok {
		return WorkConfig{}, fmt.Errorf("%w: %q", ErrUnknownWorkType, workType)
	}
	return cfg, nil
}
