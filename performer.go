package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/essandess/gojobqueue/adapter"
)

// ErrWorkRowGone is returned by a Loader when the work-type row it was asked
// to load has already been removed by a concurrent transaction. The
// performer treats this as success: no DoWork call, no done-row written,
// and the JOB row is deleted (spec.md §4.4, scenario 7).
var ErrWorkRowGone = errors.New("jobqueue: work row concurrently deleted")

// Performer is any object capable of running a job by id. The three
// variants are LocalPerformer, *WorkerConnectionPool, and *PeerConnection
// (spec.md GLOSSARY).
type Performer interface {
	PerformJob(ctx context.Context, jobID int64) error
}

// LocalPerformer loads a job by id in a fresh transaction and drives its
// work item, entirely within this process (spec.md §4.4).
type LocalPerformer struct {
	txFactory           TxFactory
	concurrentTxFactory ConcurrentTxFactory
	registry            *Registry
	logger              adapter.Logger
}

// NewLocalPerformer builds a LocalPerformer against the given transaction
// factory and work-type registry.
func NewLocalPerformer(txFactory TxFactory, concurrentTxFactory ConcurrentTxFactory, registry *Registry, logger adapter.Logger) *LocalPerformer {
	if logger == nil {
		logger = adapter.NoOpLogger{}
	}
	return &LocalPerformer{
		txFactory:           txFactory,
		concurrentTxFactory: concurrentTxFactory,
		registry:            registry,
		logger:              logger,
	}
}

// PerformJob implements Performer. It never returns an error for a domain
// failure inside DoWork (that is logged and the job is still consumed); it
// returns an error only for infrastructure failures (failed transaction
// acquisition, commit, or an unregistered work type) — spec.md §4.1, §7.
func (p *LocalPerformer) PerformJob(ctx context.Context, jobID int64) error {
	tx, err := p.txFactory(ctx)
	if err != nil {
		return fmt.Errorf("jobqueue: acquire transaction for job %d: %w", jobID, err)
	}

	if execErr := p.performInTx(ctx, tx, jobID); execErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("jobqueue: job %d failed (%v) and rollback failed: %w", jobID, execErr, rbErr)
		}
		return execErr
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobqueue: commit job %d: %w", jobID, err)
	}
	return nil
}

func (p *LocalPerformer) performInTx(ctx context.Context, tx adapter.Tx, jobID int64) error {
	job, found, err := lockJobForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if !found {
		// Row no longer exists: taken by someone else or concurrently
		// deleted. This is the designed behavior, not an error.
		p.logger.Debug("job already gone", adapter.F("job_id", jobID))
		return nil
	}

	cfg, err := p.registry.Lookup(job.WorkType)
	if err != nil {
		return err
	}

	item, err := cfg.Loader(ctx, tx, jobID)
	if errors.Is(err, ErrWorkRowGone) {
		p.logger.Debug("work row concurrently deleted", adapter.F("job_id", jobID))
		return deleteJob(ctx, tx, jobID)
	}
	if err != nil {
		return fmt.Errorf("jobqueue: load work item for job %d: %w", jobID, err)
	}

	if doErr := item.DoWork(ctx, tx); doErr != nil {
		// Domain failure: logged, job is still consumed (spec.md §4.1 Open
		// Question i, resolved in DESIGN.md).
		p.logger.Error("doWork failed", adapter.F("job_id", jobID), adapter.F("error", doErr.Error()))
	}

	if err := deleteWorkRow(ctx, tx, job.WorkType, jobID); err != nil {
		return err
	}
	return deleteJob(ctx, tx, jobID)
}
