package jobqueue

import (
	"context"
	"fmt"

	"github.com/essandess/gojobqueue/adapter"
)

// TxFactory yields a new transaction. All database access from the core
// goes through inTransaction so error paths are uniform (spec.md §4.2).
type TxFactory func(ctx context.Context) (adapter.Tx, error)

// ConcurrentTxFactory is the "concurrently" capability spec.md §9 calls for:
// a way for a Loader to spawn a second, independent transaction against the
// same store, supplied once at Queuer construction rather than discovered on
// a Tx at runtime.
type ConcurrentTxFactory func(ctx context.Context) (adapter.Tx, error)

// inTransaction acquires a transaction from txnFactory, invokes op, and then
// commits on success or rolls back and re-raises on failure.
func inTransaction(ctx context.Context, txnFactory TxFactory, op func(ctx context.Context, tx adapter.Tx) (interface{}, error)) (interface{}, error) {
	tx, err := txnFactory(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: acquire transaction: %w", err)
	}

	result, opErr := op(ctx, tx)
	if opErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return nil, fmt.Errorf("jobqueue: op failed (%v) and rollback failed: %w", opErr, rbErr)
		}
		return nil, opErr
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("jobqueue: commit: %w", err)
	}
	return result, nil
}
