package jobqueue

import (
	"context"

	"github.com/essandess/gojobqueue/adapter"
)

// hookTx decorates a caller's transaction with post-commit/post-abort
// callbacks, grounded on original_source's IAsyncTransaction.postCommit/
// postAbort hooks — the mechanism EnqueueWork needs to fire a Proposal's
// whenCommitted/whenExecuted latches without the Queuer owning the
// transaction's lifecycle (spec.md §1: "enqueue is atomic with the caller's
// transaction").
type hookTx struct {
	adapter.Tx
	onCommit   []func()
	onRollback []func()
}

func wrapTx(tx adapter.Tx) *hookTx {
	return &hookTx{Tx: tx}
}

func (h *hookTx) addOnCommit(f func())   { h.onCommit = append(h.onCommit, f) }
func (h *hookTx) addOnRollback(f func()) { h.onRollback = append(h.onRollback, f) }

// Commit commits the underlying transaction, then runs the onCommit hooks on
// success or the onRollback hooks if the commit itself failed.
func (h *hookTx) Commit(ctx context.Context) error {
	err := h.Tx.Commit(ctx)
	if err == nil {
		for _, f := range h.onCommit {
			f()
		}
	} else {
		for _, f := range h.onRollback {
			f()
		}
	}
	return err
}

// Rollback rolls back the underlying transaction and always runs the
// onRollback hooks afterward, regardless of whether the rollback itself
// succeeded.
func (h *hookTx) Rollback(ctx context.Context) error {
	err := h.Tx.Rollback(ctx)
	for _, f := range h.onRollback {
		f()
	}
	return err
}
