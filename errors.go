package jobqueue

import "errors"

// Sentinel errors for the user-visible failure paths spec.md §7 enumerates.
// Everything else either recovers internally or degrades to "retry later via
// the lost-work scan".
var (
	// ErrSchemaMismatch is returned synchronously from EnqueueWork when attrs
	// names a column the work type's factory doesn't recognize.
	ErrSchemaMismatch = errors.New("jobqueue: schema mismatch on enqueue")

	// ErrEnqueueAborted is the error a Proposal's WhenExecuted latch fails
	// with when the enqueuing transaction aborted.
	ErrEnqueueAborted = errors.New("jobqueue: enqueue transaction aborted")

	// ErrUnknownWorkType is returned by Registry.Lookup for an unregistered
	// work type name.
	ErrUnknownWorkType = errors.New("jobqueue: unknown work type")

	// ErrNegativeDelay is returned by Clock.AfterFunc when asked to schedule
	// a negative delay (spec.md §7, "programmer error; fail fast").
	ErrNegativeDelay = errors.New("jobqueue: negative timer delay")

	// ErrServiceAlreadyStarted is returned by StartService when called twice
	// on the same Queuer instance (spec.md §6 Lifecycle).
	ErrServiceAlreadyStarted = errors.New("jobqueue: service already started")

	// ErrConnectionLost is the error in-flight RPCs fail with when a peer or
	// worker connection is torn down mid-call (spec.md §5).
	ErrConnectionLost = errors.New("jobqueue: connection lost")
)
