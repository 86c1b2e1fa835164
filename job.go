package jobqueue

import (
	"database/sql"
	"time"
)

// Job is a durable intent to run one unit of work. For every Job row there
// exists exactly one corresponding work-type row sharing JobID, and a work
// row never exists without its Job row (spec.md §3 invariants i/ii).
type Job struct {
	// JobID is the surrogate primary key, monotonically unique across the
	// cluster (spec.md §3 invariant iii). Assigned by the enqueuing queuer's
	// IDGenerator before the work type's Factory runs, and inserted as given.
	JobID int64

	// WorkType names the registered work type this job belongs to. It maps
	// bit-for-bit to a table name (spec.md §6); this mapping is the
	// compatibility contract.
	WorkType string

	// Priority orders the lost-work scan, descending (spec.md §4.7/§9-iii).
	Priority int16

	// Weight is carried for future scheduling use; the scan does not use it.
	Weight int16

	// NotBefore is the earliest permissible execution time. An invalid value
	// means "now" when the enqueue timer is armed; the lost-work scan's
	// NOT_BEFORE comparison never selects a job whose NotBefore is invalid.
	NotBefore sql.NullTime

	// NotAfter is the latest permissible execution time, if any.
	NotAfter sql.NullTime
}

// notBeforeOrNow returns NotBefore, defaulting to now when unset.
func (j Job) notBeforeOrNow(now time.Time) time.Time {
	if !j.NotBefore.Valid {
		return now
	}
	return j.NotBefore.Time
}

// NodeInfo is a liveness advertisement for one controller, upserted into
// NODE_INFO on StartService, refreshed periodically, and removed on
// StopService. Other controllers discover each other through this table
// (spec.md §9 Open Question ii; see Queuer.discoverPeers).
type NodeInfo struct {
	Hostname string
	PID      int
	Port     int
	Time     time.Time
}
