package jobqueue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/essandess/gojobqueue/adapter"
	"go.uber.org/atomic"
)

// DummyWorkItem is the work type used throughout the seed scenarios
// (spec.md §8): it adds two integers and records the sum in a "done" table
// so tests can observe exactly-once execution without inspecting internal
// state. deleteOnLoad reproduces scenario 7's concurrently-deleted row.
type DummyWorkItem struct {
	jobID        int64
	workID       int64
	a, b         int64
	deleteOnLoad bool
}

func (d *DummyWorkItem) JobID() int64 { return d.jobID }

// dummyWorkCounter assigns WORK_ID values; production code would let the
// database do this, the fake has no sequence of its own.
var dummyWorkCounter atomic.Int64

// dummyFailOn (with dummyFailOnArmed) lets scenario 5 ("scan continues past a failure") make
// a specific input raise a domain error.
var dummyFailOn = struct {
	a, b int64
}{}

func (d *DummyWorkItem) DoWork(ctx context.Context, tx adapter.Tx) error {
	if d.a == dummyFailOn.a && d.b == dummyFailOn.b && dummyFailOnArmed {
		return fmt.Errorf("dummy work: domain failure for a=%d b=%d", d.a, d.b)
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO DUMMY_WORK_DONE (WORK_ID, JOB_ID, A_PLUS_B) VALUES ($1, $2, $3)`,
		dummyWorkCounter.Inc(), d.jobID, d.a+d.b)
	return err
}

var dummyFailOnArmed bool

func dummyWorkFactory(ctx context.Context, tx adapter.Tx, jobID int64, attrs map[string]interface{}) (Job, WorkItem, error) {
	job := Job{JobID: jobID, WorkType: "DUMMY_WORK"}

	var a, b int64
	var deleteOnLoad bool

	for k, v := range attrs {
		switch k {
		case "a":
			a = toInt64(v)
		case "b":
			b = toInt64(v)
		case "deleteOnLoad":
			deleteOnLoad = toInt64(v) != 0
		case "priority":
			job.Priority = int16(toInt64(v))
		case "weight":
			job.Weight = int16(toInt64(v))
		case "notBefore":
			job.NotBefore = toNullTime(v)
		case "notAfter":
			job.NotAfter = toNullTime(v)
		default:
			return Job{}, nil, fmt.Errorf("unknown attribute %q for work type DUMMY_WORK", k)
		}
	}

	if err := insertJob(ctx, tx, job); err != nil {
		return Job{}, nil, err
	}

	workID := dummyWorkCounter.Inc()
	deleteFlag := int64(0)
	if deleteOnLoad {
		deleteFlag = 1
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO DUMMY_WORK (WORK_ID, JOB_ID, A, B, DELETE_ON_LOAD) VALUES ($1, $2, $3, $4, $5)`,
		workID, jobID, a, b, deleteFlag); err != nil {
		return Job{}, nil, err
	}

	return job, &DummyWorkItem{jobID: jobID, workID: workID, a: a, b: b, deleteOnLoad: deleteOnLoad}, nil
}

// dummyWorkLoaderFor closes over a ConcurrentTxFactory so the loader can
// open the sibling transaction spec.md §9's "concurrently" hook describes,
// used by scenario 7 to delete the work row out from under the performer.
func dummyWorkLoaderFor(concurrentTxFactory ConcurrentTxFactory) Loader {
	return func(ctx context.Context, tx adapter.Tx, jobID int64) (WorkItem, error) {
		row := tx.QueryRow(ctx, `SELECT WORK_ID, JOB_ID, A, B, DELETE_ON_LOAD FROM DUMMY_WORK WHERE JOB_ID = $1`, jobID)
		var workID, gotJobID, a, b, deleteOnLoad int64
		if err := row.Scan(&workID, &gotJobID, &a, &b, &deleteOnLoad); err == sql.ErrNoRows {
			return nil, ErrWorkRowGone
		} else if err != nil {
			return nil, err
		}

		if deleteOnLoad != 0 {
			ctx2 := ctx
			tx2, err := concurrentTxFactory(ctx2)
			if err != nil {
				return nil, err
			}
			if _, err := tx2.Exec(ctx2, `DELETE FROM DUMMY_WORK WHERE JOB_ID = $1`, jobID); err != nil {
				return nil, err
			}
			if err := tx2.Commit(ctx2); err != nil {
				return nil, err
			}
			return nil, ErrWorkRowGone
		}

		return &DummyWorkItem{jobID: gotJobID, workID: workID, a: a, b: b}, nil
	}
}

func newDummyRegistry(concurrentTxFactory ConcurrentTxFactory) *Registry {
	r := NewRegistry()
	r.Register("DUMMY_WORK", WorkConfig{
		Factory: dummyWorkFactory,
		Loader:  dummyWorkLoaderFor(concurrentTxFactory),
	})
	return r
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func toNullTime(v interface{}) sql.NullTime {
	switch x := v.(type) {
	case time.Time:
		return sql.NullTime{Time: x, Valid: true}
	case sql.NullTime:
		return x
	default:
		return sql.NullTime{}
	}
}
